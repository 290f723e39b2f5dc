// Package templates holds the HTML fragments served by the web layer.
package templates

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"
)

// ErrorAlert renders an error box for HTMX swaps and full pages alike.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<div class="alert alert-error" role="alert"><p class="alert-message">%s</p>`,
			templ.EscapeString(message))
		if err != nil {
			return err
		}
		if action != "" {
			if _, err := fmt.Fprintf(w, `<p class="alert-action">%s</p>`, templ.EscapeString(action)); err != nil {
				return err
			}
		}
		_, err = fmt.Fprintf(w, `<p class="alert-code">Code: %s</p></div>`, templ.EscapeString(code))
		return err
	})
}

// ExportPreview is the data behind the export preview page.
type ExportPreview struct {
	Title   string
	Header  []string
	Rows    [][]string
	Total   int
	CSVPath string
}

// Truncated reports whether fewer rows are shown than exist.
func (p ExportPreview) Truncated() bool {
	return len(p.Rows) < p.Total
}

// ExportPreviewPage renders the first rows of an export as an HTML table
// with a link to the full CSV.
func ExportPreviewPage(p ExportPreview) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		ew := &errWriter{w: w}
		ew.printf(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>%s - export</title></head><body>`,
			templ.EscapeString(p.Title))
		ew.printf(`<h1>%s</h1>`, templ.EscapeString(p.Title))
		ew.printf(`<p class="export-summary">%s of %s subjects shown. <a href="%s">Download CSV</a></p>`,
			strconv.Itoa(len(p.Rows)), strconv.Itoa(p.Total), templ.EscapeString(p.CSVPath))

		ew.printf(`<table class="export"><thead><tr>`)
		for _, h := range p.Header {
			ew.printf(`<th>%s</th>`, templ.EscapeString(h))
		}
		ew.printf(`</tr></thead><tbody>`)
		for _, row := range p.Rows {
			ew.printf(`<tr>`)
			for _, cell := range row {
				ew.printf(`<td>%s</td>`, templ.EscapeString(cell))
			}
			ew.printf(`</tr>`)
		}
		ew.printf(`</tbody></table>`)
		if p.Truncated() {
			ew.printf(`<p class="export-truncated">Preview truncated. Download the CSV for every row.</p>`)
		}
		ew.printf(`</body></html>`)
		return ew.err
	})
}

// errWriter keeps the first write error so rendering reads top to bottom.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
