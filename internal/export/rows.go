package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/formreg/internal/form"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Collect after Close.
var ErrClosed = errors.New("export: rows closed")

// Source is the read side of storage the generator needs.
type Source interface {
	// ListTargetedSubjects returns the subjects schemaID is addressed to, in
	// export order.
	ListTargetedSubjects(ctx context.Context, schemaID uuid.UUID) ([]form.Subject, error)
	// SubmissionFor returns the subject's submission, or nil if it has none.
	SubmissionFor(ctx context.Context, subjectID, schemaID uuid.UUID) (*form.SubmissionRecord, error)
}

// Table is an export: a header and its lazily produced rows.
type Table struct {
	Header []string
	Rows   *Rows
}

// Generate resolves the targeted subjects of schema and returns the export
// table. Submissions are fetched one subject at a time as rows are consumed.
func Generate(ctx context.Context, schema *form.FormSchema, src Source) (*Table, error) {
	subjects, err := src.ListTargetedSubjects(ctx, schema.ID)
	if err != nil {
		return nil, fmt.Errorf("list targeted subjects: %w", err)
	}
	return &Table{
		Header: Header(schema),
		Rows:   newRows(schema, src, subjects),
	}, nil
}

// Rows is a single-pass iterator over export rows. It is not safe for
// concurrent use and cannot be restarted.
type Rows struct {
	schema   *form.FormSchema
	src      Source
	subjects []form.Subject

	next   int
	row    []string
	err    error
	closed bool
}

func newRows(schema *form.FormSchema, src Source, subjects []form.Subject) *Rows {
	return &Rows{schema: schema, src: src, subjects: subjects}
}

// Len returns the total number of rows the iterator yields.
func (r *Rows) Len() int { return len(r.subjects) }

// Next fetches the next row. It returns false when the rows are exhausted,
// closed, or a fetch failed; check Err to tell them apart.
func (r *Rows) Next(ctx context.Context) bool {
	if r.closed || r.err != nil || r.next >= len(r.subjects) {
		r.row = nil
		return false
	}
	if err := ctx.Err(); err != nil {
		r.err = err
		r.row = nil
		return false
	}

	i := r.next
	r.next++
	row, err := r.fetch(ctx, i)
	if err != nil {
		r.err = err
		r.row = nil
		return false
	}
	r.row = row
	return true
}

// Row returns the row produced by the last successful Next.
func (r *Rows) Row() []string { return r.row }

// Err returns the first error encountered.
func (r *Rows) Err() error { return r.err }

// Close stops iteration. Later calls to Next return false.
func (r *Rows) Close() {
	r.closed = true
	r.row = nil
}

// Collect fetches every remaining row, up to parallelism at a time, and
// returns them in order. The iterator is exhausted afterwards.
func (r *Rows) Collect(ctx context.Context, parallelism int) ([][]string, error) {
	return r.CollectN(ctx, parallelism, 0)
}

// CollectN is Collect capped at n rows; n <= 0 means no cap. Rows past the
// cap are left for Next.
func (r *Rows) CollectN(ctx context.Context, parallelism, n int) ([][]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.closed {
		return nil, ErrClosed
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	start, end := r.next, len(r.subjects)
	if n > 0 && start+n < end {
		end = start + n
	}
	out := make([][]string, end-start)
	r.next = end
	r.row = nil

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := start; i < end; i++ {
		g.Go(func() error {
			row, err := r.fetch(gctx, i)
			if err != nil {
				return err
			}
			out[i-start] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.err = err
		return nil, err
	}
	return out, nil
}

func (r *Rows) fetch(ctx context.Context, i int) ([]string, error) {
	subject := r.subjects[i]
	rec, err := r.src.SubmissionFor(ctx, subject.ID, r.schema.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch submission for subject %s: %w", subject.ID, err)
	}
	return Row(r.schema, i+1, subject, rec), nil
}
