package export

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/formreg/internal/form"
	"github.com/google/uuid"
)

// FileDelimiter joins the file ids of a file-upload cell.
const FileDelimiter = ";"

// SubjectColumns are the leading columns of every export.
var SubjectColumns = []string{"#", "Subject", "Group", "Submitted At"}

// Header returns the column labels for schema.
func Header(schema *form.FormSchema) []string {
	header := make([]string, 0, len(SubjectColumns)+len(schema.Fields))
	header = append(header, SubjectColumns...)
	for _, f := range schema.Fields {
		header = append(header, fieldLabels(f)...)
	}
	return header
}

func fieldLabels(f form.FieldDefinition) []string {
	switch k := f.Kind.(type) {
	case form.MultiChoiceKind:
		labels := make([]string, len(k.Options))
		for i, opt := range k.Options {
			labels[i] = f.Name + " " + opt
		}
		return labels
	case form.TextKind, form.NumberKind, form.SingleChoiceKind, form.FileUploadKind:
		return []string{f.Name}
	default:
		panic(fmt.Sprintf("export: unhandled field kind %T", f.Kind))
	}
}

// Row renders the row for subject at 1-based ordinal. rec may be nil.
func Row(schema *form.FormSchema, ordinal int, subject form.Subject, rec *form.SubmissionRecord) []string {
	row := make([]string, 0, len(SubjectColumns)+len(schema.Fields))
	submittedAt := ""
	if rec != nil {
		submittedAt = rec.UpdatedAt.UTC().Format(time.RFC3339)
	}
	row = append(row, strconv.Itoa(ordinal), subject.Title, subject.Group, submittedAt)

	for _, f := range schema.Fields {
		var answer form.Answer
		if rec != nil {
			answer, _ = form.Lookup(rec.Values, f.ID)
		}
		row = append(row, fieldCells(f, answer)...)
	}
	return row
}

// fieldCells renders one field. A nil answer, or one whose tag disagrees with
// the field kind, renders as blanks.
func fieldCells(f form.FieldDefinition, answer form.Answer) []string {
	switch k := f.Kind.(type) {
	case form.TextKind:
		a, _ := answer.(form.TextAnswer)
		return []string{string(a)}
	case form.NumberKind:
		a, ok := answer.(form.NumberAnswer)
		if !ok {
			return []string{""}
		}
		return []string{strconv.FormatInt(int64(a), 10)}
	case form.SingleChoiceKind:
		a, _ := answer.(form.SingleChoiceAnswer)
		return []string{string(a)}
	case form.MultiChoiceKind:
		cells := make([]string, len(k.Options))
		a, ok := answer.(form.MultiChoiceAnswer)
		if !ok {
			return cells
		}
		for i, opt := range k.Options {
			cells[i] = strconv.FormatBool(slices.Contains(a, opt))
		}
		return cells
	case form.FileUploadKind:
		a, _ := answer.(form.FileUploadAnswer)
		return []string{joinFileIDs(a)}
	default:
		panic(fmt.Sprintf("export: unhandled field kind %T", f.Kind))
	}
}

func joinFileIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, FileDelimiter)
}
