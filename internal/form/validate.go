package form

// validate.go checks a submission's answers against its schema.
//
// Fields are visited in schema order and the first violation is returned.
// Answers whose field id is not part of the schema are ignored.

import (
	"fmt"
	"strings"

	"github.com/rivo/uniseg"
)

// lineBreaks lists the characters treated as a line break in text answers.
const lineBreaks = "\n\r\v\f\u0085\u2028\u2029"

// Validate returns nil if values satisfy every field of schema, or a
// *ValidationError describing the first violation.
func Validate(schema *FormSchema, values []FieldValue) error {
	for _, field := range schema.Fields {
		answer, ok := Lookup(values, field.ID)
		if !ok {
			if field.Required {
				return fieldErr(ErrMissingField, field.ID)
			}
			continue
		}
		if err := checkField(field, answer); err != nil {
			return err
		}
	}
	return nil
}

func checkField(field FieldDefinition, answer Answer) error {
	if answer == nil || field.Kind == nil || answer.Tag() != field.Kind.Tag() {
		return fieldErr(ErrInvalidKind, field.ID)
	}

	switch kind := field.Kind.(type) {
	case TextKind:
		return checkText(field, kind, string(answer.(TextAnswer)))
	case NumberKind:
		return checkNumber(field, kind, int64(answer.(NumberAnswer)))
	case SingleChoiceKind:
		v := string(answer.(SingleChoiceAnswer))
		if !kind.HasOption(v) {
			return optionErr(field.ID, v)
		}
		return nil
	case MultiChoiceKind:
		return checkMultiChoice(field, kind, answer.(MultiChoiceAnswer))
	case FileUploadKind:
		n := len(answer.(FileUploadAnswer))
		if kind.MaxCount != nil && n > *kind.MaxCount {
			return boundErr(ErrTooManyFiles, field.ID, int64(*kind.MaxCount))
		}
		return nil
	default:
		panic(fmt.Sprintf("form: unhandled field kind %T", field.Kind))
	}
}

func checkText(field FieldDefinition, kind TextKind, s string) error {
	n := uniseg.GraphemeClusterCount(s)
	if kind.MinLength != nil && n < *kind.MinLength {
		return boundErr(ErrTooShort, field.ID, int64(*kind.MinLength))
	}
	if kind.MaxLength != nil && n > *kind.MaxLength {
		return boundErr(ErrTooLong, field.ID, int64(*kind.MaxLength))
	}
	if !kind.AllowNewline && strings.ContainsAny(s, lineBreaks) {
		return fieldErr(ErrNewlineNotAllowed, field.ID)
	}
	return nil
}

func checkNumber(field FieldDefinition, kind NumberKind, v int64) error {
	if kind.Min != nil && v < *kind.Min {
		return boundErr(ErrTooSmall, field.ID, *kind.Min)
	}
	if kind.Max != nil && v > *kind.Max {
		return boundErr(ErrTooLarge, field.ID, *kind.Max)
	}
	return nil
}

// checkMultiChoice reports the first unknown selection before looking at
// cardinality.
func checkMultiChoice(field FieldDefinition, kind MultiChoiceKind, selected MultiChoiceAnswer) error {
	for _, v := range selected {
		if !kind.HasOption(v) {
			return optionErr(field.ID, v)
		}
	}
	n := len(selected)
	if kind.MinSelection != nil && n < *kind.MinSelection {
		return boundErr(ErrTooFewOptions, field.ID, int64(*kind.MinSelection))
	}
	if kind.MaxSelection != nil && n > *kind.MaxSelection {
		return boundErr(ErrTooManyOptions, field.ID, int64(*kind.MaxSelection))
	}
	return nil
}
