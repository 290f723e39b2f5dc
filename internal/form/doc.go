// Package form defines registration form schemas, the submissions made
// against them, and the validation rules that tie the two together.
//
// # Field kinds
//
// A [FieldDefinition] carries exactly one [Kind]:
//
//   - [TextKind]: free text, measured in grapheme clusters
//   - [NumberKind]: integer answers with optional bounds
//   - [SingleChoiceKind]: one value out of a declared option list
//   - [MultiChoiceKind]: any subset of a declared option list
//   - [FileUploadKind]: references to previously uploaded files
//
// Answers mirror the kinds: a [FieldValue] holds an [Answer] of the matching
// variant. Both Kind and Answer are sealed interfaces, so the set of variants
// is fixed to this package and every consumer switches over them explicitly.
//
// # Validation
//
// [Validate] checks a submission against its schema field by field, in schema
// order, and stops at the first violation:
//
//	if err := form.Validate(schema, values); err != nil {
//	    var verr *form.ValidationError
//	    if errors.As(err, &verr) {
//	        log.Printf("field %s: %s", verr.FieldID, verr.Code)
//	    }
//	}
//
// Validate has no side effects and is safe for concurrent use.
package form
