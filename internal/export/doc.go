// Package export flattens every submission addressed to a form schema into a
// table with a stable column layout.
//
// The header is four subject columns followed by one column per field, except
// multi-choice fields which expand into one column per declared option:
//
//	#, Subject, Group, Submitted At, Name, Color Red, Color Blue
//
// Rows are produced lazily, one per subject the schema targets, whether or
// not the subject has submitted. A subject without a submission yields blank
// field cells. The column order and cell rendering are a byte-exact contract
// for serializers built on top; reordering or relabeling is a breaking change.
package export
