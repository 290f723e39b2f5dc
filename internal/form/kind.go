package form

import (
	"slices"

	"github.com/google/uuid"
)

// KindTag names a field kind. It is the discriminator used in JSON and in
// error reports.
type KindTag string

const (
	KindText         KindTag = "text"
	KindNumber       KindTag = "number"
	KindSingleChoice KindTag = "single_choice"
	KindMultiChoice  KindTag = "multi_choice"
	KindFileUpload   KindTag = "file_upload"
)

// Valid reports whether t names a known kind.
func (t KindTag) Valid() bool {
	switch t {
	case KindText, KindNumber, KindSingleChoice, KindMultiChoice, KindFileUpload:
		return true
	}
	return false
}

// Kind is the closed set of field kinds. Only types in this package
// implement it.
type Kind interface {
	Tag() KindTag
	isKind()
}

// TextKind accepts free text. Lengths are counted in grapheme clusters.
type TextKind struct {
	MinLength    *int `json:"minLength,omitempty"`
	MaxLength    *int `json:"maxLength,omitempty"`
	AllowNewline bool `json:"allowNewline"`
}

// NumberKind accepts an integer.
type NumberKind struct {
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`
}

// SingleChoiceKind accepts exactly one of Options.
type SingleChoiceKind struct {
	Options []string `json:"options"`
}

// MultiChoiceKind accepts any subset of Options, optionally bounded in size.
type MultiChoiceKind struct {
	Options      []string `json:"options"`
	MinSelection *int     `json:"minSelection,omitempty"`
	MaxSelection *int     `json:"maxSelection,omitempty"`
}

// FileUploadKind accepts a list of uploaded file ids. AllowedExtensions is
// enforced by the upload endpoint, not by Validate.
type FileUploadKind struct {
	AllowedExtensions []string `json:"allowedExtensions,omitempty"`
	MaxCount          *int     `json:"maxCount,omitempty"`
}

func (TextKind) Tag() KindTag         { return KindText }
func (NumberKind) Tag() KindTag       { return KindNumber }
func (SingleChoiceKind) Tag() KindTag { return KindSingleChoice }
func (MultiChoiceKind) Tag() KindTag  { return KindMultiChoice }
func (FileUploadKind) Tag() KindTag   { return KindFileUpload }

func (TextKind) isKind()         {}
func (NumberKind) isKind()       {}
func (SingleChoiceKind) isKind() {}
func (MultiChoiceKind) isKind()  {}
func (FileUploadKind) isKind()   {}

// HasOption reports whether option is one of the declared options.
func (k SingleChoiceKind) HasOption(option string) bool {
	return slices.Contains(k.Options, option)
}

// HasOption reports whether option is one of the declared options.
func (k MultiChoiceKind) HasOption(option string) bool {
	return slices.Contains(k.Options, option)
}

// Answer is the closed set of answer variants. Each variant pairs with the
// Kind of the same tag.
type Answer interface {
	Tag() KindTag
	isAnswer()
}

type (
	TextAnswer         string
	NumberAnswer       int64
	SingleChoiceAnswer string
	MultiChoiceAnswer  []string
	FileUploadAnswer   []uuid.UUID
)

func (TextAnswer) Tag() KindTag         { return KindText }
func (NumberAnswer) Tag() KindTag       { return KindNumber }
func (SingleChoiceAnswer) Tag() KindTag { return KindSingleChoice }
func (MultiChoiceAnswer) Tag() KindTag  { return KindMultiChoice }
func (FileUploadAnswer) Tag() KindTag   { return KindFileUpload }

func (TextAnswer) isAnswer()         {}
func (NumberAnswer) isAnswer()       {}
func (SingleChoiceAnswer) isAnswer() {}
func (MultiChoiceAnswer) isAnswer()  {}
func (FileUploadAnswer) isAnswer()   {}

// Int returns a pointer to v, for populating optional int bounds.
func Int(v int) *int { return &v }

// Int64 returns a pointer to v, for populating optional number bounds.
func Int64(v int64) *int64 { return &v }
