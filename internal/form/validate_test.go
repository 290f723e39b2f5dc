package form

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSchema(t *testing.T, fields ...FieldDefinition) *FormSchema {
	t.Helper()
	s, err := NewFormSchema(uuid.New(), "Registration", "", time.Time{}, time.Time{}, fields...)
	require.NoError(t, err)
	return s
}

func requireCode(t *testing.T, err error, code error, fieldID uuid.UUID) *ValidationError {
	t.Helper()
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "want *ValidationError, got %T", err)
	assert.ErrorIs(t, err, code)
	assert.Equal(t, fieldID, verr.FieldID)
	return verr
}

func TestValidate_MissingRequiredFieldStopsAtFirst(t *testing.T) {
	name := NewFieldDefinition("Name", true, TextKind{})
	age := NewFieldDefinition("Age", true, NumberKind{Min: Int64(18)})
	schema := mustSchema(t, name, age)

	// Age is also invalid, but Name comes first in schema order.
	values := []FieldValue{{FieldID: age.ID, Answer: NumberAnswer(3)}}

	requireCode(t, Validate(schema, values), ErrMissingField, name.ID)
}

func TestValidate_OptionalMissingIsSkipped(t *testing.T) {
	nick := NewFieldDefinition("Nickname", false, TextKind{MinLength: Int(3)})
	schema := mustSchema(t, nick)

	assert.NoError(t, Validate(schema, nil))
}

func TestValidate_KindMismatch(t *testing.T) {
	age := NewFieldDefinition("Age", true, NumberKind{})
	schema := mustSchema(t, age)

	err := Validate(schema, []FieldValue{{FieldID: age.ID, Answer: TextAnswer("42")}})
	requireCode(t, err, ErrInvalidKind, age.ID)
}

func TestValidate_UnknownFieldIDsAreIgnored(t *testing.T) {
	name := NewFieldDefinition("Name", true, TextKind{})
	schema := mustSchema(t, name)

	values := []FieldValue{
		{FieldID: uuid.New(), Answer: NumberAnswer(1)},
		{FieldID: name.ID, Answer: TextAnswer("Team Rocket")},
	}
	assert.NoError(t, Validate(schema, values))
}

func TestValidate_TextGraphemes(t *testing.T) {
	one := NewFieldDefinition("Initial", true, TextKind{MinLength: Int(1), MaxLength: Int(1)})
	schema := mustSchema(t, one)

	tests := []struct {
		name  string
		value string
		code  error
	}{
		{"precomposed e-acute", "\u00e9", nil},
		{"e plus combining acute", "e\u0301", nil},
		{"flag emoji", "\U0001F1EF\U0001F1F5", nil},
		{"family emoji zwj sequence", "\U0001F468\u200d\U0001F469\u200d\U0001F467", nil},
		{"two ascii letters", "ab", ErrTooLong},
		{"empty", "", ErrTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(schema, []FieldValue{{FieldID: one.ID, Answer: TextAnswer(tt.value)}})
			if tt.code == nil {
				assert.NoError(t, err)
				return
			}
			verr := requireCode(t, err, tt.code, one.ID)
			assert.Equal(t, int64(1), verr.Bound)
		})
	}
}

func TestValidate_TextNewlines(t *testing.T) {
	single := NewFieldDefinition("Title", true, TextKind{})
	multi := NewFieldDefinition("Abstract", false, TextKind{AllowNewline: true})
	schema := mustSchema(t, single, multi)

	for _, v := range []string{"a\nb", "a\r\nb", "a\u2028b"} {
		err := Validate(schema, []FieldValue{{FieldID: single.ID, Answer: TextAnswer(v)}})
		requireCode(t, err, ErrNewlineNotAllowed, single.ID)
	}

	err := Validate(schema, []FieldValue{
		{FieldID: single.ID, Answer: TextAnswer("Hello")},
		{FieldID: multi.ID, Answer: TextAnswer("line one\nline two")},
	})
	assert.NoError(t, err)
}

func TestValidate_TextLengthCheckedBeforeNewline(t *testing.T) {
	f := NewFieldDefinition("Code", true, TextKind{MaxLength: Int(2)})
	schema := mustSchema(t, f)

	err := Validate(schema, []FieldValue{{FieldID: f.ID, Answer: TextAnswer("a\nbc")}})
	requireCode(t, err, ErrTooLong, f.ID)
}

func TestValidate_NumberBounds(t *testing.T) {
	f := NewFieldDefinition("Members", true, NumberKind{Min: Int64(1), Max: Int64(5)})
	onlyMax := NewFieldDefinition("Budget", false, NumberKind{Max: Int64(100)})
	schema := mustSchema(t, f, onlyMax)

	tests := []struct {
		value int64
		code  error
		bound int64
	}{
		{0, ErrTooSmall, 1},
		{1, nil, 0},
		{5, nil, 0},
		{6, ErrTooLarge, 5},
	}
	for _, tt := range tests {
		err := Validate(schema, []FieldValue{{FieldID: f.ID, Answer: NumberAnswer(tt.value)}})
		if tt.code == nil {
			assert.NoError(t, err, "value %d", tt.value)
			continue
		}
		verr := requireCode(t, err, tt.code, f.ID)
		assert.Equal(t, tt.bound, verr.Bound)
	}

	// Absent min is not checked.
	err := Validate(schema, []FieldValue{
		{FieldID: f.ID, Answer: NumberAnswer(3)},
		{FieldID: onlyMax.ID, Answer: NumberAnswer(-1000)},
	})
	assert.NoError(t, err)
}

func TestValidate_SingleChoice(t *testing.T) {
	f := NewFieldDefinition("Track", true, SingleChoiceKind{Options: []string{"Web", "Mobile"}})
	schema := mustSchema(t, f)

	assert.NoError(t, Validate(schema, []FieldValue{{FieldID: f.ID, Answer: SingleChoiceAnswer("Web")}}))

	err := Validate(schema, []FieldValue{{FieldID: f.ID, Answer: SingleChoiceAnswer("web")}})
	verr := requireCode(t, err, ErrInvalidOption, f.ID)
	assert.Equal(t, "web", verr.Value)
}

func TestValidate_MultiChoiceCardinality(t *testing.T) {
	f := NewFieldDefinition("Colors", true, MultiChoiceKind{
		Options:      []string{"A", "B", "C"},
		MinSelection: Int(2),
		MaxSelection: Int(2),
	})
	schema := mustSchema(t, f)

	tests := []struct {
		name     string
		selected []string
		code     error
		value    string
	}{
		{"too few", []string{"A"}, ErrTooFewOptions, ""},
		{"too many", []string{"A", "B", "C"}, ErrTooManyOptions, ""},
		{"unknown option", []string{"A", "D"}, ErrInvalidOption, "D"},
		{"first unknown wins", []string{"X", "B", "Y"}, ErrInvalidOption, "X"},
		{"unknown beats cardinality", []string{"A", "B", "C", "Z"}, ErrInvalidOption, "Z"},
		{"exact", []string{"A", "B"}, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(schema, []FieldValue{{FieldID: f.ID, Answer: MultiChoiceAnswer(tt.selected)}})
			if tt.code == nil {
				assert.NoError(t, err)
				return
			}
			verr := requireCode(t, err, tt.code, f.ID)
			assert.Equal(t, tt.value, verr.Value)
		})
	}
}

func TestValidate_FileUploadCount(t *testing.T) {
	f := NewFieldDefinition("Slides", false, FileUploadKind{AllowedExtensions: []string{".pdf"}, MaxCount: Int(1)})
	schema := mustSchema(t, f)

	// Extensions are not checked here.
	assert.NoError(t, Validate(schema, []FieldValue{{FieldID: f.ID, Answer: FileUploadAnswer{uuid.New()}}}))

	err := Validate(schema, []FieldValue{{FieldID: f.ID, Answer: FileUploadAnswer{uuid.New(), uuid.New()}}})
	verr := requireCode(t, err, ErrTooManyFiles, f.ID)
	assert.Equal(t, int64(1), verr.Bound)
}

func TestValidate_ConcurrentCallsAgree(t *testing.T) {
	f := NewFieldDefinition("Name", true, TextKind{MaxLength: Int(4)})
	schema := mustSchema(t, f)
	values := []FieldValue{{FieldID: f.ID, Answer: TextAnswer("toolong")}}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.ErrorIs(t, Validate(schema, values), ErrTooLong)
		}()
	}
	wg.Wait()
}

func TestNewFormSchema_DuplicateFieldIDs(t *testing.T) {
	f := NewFieldDefinition("Name", true, TextKind{})
	_, err := NewFormSchema(uuid.New(), "x", "", time.Time{}, time.Time{}, f, f)
	assert.ErrorIs(t, err, ErrDuplicateField)
}

func TestValidationError_Message(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	assert.Equal(t,
		"field 00000000-0000-0000-0000-000000000001: too_long (bound 3)",
		(&ValidationError{Code: ErrTooLong, FieldID: id, Bound: 3}).Error())
	assert.Equal(t,
		`field 00000000-0000-0000-0000-000000000001: invalid_option "D"`,
		(&ValidationError{Code: ErrInvalidOption, FieldID: id, Value: "D"}).Error())
	assert.Equal(t,
		"field 00000000-0000-0000-0000-000000000001: missing_field",
		(&ValidationError{Code: ErrMissingField, FieldID: id}).Error())
}
