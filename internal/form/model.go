package form

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateField is returned when a schema declares the same field id twice.
var ErrDuplicateField = errors.New("duplicate field id")

// FormSchema is an ordered questionnaire. Field order drives both the order
// in which submissions are checked and the export column layout.
type FormSchema struct {
	ID          uuid.UUID         `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	OpensAt     time.Time         `json:"opensAt"`
	ClosesAt    time.Time         `json:"closesAt"`
	Targets     Targets           `json:"targets"`
	Fields      []FieldDefinition `json:"fields"`
}

// Targets describes which subjects a schema is addressed to. A subject is
// targeted when its group is listed in Groups or its id is listed in
// Subjects. An empty Targets addresses every subject.
type Targets struct {
	Groups   []string    `json:"groups,omitempty"`
	Subjects []uuid.UUID `json:"subjects,omitempty"`
}

// Matches reports whether a subject with the given id and group is targeted.
func (t Targets) Matches(subjectID uuid.UUID, group string) bool {
	if len(t.Groups) == 0 && len(t.Subjects) == 0 {
		return true
	}
	for _, g := range t.Groups {
		if g == group {
			return true
		}
	}
	for _, id := range t.Subjects {
		if id == subjectID {
			return true
		}
	}
	return false
}

// NewFormSchema builds a schema and enforces field-id uniqueness.
func NewFormSchema(id uuid.UUID, title, description string, opensAt, closesAt time.Time, fields ...FieldDefinition) (*FormSchema, error) {
	s := &FormSchema{
		ID:          id,
		Title:       title,
		Description: description,
		OpensAt:     opensAt,
		ClosesAt:    closesAt,
		Fields:      fields,
	}
	if err := s.CheckFieldIDs(); err != nil {
		return nil, err
	}
	return s, nil
}

// CheckFieldIDs returns ErrDuplicateField if two fields share an id.
func (s *FormSchema) CheckFieldIDs() error {
	seen := make(map[uuid.UUID]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if _, ok := seen[f.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateField, f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}

// Field returns the field definition with the given id.
func (s *FormSchema) Field(id uuid.UUID) (FieldDefinition, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// IsClosed reports whether the accept window has ended at t. A zero
// ClosesAt means the schema never closes.
func (s *FormSchema) IsClosed(t time.Time) bool {
	return !s.ClosesAt.IsZero() && t.After(s.ClosesAt)
}

// Subject is the entity (team, project) on whose behalf submissions are
// made. Group is the attribute schemas target.
type Subject struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
	Group string    `json:"group"`
}

// FieldDefinition is one typed question within a schema.
type FieldDefinition struct {
	ID          uuid.UUID
	Name        string
	Description string
	Required    bool
	Kind        Kind
}

// NewFieldDefinition builds a field definition with a fresh id.
func NewFieldDefinition(name string, required bool, kind Kind) FieldDefinition {
	return FieldDefinition{
		ID:       uuid.New(),
		Name:     name,
		Required: required,
		Kind:     kind,
	}
}

// SubmissionRecord is one subject's complete set of answers to a schema.
type SubmissionRecord struct {
	ID        uuid.UUID    `json:"id"`
	SubjectID uuid.UUID    `json:"subjectId"`
	SchemaID  uuid.UUID    `json:"schemaId"`
	Values    []FieldValue `json:"values"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Value returns the answer given for fieldID, if any.
func (r *SubmissionRecord) Value(fieldID uuid.UUID) (Answer, bool) {
	return Lookup(r.Values, fieldID)
}

// FieldValue is a single answer within a submission.
type FieldValue struct {
	FieldID uuid.UUID
	Answer  Answer
}

// Lookup finds the answer for fieldID with a linear scan. The first match
// wins when a field id appears more than once.
func Lookup(values []FieldValue, fieldID uuid.UUID) (Answer, bool) {
	for _, v := range values {
		if v.FieldID == fieldID {
			return v.Answer, true
		}
	}
	return nil, false
}

// FileIDs collects every file id referenced by FileUpload answers, in order.
func FileIDs(values []FieldValue) []uuid.UUID {
	var ids []uuid.UUID
	for _, v := range values {
		if a, ok := v.Answer.(FileUploadAnswer); ok {
			ids = append(ids, a...)
		}
	}
	return ids
}
