package form

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kinds and answers travel as {"type": "<tag>", ...} objects.

type fieldJSON struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required"`
	Kind        json.RawMessage `json:"kind"`
}

// MarshalJSON implements json.Marshaler.
func (f FieldDefinition) MarshalJSON() ([]byte, error) {
	kind, err := MarshalKind(f.Kind)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fieldJSON{
		ID:          f.ID,
		Name:        f.Name,
		Description: f.Description,
		Required:    f.Required,
		Kind:        kind,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FieldDefinition) UnmarshalJSON(data []byte) error {
	var raw fieldJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, err := UnmarshalKind(raw.Kind)
	if err != nil {
		return fmt.Errorf("field %s: %w", raw.ID, err)
	}
	*f = FieldDefinition{
		ID:          raw.ID,
		Name:        raw.Name,
		Description: raw.Description,
		Required:    raw.Required,
		Kind:        kind,
	}
	return nil
}

type typeTag struct {
	Type KindTag `json:"type"`
}

// MarshalKind encodes k with its type tag.
func MarshalKind(k Kind) ([]byte, error) {
	switch k := k.(type) {
	case TextKind:
		return json.Marshal(struct {
			typeTag
			TextKind
		}{typeTag{KindText}, k})
	case NumberKind:
		return json.Marshal(struct {
			typeTag
			NumberKind
		}{typeTag{KindNumber}, k})
	case SingleChoiceKind:
		return json.Marshal(struct {
			typeTag
			SingleChoiceKind
		}{typeTag{KindSingleChoice}, k})
	case MultiChoiceKind:
		return json.Marshal(struct {
			typeTag
			MultiChoiceKind
		}{typeTag{KindMultiChoice}, k})
	case FileUploadKind:
		return json.Marshal(struct {
			typeTag
			FileUploadKind
		}{typeTag{KindFileUpload}, k})
	default:
		return nil, fmt.Errorf("unknown field kind %T", k)
	}
}

// UnmarshalKind decodes a tagged kind object.
func UnmarshalKind(data []byte) (Kind, error) {
	var tag typeTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, err
	}
	switch tag.Type {
	case KindText:
		var k TextKind
		err := json.Unmarshal(data, &k)
		return k, err
	case KindNumber:
		var k NumberKind
		err := json.Unmarshal(data, &k)
		return k, err
	case KindSingleChoice:
		var k SingleChoiceKind
		err := json.Unmarshal(data, &k)
		return k, err
	case KindMultiChoice:
		var k MultiChoiceKind
		err := json.Unmarshal(data, &k)
		return k, err
	case KindFileUpload:
		var k FileUploadKind
		err := json.Unmarshal(data, &k)
		return k, err
	default:
		return nil, fmt.Errorf("unknown field kind %q", tag.Type)
	}
}

type valueJSON struct {
	FieldID uuid.UUID       `json:"fieldId"`
	Type    KindTag         `json:"type"`
	Value   json.RawMessage `json:"value"`
}

// MarshalJSON implements json.Marshaler.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	if v.Answer == nil {
		return nil, fmt.Errorf("field %s: missing answer", v.FieldID)
	}
	var payload any
	switch a := v.Answer.(type) {
	case TextAnswer:
		payload = string(a)
	case NumberAnswer:
		payload = int64(a)
	case SingleChoiceAnswer:
		payload = string(a)
	case MultiChoiceAnswer:
		payload = []string(a)
	case FileUploadAnswer:
		payload = []uuid.UUID(a)
	default:
		return nil, fmt.Errorf("unknown answer type %T", a)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{FieldID: v.FieldID, Type: v.Answer.Tag(), Value: raw})
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var raw valueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var (
		answer Answer
		err    error
	)
	switch raw.Type {
	case KindText:
		var s string
		err = json.Unmarshal(raw.Value, &s)
		answer = TextAnswer(s)
	case KindNumber:
		var n int64
		err = json.Unmarshal(raw.Value, &n)
		answer = NumberAnswer(n)
	case KindSingleChoice:
		var s string
		err = json.Unmarshal(raw.Value, &s)
		answer = SingleChoiceAnswer(s)
	case KindMultiChoice:
		var ss []string
		err = json.Unmarshal(raw.Value, &ss)
		answer = MultiChoiceAnswer(ss)
	case KindFileUpload:
		var ids []uuid.UUID
		err = json.Unmarshal(raw.Value, &ids)
		answer = FileUploadAnswer(ids)
	default:
		return fmt.Errorf("field %s: unknown answer type %q", raw.FieldID, raw.Type)
	}
	if err != nil {
		return fmt.Errorf("field %s: %w", raw.FieldID, err)
	}
	*v = FieldValue{FieldID: raw.FieldID, Answer: answer}
	return nil
}
