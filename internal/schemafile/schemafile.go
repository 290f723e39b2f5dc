// Package schemafile reads form schemas and subjects from YAML fixture
// files, the input of "formctl seed".
//
//	subjects:
//	  - id: 5d0c1c9e-4a47-4d7e-9d37-2a3c1f1b6a10
//	    title: Team One
//	    group: junior
//	schemas:
//	  - id: 0f8fad5b-d9cb-469f-a165-70867728950e
//	    title: Spring registration
//	    closes_at: 2026-04-01T00:00:00Z
//	    targets: {groups: [junior]}
//	    fields:
//	      - name: Team name
//	        type: text
//	        required: true
//	        max_length: 40
//	      - name: Color
//	        type: multi_choice
//	        options: [Red, Blue]
//	        max_selection: 1
//
// A field without an id gets one derived from the schema id and the field
// name, so re-seeding the same file yields the same ids.
package schemafile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/JonMunkholm/formreg/internal/form"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// File is the decoded content of a fixture file.
type File struct {
	Subjects []form.Subject
	Schemas  []*form.FormSchema
	// Files lists uploaded file ids to register as existing.
	Files []uuid.UUID
}

type fileDoc struct {
	Subjects []subjectDoc `yaml:"subjects"`
	Schemas  []schemaDoc  `yaml:"schemas"`
	Files    []uuid.UUID  `yaml:"files"`
}

type subjectDoc struct {
	ID    uuid.UUID `yaml:"id"`
	Title string    `yaml:"title"`
	Group string    `yaml:"group"`
}

type schemaDoc struct {
	ID          uuid.UUID  `yaml:"id"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	OpensAt     time.Time  `yaml:"opens_at"`
	ClosesAt    time.Time  `yaml:"closes_at"`
	Targets     targetsDoc `yaml:"targets"`
	Fields      []fieldDoc `yaml:"fields"`
}

type targetsDoc struct {
	Groups   []string    `yaml:"groups"`
	Subjects []uuid.UUID `yaml:"subjects"`
}

type fieldDoc struct {
	ID          uuid.UUID    `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Required    bool         `yaml:"required"`
	Type        form.KindTag `yaml:"type"`

	MinLength    *int     `yaml:"min_length"`
	MaxLength    *int     `yaml:"max_length"`
	AllowNewline bool     `yaml:"allow_newline"`
	Min          *int64   `yaml:"min"`
	Max          *int64   `yaml:"max"`
	Options      []string `yaml:"options"`
	MinSelection *int     `yaml:"min_selection"`
	MaxSelection *int     `yaml:"max_selection"`
	Extensions   []string `yaml:"allowed_extensions"`
	MaxCount     *int     `yaml:"max_count"`
}

// LoadFile reads the fixture at path.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// Load decodes a fixture. Unknown keys are errors.
func Load(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc fileDoc
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	out := &File{Files: doc.Files}
	for i, s := range doc.Subjects {
		if s.ID == uuid.Nil {
			return nil, fmt.Errorf("subjects[%d]: id is required", i)
		}
		out.Subjects = append(out.Subjects, form.Subject{ID: s.ID, Title: s.Title, Group: s.Group})
	}
	for i, s := range doc.Schemas {
		schema, err := s.build()
		if err != nil {
			return nil, fmt.Errorf("schemas[%d]: %w", i, err)
		}
		out.Schemas = append(out.Schemas, schema)
	}
	return out, nil
}

func (d schemaDoc) build() (*form.FormSchema, error) {
	if d.ID == uuid.Nil {
		return nil, errors.New("id is required")
	}
	if d.Title == "" {
		return nil, errors.New("title is required")
	}

	fields := make([]form.FieldDefinition, 0, len(d.Fields))
	for i, fd := range d.Fields {
		kind, err := fd.kind()
		if err != nil {
			return nil, fmt.Errorf("fields[%d] %q: %w", i, fd.Name, err)
		}
		id := fd.ID
		if id == uuid.Nil {
			id = uuid.NewSHA1(d.ID, []byte(fd.Name))
		}
		fields = append(fields, form.FieldDefinition{
			ID:          id,
			Name:        fd.Name,
			Description: fd.Description,
			Required:    fd.Required,
			Kind:        kind,
		})
	}

	schema, err := form.NewFormSchema(d.ID, d.Title, d.Description, d.OpensAt, d.ClosesAt, fields...)
	if err != nil {
		return nil, err
	}
	schema.Targets = form.Targets{Groups: d.Targets.Groups, Subjects: d.Targets.Subjects}
	return schema, nil
}

// kind builds the field's kind and rejects bounds that do not belong to it.
func (f fieldDoc) kind() (form.Kind, error) {
	if f.Name == "" {
		return nil, errors.New("name is required")
	}

	// Checked in this fixed order so the same key is reported on every run.
	set := []struct {
		key     string
		present bool
	}{
		{"min_length", f.MinLength != nil},
		{"max_length", f.MaxLength != nil},
		{"allow_newline", f.AllowNewline},
		{"min", f.Min != nil},
		{"max", f.Max != nil},
		{"options", f.Options != nil},
		{"min_selection", f.MinSelection != nil},
		{"max_selection", f.MaxSelection != nil},
		{"allowed_extensions", f.Extensions != nil},
		{"max_count", f.MaxCount != nil},
	}
	allow := func(keys ...string) error {
		for _, s := range set {
			if s.present && !slices.Contains(keys, s.key) {
				return fmt.Errorf("%s is not valid for type %s", s.key, f.Type)
			}
		}
		return nil
	}

	var (
		kind form.Kind
		err  error
	)
	switch f.Type {
	case form.KindText:
		err = allow("min_length", "max_length", "allow_newline")
		kind = form.TextKind{MinLength: f.MinLength, MaxLength: f.MaxLength, AllowNewline: f.AllowNewline}
	case form.KindNumber:
		err = allow("min", "max")
		kind = form.NumberKind{Min: f.Min, Max: f.Max}
	case form.KindSingleChoice:
		err = allow("options")
		kind = form.SingleChoiceKind{Options: f.Options}
	case form.KindMultiChoice:
		err = allow("options", "min_selection", "max_selection")
		kind = form.MultiChoiceKind{Options: f.Options, MinSelection: f.MinSelection, MaxSelection: f.MaxSelection}
	case form.KindFileUpload:
		err = allow("allowed_extensions", "max_count")
		kind = form.FileUploadKind{AllowedExtensions: f.Extensions, MaxCount: f.MaxCount}
	case "":
		return nil, errors.New("type is required")
	default:
		return nil, fmt.Errorf("unknown type %q", f.Type)
	}
	if err != nil {
		return nil, err
	}
	return kind, nil
}
