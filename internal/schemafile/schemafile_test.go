package schemafile

import (
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/formreg/internal/form"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
subjects:
  - id: 5d0c1c9e-4a47-4d7e-9d37-2a3c1f1b6a10
    title: Team One
    group: junior
schemas:
  - id: 0f8fad5b-d9cb-469f-a165-70867728950e
    title: Spring registration
    closes_at: 2026-04-01T00:00:00Z
    targets:
      groups: [junior]
    fields:
      - name: Team name
        type: text
        required: true
        max_length: 40
      - id: 7c9e6679-7425-40de-944b-e07fc1f90ae7
        name: Color
        type: multi_choice
        options: [Red, Blue]
        max_selection: 1
      - name: Members
        type: number
        min: 1
      - name: Logo
        type: file_upload
        allowed_extensions: [png]
        max_count: 1
files:
  - 9b2d3c4e-0000-4000-8000-000000000001
`

func TestLoad(t *testing.T) {
	f, err := Load(strings.NewReader(fixture))
	require.NoError(t, err)

	require.Len(t, f.Subjects, 1)
	assert.Equal(t, form.Subject{
		ID:    uuid.MustParse("5d0c1c9e-4a47-4d7e-9d37-2a3c1f1b6a10"),
		Title: "Team One",
		Group: "junior",
	}, f.Subjects[0])
	assert.Equal(t, []uuid.UUID{uuid.MustParse("9b2d3c4e-0000-4000-8000-000000000001")}, f.Files)

	require.Len(t, f.Schemas, 1)
	s := f.Schemas[0]
	assert.Equal(t, "Spring registration", s.Title)
	assert.True(t, s.OpensAt.IsZero())
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), s.ClosesAt.UTC())
	assert.Equal(t, []string{"junior"}, s.Targets.Groups)

	require.Len(t, s.Fields, 4)
	assert.Equal(t, uuid.NewSHA1(s.ID, []byte("Team name")), s.Fields[0].ID)
	assert.Equal(t, form.TextKind{MaxLength: form.Int(40)}, s.Fields[0].Kind)
	assert.True(t, s.Fields[0].Required)

	assert.Equal(t, uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7"), s.Fields[1].ID)
	assert.Equal(t, form.MultiChoiceKind{Options: []string{"Red", "Blue"}, MaxSelection: form.Int(1)}, s.Fields[1].Kind)
	assert.Equal(t, form.NumberKind{Min: form.Int64(1)}, s.Fields[2].Kind)
	assert.Equal(t, form.FileUploadKind{AllowedExtensions: []string{"png"}, MaxCount: form.Int(1)}, s.Fields[3].Kind)
}

func TestLoad_StableFieldIDs(t *testing.T) {
	a, err := Load(strings.NewReader(fixture))
	require.NoError(t, err)
	b, err := Load(strings.NewReader(fixture))
	require.NoError(t, err)
	assert.Equal(t, a.Schemas[0].Fields[0].ID, b.Schemas[0].Fields[0].ID)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown key",
			doc:  "schemas:\n  - id: 0f8fad5b-d9cb-469f-a165-70867728950e\n    titel: x\n",
			want: "titel",
		},
		{
			name: "missing schema id",
			doc:  "schemas:\n  - title: x\n",
			want: "id is required",
		},
		{
			name: "unknown type",
			doc:  "schemas:\n  - id: 0f8fad5b-d9cb-469f-a165-70867728950e\n    title: x\n    fields:\n      - name: a\n        type: date\n",
			want: `unknown type "date"`,
		},
		{
			name: "bound of another kind",
			doc:  "schemas:\n  - id: 0f8fad5b-d9cb-469f-a165-70867728950e\n    title: x\n    fields:\n      - name: a\n        type: number\n        max_length: 3\n",
			want: "max_length is not valid for type number",
		},
		{
			name: "several foreign bounds report the first",
			doc:  "schemas:\n  - id: 0f8fad5b-d9cb-469f-a165-70867728950e\n    title: x\n    fields:\n      - name: a\n        type: number\n        max_count: 2\n        options: [x]\n        min_length: 1\n",
			want: "min_length is not valid for type number",
		},
		{
			name: "duplicate field",
			doc:  "schemas:\n  - id: 0f8fad5b-d9cb-469f-a165-70867728950e\n    title: x\n    fields:\n      - {name: a, type: text}\n      - {name: a, type: text}\n",
			want: "duplicate field id",
		},
		{
			name: "bad uuid",
			doc:  "subjects:\n  - id: nope\n",
			want: "decode yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_Empty(t *testing.T) {
	f, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Schemas)
}
