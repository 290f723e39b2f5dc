package schemafile

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/formreg/internal/form"
	"github.com/google/uuid"
)

// Sink stores fixture content. Both storage backends implement it; every
// Put is an upsert.
type Sink interface {
	PutSubject(ctx context.Context, subject form.Subject) error
	PutSchema(ctx context.Context, schema *form.FormSchema) error
	PutFile(ctx context.Context, id uuid.UUID, name string) error
}

// Summary counts what Apply wrote.
type Summary struct {
	Subjects int
	Schemas  int
	Files    int
}

// Apply writes subjects, then schemas, then file ids to sink. It stops at the
// first error; what was written before stays written.
func (f *File) Apply(ctx context.Context, sink Sink) (Summary, error) {
	var sum Summary
	for _, s := range f.Subjects {
		if err := sink.PutSubject(ctx, s); err != nil {
			return sum, fmt.Errorf("subject %s: %w", s.ID, err)
		}
		sum.Subjects++
	}
	for _, s := range f.Schemas {
		if err := sink.PutSchema(ctx, s); err != nil {
			return sum, fmt.Errorf("schema %s: %w", s.ID, err)
		}
		sum.Schemas++
	}
	for _, id := range f.Files {
		if err := sink.PutFile(ctx, id, id.String()); err != nil {
			return sum, fmt.Errorf("file %s: %w", id, err)
		}
		sum.Files++
	}
	return sum, nil
}
