// Package memory is an in-process implementation of the core storage,
// file-lookup and audit interfaces. It backs tests and the server's
// -mem development mode; nothing survives a restart.
package memory

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JonMunkholm/formreg/internal/core"
	"github.com/JonMunkholm/formreg/internal/form"
	"github.com/google/uuid"
)

type pairKey struct {
	subject uuid.UUID
	schema  uuid.UUID
}

// Store holds schemas, subjects, submissions, file ids and audit entries
// behind one RWMutex. Records are copied on the way in and out, so callers
// never share memory with the store.
type Store struct {
	mu          sync.RWMutex
	schemas     map[uuid.UUID]*form.FormSchema
	subjects    []form.Subject
	submissions map[uuid.UUID]*form.SubmissionRecord
	byPair      map[pairKey]uuid.UUID
	files       map[uuid.UUID]struct{}
	audit       []core.AuditEntry
}

// New returns an empty store.
func New() *Store {
	return &Store{
		schemas:     make(map[uuid.UUID]*form.FormSchema),
		submissions: make(map[uuid.UUID]*form.SubmissionRecord),
		byPair:      make(map[pairKey]uuid.UUID),
		files:       make(map[uuid.UUID]struct{}),
	}
}

var (
	_ core.Storage      = (*Store)(nil)
	_ core.FileResolver = (*Store)(nil)
	_ core.AuditSink    = (*Store)(nil)
	_ core.AuditPruner  = (*Store)(nil)
)

// PutSchema adds or replaces a schema. Schemas with duplicate field ids are
// rejected, as in the Postgres store.
func (s *Store) PutSchema(ctx context.Context, schema *form.FormSchema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := schema.CheckFieldIDs(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[schema.ID] = copySchema(schema)
	return nil
}

// PutSubject adds a subject, or replaces one with the same id in place.
func (s *Store) PutSubject(ctx context.Context, subject form.Subject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.subjects {
		if s.subjects[i].ID == subject.ID {
			s.subjects[i] = subject
			return nil
		}
	}
	s.subjects = append(s.subjects, subject)
	return nil
}

// PutFile registers an uploaded file id. The name is not kept.
func (s *Store) PutFile(ctx context.Context, id uuid.UUID, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = struct{}{}
	return nil
}

func (s *Store) GetSchema(ctx context.Context, id uuid.UUID) (*form.FormSchema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.schemas[id]
	if !ok {
		return nil, core.SchemaNotFound(id)
	}
	return copySchema(schema), nil
}

func (s *Store) GetSubmission(ctx context.Context, subjectID, schemaID uuid.UUID) (*form.SubmissionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPair[pairKey{subjectID, schemaID}]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyRecord(s.submissions[id]), nil
}

func (s *Store) GetSubmissionByID(ctx context.Context, id uuid.UUID) (*form.SubmissionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.submissions[id]
	if !ok {
		return nil, core.NewNotFound(core.ResourceSubmission, id)
	}
	return copyRecord(rec), nil
}

// InsertSubmission enforces one submission per (subject, schema), like the
// unique index of the Postgres store.
func (s *Store) InsertSubmission(ctx context.Context, rec *form.SubmissionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{rec.SubjectID, rec.SchemaID}
	if _, ok := s.byPair[key]; ok {
		return core.ErrAlreadyExists
	}
	s.submissions[rec.ID] = copyRecord(rec)
	s.byPair[key] = rec.ID
	return nil
}

func (s *Store) ReplaceSubmissionValues(ctx context.Context, id uuid.UUID, values []form.FieldValue, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.submissions[id]
	if !ok {
		return core.NewNotFound(core.ResourceSubmission, id)
	}
	rec.Values = copyValues(values)
	rec.UpdatedAt = updatedAt
	return nil
}

// ListSubmissionsForSchema returns submissions ordered by creation time,
// then id, matching the Postgres store.
func (s *Store) ListSubmissionsForSchema(ctx context.Context, schemaID uuid.UUID) ([]*form.SubmissionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*form.SubmissionRecord
	for _, rec := range s.submissions {
		if rec.SchemaID == schemaID {
			out = append(out, copyRecord(rec))
		}
	}
	slices.SortFunc(out, func(a, b *form.SubmissionRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

// ListTargetedSubjects returns the matching subjects in insertion order.
func (s *Store) ListTargetedSubjects(ctx context.Context, schemaID uuid.UUID) ([]form.Subject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.schemas[schemaID]
	if !ok {
		return nil, core.SchemaNotFound(schemaID)
	}
	var out []form.Subject
	for _, subj := range s.subjects {
		if schema.Targets.Matches(subj.ID, subj.Group) {
			out = append(out, subj)
		}
	}
	return out, nil
}

func (s *Store) SchemaTargetsSubject(ctx context.Context, schemaID, subjectID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.schemas[schemaID]
	if !ok {
		return false, core.SchemaNotFound(schemaID)
	}
	for _, subj := range s.subjects {
		if subj.ID == subjectID {
			return schema.Targets.Matches(subj.ID, subj.Group), nil
		}
	}
	return false, nil
}

// FileExists implements core.FileResolver.
func (s *Store) FileExists(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[id]
	return ok, nil
}

// RecordAudit implements core.AuditSink.
func (s *Store) RecordAudit(ctx context.Context, entry core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// PruneAudit implements core.AuditPruner.
func (s *Store) PruneAudit(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	kept := s.audit[:0]
	for _, e := range s.audit {
		if deleted < int64(limit) && e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	clear(s.audit[len(kept):])
	s.audit = kept
	return deleted, nil
}

// AuditEntries returns a copy of the recorded audit entries.
func (s *Store) AuditEntries() []core.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.audit)
}

// copySchema clones a schema down to its option lists and bounds.
func copySchema(schema *form.FormSchema) *form.FormSchema {
	c := *schema
	c.Targets.Groups = slices.Clone(schema.Targets.Groups)
	c.Targets.Subjects = slices.Clone(schema.Targets.Subjects)
	c.Fields = make([]form.FieldDefinition, len(schema.Fields))
	for i, f := range schema.Fields {
		f.Kind = copyKind(f.Kind)
		c.Fields[i] = f
	}
	return &c
}

func copyKind(kind form.Kind) form.Kind {
	switch k := kind.(type) {
	case form.TextKind:
		k.MinLength, k.MaxLength = clonePtr(k.MinLength), clonePtr(k.MaxLength)
		return k
	case form.NumberKind:
		k.Min, k.Max = clonePtr(k.Min), clonePtr(k.Max)
		return k
	case form.SingleChoiceKind:
		k.Options = slices.Clone(k.Options)
		return k
	case form.MultiChoiceKind:
		k.Options = slices.Clone(k.Options)
		k.MinSelection, k.MaxSelection = clonePtr(k.MinSelection), clonePtr(k.MaxSelection)
		return k
	case form.FileUploadKind:
		k.AllowedExtensions = slices.Clone(k.AllowedExtensions)
		k.MaxCount = clonePtr(k.MaxCount)
		return k
	default:
		return kind
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyRecord(rec *form.SubmissionRecord) *form.SubmissionRecord {
	c := *rec
	c.Values = copyValues(rec.Values)
	return &c
}

// copyValues clones the value list and the slice-backed answers in it.
func copyValues(values []form.FieldValue) []form.FieldValue {
	if values == nil {
		return nil
	}
	out := make([]form.FieldValue, len(values))
	for i, v := range values {
		switch a := v.Answer.(type) {
		case form.MultiChoiceAnswer:
			v.Answer = slices.Clone(a)
		case form.FileUploadAnswer:
			v.Answer = slices.Clone(a)
		}
		out[i] = v
	}
	return out
}
