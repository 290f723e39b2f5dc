package core

import (
	"context"
	"errors"
	"sync"

	"github.com/JonMunkholm/formreg/internal/export"
	"github.com/JonMunkholm/formreg/internal/form"
	"github.com/JonMunkholm/formreg/internal/logging"
	"github.com/google/uuid"
)

// ExportSession is an export in progress. It holds one export limiter slot
// until Close is called, which the caller MUST do.
type ExportSession struct {
	*export.Table
	Schema *form.FormSchema

	release func()
	once    sync.Once
}

// Close stops the row iterator and frees the limiter slot. Safe to call more
// than once.
func (e *ExportSession) Close() {
	e.once.Do(func() {
		e.Rows.Close()
		e.release()
	})
}

// Export starts an export of every subject targeted by schemaID. The actor
// needs CapExportSubmissions. Rows are fetched lazily from storage as the
// caller iterates.
func (s *Service) Export(ctx context.Context, actor Actor, schemaID uuid.UUID) (*ExportSession, error) {
	logger := logging.FromContext(ctx).With("op", "export", "schema_id", schemaID)

	if !allowed(actor, CapExportSubmissions) {
		logger.Warn("export denied", "reason", "missing capability")
		return nil, ErrCapabilityDenied
	}

	schema, err := s.loadSchema(ctx, schemaID)
	if err != nil {
		return nil, s.logFailure(logger, err)
	}

	if err := s.exports.Acquire(ctx); err != nil {
		return nil, s.logFailure(logger, err)
	}

	table, err := export.Generate(ctx, schema, storeSource{s.store})
	if err != nil {
		s.exports.Release()
		return nil, s.logFailure(logger, storageErr("generate export", err))
	}

	entry := newAuditEntry(ctx, ActionSubmissionExport, actor, s.clock.Now())
	entry.SchemaID = schema.ID
	s.recordAudit(ctx, logger, entry)

	logger.Info("export started", "rows", table.Rows.Len())
	return &ExportSession{
		Table:   table,
		Schema:  schema,
		release: s.exports.Release,
	}, nil
}

// storeSource adapts Storage to export.Source.
type storeSource struct {
	store Storage
}

func (s storeSource) ListTargetedSubjects(ctx context.Context, schemaID uuid.UUID) ([]form.Subject, error) {
	return s.store.ListTargetedSubjects(ctx, schemaID)
}

func (s storeSource) SubmissionFor(ctx context.Context, subjectID, schemaID uuid.UUID) (*form.SubmissionRecord, error) {
	rec, err := s.store.GetSubmission(ctx, subjectID, schemaID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get submission", err)
	}
	return rec, nil
}
