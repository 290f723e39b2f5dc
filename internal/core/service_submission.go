package core

import (
	"context"
	"errors"
	"log/slog"

	"github.com/JonMunkholm/formreg/internal/form"
	"github.com/JonMunkholm/formreg/internal/logging"
	"github.com/google/uuid"
)

// CreateSubmission records the actor's subject's answers to a schema and
// returns the new submission id.
//
// Checks run in a fixed order and the first failure is returned: create
// capability, a single eligible subject, schema existence, schema targeting,
// file existence, validation. The existence check and the insert then run
// inside the service's critical section so concurrent creates for the same
// (subject, schema) yield exactly one submission; the loser gets
// ErrAlreadyExists.
func (s *Service) CreateSubmission(ctx context.Context, cmd CreateSubmissionCommand) (uuid.UUID, error) {
	logger := logging.FromContext(ctx).With("op", "create_submission", "schema_id", cmd.SchemaID)

	if !allowed(cmd.Actor, CapCreateSubmission) {
		logger.Warn("submission denied", "reason", "missing capability")
		return uuid.Nil, ErrCapabilityDenied
	}
	subjects := cmd.Actor.SubjectIDs()
	if len(subjects) != 1 {
		logger.Warn("submission denied", "reason", "subject not eligible", "actor", cmd.Actor.ID(), "subjects", len(subjects))
		return uuid.Nil, ErrSubjectNotEligible
	}
	subjectID := subjects[0]
	logger = logger.With("subject_id", subjectID)

	schema, err := s.loadSchema(ctx, cmd.SchemaID)
	if err != nil {
		return uuid.Nil, s.logFailure(logger, err)
	}

	targeted, err := s.store.SchemaTargetsSubject(ctx, schema.ID, subjectID)
	if err != nil {
		return uuid.Nil, s.logFailure(logger, storageErr("schema targets subject", err))
	}
	if !targeted {
		logger.Warn("submission denied", "reason", "subject not targeted")
		return uuid.Nil, ErrCapabilityDenied
	}

	if err := s.checkFiles(ctx, cmd.Values); err != nil {
		return uuid.Nil, s.logFailure(logger, err)
	}
	if err := form.Validate(schema, cmd.Values); err != nil {
		logger.Info("submission rejected", "error", err)
		return uuid.Nil, err
	}

	now := s.clock.Now()
	rec := &form.SubmissionRecord{
		ID:        uuid.New(),
		SubjectID: subjectID,
		SchemaID:  schema.ID,
		Values:    cmd.Values,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.section.Do(ctx, func(ctx context.Context) error {
		_, err := s.store.GetSubmission(ctx, subjectID, schema.ID)
		switch {
		case err == nil:
			return ErrAlreadyExists
		case !errors.Is(err, ErrNotFound):
			return storageErr("get submission", err)
		}
		return storageErr("insert submission", s.store.InsertSubmission(ctx, rec))
	})
	if err != nil {
		return uuid.Nil, s.logFailure(logger, err)
	}

	entry := newAuditEntry(ctx, ActionSubmissionCreate, cmd.Actor, now)
	entry.SchemaID = schema.ID
	entry.SubjectID = subjectID
	entry.SubmissionID = rec.ID
	s.recordAudit(ctx, logger, entry)

	logger.Info("submission created", "submission_id", rec.ID)
	return rec.ID, nil
}

// UpdateSubmission replaces every answer of an existing submission.
//
// The actor must own the submission's subject or hold CapEditAnySubmission.
// Once the schema's window has closed only actors with CapEditAnytime may
// edit. The replacement is validated in full before it is stored.
func (s *Service) UpdateSubmission(ctx context.Context, cmd UpdateSubmissionCommand) error {
	logger := logging.FromContext(ctx).With("op", "update_submission", "submission_id", cmd.SubmissionID)

	if cmd.Actor == nil {
		return ErrCapabilityDenied
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := s.store.GetSubmissionByID(ctx, cmd.SubmissionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = NewNotFound(ResourceSubmission, cmd.SubmissionID)
		}
		return s.logFailure(logger, storageErr("get submission", err))
	}
	logger = logger.With("schema_id", rec.SchemaID, "subject_id", rec.SubjectID)

	if !owns(cmd.Actor, rec.SubjectID) && !cmd.Actor.HasCapability(CapEditAnySubmission) {
		logger.Warn("update denied", "reason", "not owner", "actor", cmd.Actor.ID())
		return ErrCapabilityDenied
	}

	schema, err := s.loadSchema(ctx, rec.SchemaID)
	if err != nil {
		return s.logFailure(logger, err)
	}

	now := s.clock.Now()
	if schema.IsClosed(now) && !cmd.Actor.HasCapability(CapEditAnytime) {
		logger.Warn("update denied", "reason", "window closed", "closes_at", schema.ClosesAt)
		return ErrSubmissionWindowClosed
	}

	if err := s.checkFiles(ctx, cmd.Values); err != nil {
		return s.logFailure(logger, err)
	}
	if err := form.Validate(schema, cmd.Values); err != nil {
		logger.Info("update rejected", "error", err)
		return err
	}

	if err := s.store.ReplaceSubmissionValues(ctx, rec.ID, cmd.Values, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			err = NewNotFound(ResourceSubmission, rec.ID)
		}
		return s.logFailure(logger, storageErr("replace submission values", err))
	}

	entry := newAuditEntry(ctx, ActionSubmissionUpdate, cmd.Actor, now)
	entry.SchemaID = schema.ID
	entry.SubjectID = rec.SubjectID
	entry.SubmissionID = rec.ID
	s.recordAudit(ctx, logger, entry)

	logger.Info("submission updated")
	return nil
}

// GetSubmission returns the submission of the actor's subject to schemaID.
func (s *Service) GetSubmission(ctx context.Context, actor Actor, schemaID uuid.UUID) (*form.SubmissionRecord, error) {
	if actor == nil {
		return nil, ErrCapabilityDenied
	}
	subjects := actor.SubjectIDs()
	if len(subjects) != 1 {
		return nil, ErrSubjectNotEligible
	}
	if _, err := s.loadSchema(ctx, schemaID); err != nil {
		return nil, err
	}

	rec, err := s.store.GetSubmission(ctx, subjects[0], schemaID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewNotFound(ResourceSubmission, uuid.Nil)
		}
		return nil, storageErr("get submission", err)
	}
	return rec, nil
}

// Validate checks values against the schema without storing anything.
func (s *Service) Validate(ctx context.Context, schemaID uuid.UUID, values []form.FieldValue) error {
	schema, err := s.loadSchema(ctx, schemaID)
	if err != nil {
		return err
	}
	return form.Validate(schema, values)
}

// GetSchema returns the schema with id.
func (s *Service) GetSchema(ctx context.Context, id uuid.UUID) (*form.FormSchema, error) {
	return s.loadSchema(ctx, id)
}

func (s *Service) loadSchema(ctx context.Context, id uuid.UUID) (*form.FormSchema, error) {
	schema, err := s.store.GetSchema(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, SchemaNotFound(id)
		}
		return nil, storageErr("get schema", err)
	}
	return schema, nil
}

// checkFiles resolves every file id referenced by a file-upload answer, one
// lookup per id, in answer order.
func (s *Service) checkFiles(ctx context.Context, values []form.FieldValue) error {
	for _, id := range form.FileIDs(values) {
		ok, err := s.files.FileExists(ctx, id)
		if err != nil {
			return storageErr("resolve file", err)
		}
		if !ok {
			return &FileNotFoundError{FileID: id}
		}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, logger *slog.Logger, entry AuditEntry) {
	if err := s.audit.RecordAudit(ctx, entry); err != nil {
		logger.Error("record audit entry", "action", entry.Action, "error", err)
	}
}

// logFailure logs err at a level matching its kind and returns it.
func (s *Service) logFailure(logger *slog.Logger, err error) error {
	switch {
	case errors.Is(err, ErrStorageFailure):
		logger.Error("storage failure", "error", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Info("request ended", "error", err)
	default:
		logger.Warn("request failed", "error", err)
	}
	return err
}

func allowed(actor Actor, c Capability) bool {
	return actor != nil && actor.HasCapability(c)
}

func owns(actor Actor, subjectID uuid.UUID) bool {
	for _, id := range actor.SubjectIDs() {
		if id == subjectID {
			return true
		}
	}
	return false
}
