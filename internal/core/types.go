package core

import (
	"context"
	"slices"
	"time"

	"github.com/JonMunkholm/formreg/internal/form"
	"github.com/google/uuid"
)

// Capability names an operation an actor may be allowed to perform.
type Capability string

const (
	CapCreateSubmission  Capability = "submission.create"
	CapEditAnySubmission Capability = "submission.edit_any"
	CapEditAnytime       Capability = "submission.edit_anytime"
	CapExportSubmissions Capability = "submission.export"
)

// Actor is the caller of a workflow operation. Identity and policy are
// resolved elsewhere; the workflow only asks yes/no questions.
type Actor interface {
	// ID identifies the actor in audit entries.
	ID() string
	HasCapability(c Capability) bool
	// SubjectIDs lists the subjects the actor may act for. Creation requires
	// exactly one.
	SubjectIDs() []uuid.UUID
}

// StaticActor is an Actor with a fixed identity. formctl runs as one.
type StaticActor struct {
	Name         string
	Subjects     []uuid.UUID
	Capabilities []Capability
}

func (a StaticActor) ID() string { return a.Name }

func (a StaticActor) HasCapability(c Capability) bool {
	return slices.Contains(a.Capabilities, c)
}

func (a StaticActor) SubjectIDs() []uuid.UUID { return a.Subjects }

// Storage is the durable store for schemas, subjects and submissions.
// Implementations report missing rows with ErrNotFound (or a NotFoundError)
// and a duplicate (subject, schema) insert with ErrAlreadyExists.
type Storage interface {
	GetSchema(ctx context.Context, id uuid.UUID) (*form.FormSchema, error)
	GetSubmission(ctx context.Context, subjectID, schemaID uuid.UUID) (*form.SubmissionRecord, error)
	GetSubmissionByID(ctx context.Context, id uuid.UUID) (*form.SubmissionRecord, error)
	InsertSubmission(ctx context.Context, rec *form.SubmissionRecord) error
	ReplaceSubmissionValues(ctx context.Context, id uuid.UUID, values []form.FieldValue, updatedAt time.Time) error
	ListSubmissionsForSchema(ctx context.Context, schemaID uuid.UUID) ([]*form.SubmissionRecord, error)
	ListTargetedSubjects(ctx context.Context, schemaID uuid.UUID) ([]form.Subject, error)
	SchemaTargetsSubject(ctx context.Context, schemaID, subjectID uuid.UUID) (bool, error)
}

// FileResolver answers whether an uploaded file record exists.
type FileResolver interface {
	FileExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the wall clock in UTC.
var SystemClock Clock = systemClock{}

// CreateSubmissionCommand carries the inputs of CreateSubmission.
type CreateSubmissionCommand struct {
	Actor    Actor
	SchemaID uuid.UUID
	Values   []form.FieldValue
}

// UpdateSubmissionCommand carries the inputs of UpdateSubmission. Values
// replaces the stored answers wholesale.
type UpdateSubmissionCommand struct {
	Actor        Actor
	SubmissionID uuid.UUID
	Values       []form.FieldValue
}
