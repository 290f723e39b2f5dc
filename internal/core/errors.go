package core

// errors.go defines the error taxonomy returned by the submission workflow.
//
// Every failure mode has its own sentinel so callers can tell them apart with
// errors.Is. Typed errors (NotFoundError, FileNotFoundError, StorageError)
// carry the offending identifier and still match their sentinel.
// Validation failures are returned as *form.ValidationError, unwrapped.

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyExists          = errors.New("submission already exists")
	ErrCapabilityDenied       = errors.New("capability denied")
	ErrSubjectNotEligible     = errors.New("subject not eligible")
	ErrSubmissionWindowClosed = errors.New("submission window closed")
	ErrStorageFailure         = errors.New("storage failure")
)

// Resource names used in NotFoundError.
const (
	ResourceSchema     = "schema"
	ResourceSubmission = "submission"
)

// NotFoundError reports a missing schema or submission.
type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFound returns a NotFoundError for resource id.
func NewNotFound(resource string, id uuid.UUID) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// SchemaNotFound is shorthand for a missing schema.
func SchemaNotFound(id uuid.UUID) *NotFoundError {
	return NewNotFound(ResourceSchema, id)
}

// FileNotFoundError reports a file id that did not resolve. It is kept apart
// from NotFoundError so the missing id is always available to the caller.
type FileNotFoundError struct {
	FileID uuid.UUID
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file %s not found", e.FileID)
}

func (e *FileNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StorageError wraps an opaque failure from a storage collaborator.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

// storageErr wraps err unless it already belongs to the taxonomy.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrStorageFailure) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
