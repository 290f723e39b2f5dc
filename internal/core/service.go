package core

import (
	"errors"
	"time"
)

// DefaultLockWait bounds how long CreateSubmission waits to enter the
// check-then-insert section.
const DefaultLockWait = 10 * time.Second

// Options configures a Service. Storage is required; every other field has a
// default.
type Options struct {
	Storage Storage
	Files   FileResolver
	Clock   Clock
	Audit   AuditSink

	// LockWait bounds the wait for the creation critical section.
	LockWait time.Duration
	// ExportLimiter bounds concurrent exports. Nil means a limiter with
	// DefaultMaxConcurrent slots.
	ExportLimiter *Limiter
}

// Service runs the submission workflow: creating, reading and replacing
// submissions, and exporting them.
type Service struct {
	store   Storage
	files   FileResolver
	clock   Clock
	audit   AuditSink
	section *CriticalSection
	exports *Limiter
}

// NewService creates a Service from opts.
func NewService(opts Options) (*Service, error) {
	if opts.Storage == nil {
		return nil, errors.New("core: storage is required")
	}
	if opts.Files == nil {
		return nil, errors.New("core: file resolver is required")
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Audit == nil {
		opts.Audit = SlogAuditSink{}
	}
	if opts.LockWait <= 0 {
		opts.LockWait = DefaultLockWait
	}
	if opts.ExportLimiter == nil {
		opts.ExportLimiter = NewLimiter(DefaultMaxConcurrent, DefaultMaxWaitTime)
	}

	return &Service{
		store:   opts.Storage,
		files:   opts.Files,
		clock:   opts.Clock,
		audit:   opts.Audit,
		section: NewCriticalSection(opts.LockWait),
		exports: opts.ExportLimiter,
	}, nil
}

// ExportLimiter returns the limiter guarding exports, for status reporting
// and shutdown draining.
func (s *Service) ExportLimiter() *Limiter {
	return s.exports
}
