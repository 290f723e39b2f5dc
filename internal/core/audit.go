package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionSubmissionCreate AuditAction = "submission_create"
	ActionSubmissionUpdate AuditAction = "submission_update"
	ActionSubmissionExport AuditAction = "submission_export"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow    AuditSeverity = "low"
	SeverityMedium AuditSeverity = "medium"
	SeverityHigh   AuditSeverity = "high"
)

// severityFor maps each action to its default severity.
var severityFor = map[AuditAction]AuditSeverity{
	ActionSubmissionCreate: SeverityMedium,
	ActionSubmissionUpdate: SeverityMedium,
	ActionSubmissionExport: SeverityHigh,
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID           uuid.UUID     `json:"id"`
	Action       AuditAction   `json:"action"`
	Severity     AuditSeverity `json:"severity"`
	ActorID      string        `json:"actorId"`
	SchemaID     uuid.UUID     `json:"schemaId"`
	SubjectID    uuid.UUID     `json:"subjectId,omitempty"`
	SubmissionID uuid.UUID     `json:"submissionId,omitempty"`
	IPAddress    string        `json:"ipAddress,omitempty"`
	UserAgent    string        `json:"userAgent,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// AuditSink persists audit entries.
type AuditSink interface {
	RecordAudit(ctx context.Context, entry AuditEntry) error
}

// SlogAuditSink writes audit entries to the structured log. It is the
// default when no durable sink is configured.
type SlogAuditSink struct {
	Logger *slog.Logger
}

// RecordAudit implements AuditSink.
func (s SlogAuditSink) RecordAudit(ctx context.Context, e AuditEntry) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "audit",
		"audit_id", e.ID,
		"action", e.Action,
		"severity", e.Severity,
		"actor", e.ActorID,
		"schema_id", e.SchemaID,
		"subject_id", e.SubjectID,
		"submission_id", e.SubmissionID,
		"ip", e.IPAddress,
	)
	return nil
}

// newAuditEntry fills id, severity, request metadata and timestamp.
func newAuditEntry(ctx context.Context, action AuditAction, actor Actor, now time.Time) AuditEntry {
	info := ClientInfoFrom(ctx)
	return AuditEntry{
		ID:        uuid.New(),
		Action:    action,
		Severity:  severityFor[action],
		ActorID:   actor.ID(),
		IPAddress: info.IP,
		UserAgent: info.UserAgent,
		CreatedAt: now,
	}
}

// ClientInfo describes the client behind a request, for audit entries.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type clientInfoKey struct{}

// WithClientInfo attaches client details to ctx.
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

// ClientInfoFrom returns the client details attached to ctx, if any.
func ClientInfoFrom(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info
}
