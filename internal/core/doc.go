// Package core runs the submission workflow: creating and editing one
// submission per (subject, schema), and exporting every submission addressed
// to a schema.
//
// The package owns no infrastructure. Storage, file lookup, the clock and
// the audit trail are interfaces supplied through [Options], so the same
// [Service] serves the HTTP server, the formctl CLI and tests backed by the
// in-memory store.
//
// # Creating a Submission
//
// [Service.CreateSubmission] checks, in order: the create capability, that
// the actor resolves to exactly one subject, that the schema exists and
// targets that subject, that every referenced file exists, and that the
// answers validate (see package form). Only then does it enter the
// [CriticalSection] that checks for an existing submission and inserts.
//
// The critical section is process-local. In a deployment with several
// server instances the unique (subject_id, schema_id) index in Postgres is
// what guarantees one submission per pair; the storage layer reports its
// violation as [ErrAlreadyExists] and the section only saves the round trip.
//
// # Cancellation
//
// A context cancelled before the critical section is entered aborts the call
// with no side effects. Once entered, the check and insert run to completion
// on a context detached from the caller's cancellation.
//
// # Exports
//
// [Service.Export] returns an [ExportSession] whose rows are fetched lazily.
// Exports share a [Limiter]; a session holds a slot until closed.
//
// # Error Codes
//
// [MapError] turns workflow errors into user-facing messages with a stable
// code for support reference. Codes never change meaning once published.
//
// # Submission Errors (SUB001-SUB099)
//
//	SUB001 - Submission already exists for this subject and form
//	SUB002 - Form not found
//	SUB003 - Submission not found
//	SUB004 - Uploaded file not found
//	SUB005 - Submission window has closed
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Required field missing
//	VAL002 - Answer type does not match field
//	VAL003 - Text too short
//	VAL004 - Text too long
//	VAL005 - Line breaks not allowed
//	VAL006 - Number too small
//	VAL007 - Number too large
//	VAL008 - Option not allowed
//	VAL009 - Too few options selected
//	VAL010 - Too many options selected
//	VAL011 - Too many files
//
// # Authorization Errors (AUTH001-AUTH099)
//
//	AUTH001 - Operation not permitted
//	AUTH002 - Account not linked to exactly one eligible subject
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Storage failure
//	DB002 - Connection refused
//	DB003 - Connection reset
//	DB004 - Deadlock
//
// # Request Errors (REQ001-REQ099)
//
//	REQ000 - Malformed request (raised by the HTTP layer)
//	REQ001 - Request cancelled
//	REQ002 - Request timed out
//	REQ003 - Server busy
//	REQ004 - Rate limit exceeded (raised by the HTTP layer)
//
// # Generic (ERR000)
//
//	ERR000 - Unknown error
package core
