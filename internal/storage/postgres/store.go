// Package postgres is the durable implementation of the core storage,
// file-lookup and audit interfaces, on pgx.
//
// Schema fields and submission values are stored as jsonb using the form
// package's tagged JSON encoding. The unique (subject_id, schema_id)
// constraint on submissions is reported as core.ErrAlreadyExists.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/formreg/internal/core"
	"github.com/JonMunkholm/formreg/internal/form"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store implements core.Storage, core.FileResolver and core.AuditSink.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store using pool. Run Migrate first.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var (
	_ core.Storage      = (*Store)(nil)
	_ core.FileResolver = (*Store)(nil)
	_ core.AuditSink    = (*Store)(nil)
	_ core.AuditPruner  = (*Store)(nil)
)

// targetsSubject is true when schema f addresses subject s. It mirrors
// form.Targets.Matches.
const targetsSubject = `(
    (cardinality(f.target_groups) = 0 AND cardinality(f.target_subjects) = 0)
    OR s.group_name = ANY(f.target_groups)
    OR s.id::text = ANY(f.target_subjects)
)`

const schemaColumns = `id, title, description, opens_at, closes_at, target_groups, target_subjects, fields`

func (st *Store) GetSchema(ctx context.Context, id uuid.UUID) (*form.FormSchema, error) {
	row := st.pool.QueryRow(ctx, `SELECT `+schemaColumns+` FROM form_schemas WHERE id = $1`, id)
	schema, err := scanSchema(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.SchemaNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get schema %s: %w", id, err)
	}
	return schema, nil
}

// PutSchema inserts schema or replaces the stored copy.
func (st *Store) PutSchema(ctx context.Context, schema *form.FormSchema) error {
	if err := schema.CheckFieldIDs(); err != nil {
		return err
	}
	fields, err := json.Marshal(schema.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	subjects := make([]string, len(schema.Targets.Subjects))
	for i, id := range schema.Targets.Subjects {
		subjects[i] = id.String()
	}
	groups := schema.Targets.Groups
	if groups == nil {
		groups = []string{}
	}

	_, err = st.pool.Exec(ctx, `
		INSERT INTO form_schemas (`+schemaColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			opens_at = EXCLUDED.opens_at,
			closes_at = EXCLUDED.closes_at,
			target_groups = EXCLUDED.target_groups,
			target_subjects = EXCLUDED.target_subjects,
			fields = EXCLUDED.fields`,
		schema.ID, schema.Title, schema.Description,
		timestamptz(schema.OpensAt), timestamptz(schema.ClosesAt),
		groups, subjects, fields,
	)
	if err != nil {
		return fmt.Errorf("put schema %s: %w", schema.ID, err)
	}
	return nil
}

// PutSubject inserts subject or updates its title and group.
func (st *Store) PutSubject(ctx context.Context, subject form.Subject) error {
	_, err := st.pool.Exec(ctx, `
		INSERT INTO subjects (id, title, group_name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, group_name = EXCLUDED.group_name`,
		subject.ID, subject.Title, subject.Group,
	)
	if err != nil {
		return fmt.Errorf("put subject %s: %w", subject.ID, err)
	}
	return nil
}

// PutFile records an uploaded file.
func (st *Store) PutFile(ctx context.Context, id uuid.UUID, name string) error {
	_, err := st.pool.Exec(ctx,
		`INSERT INTO uploaded_files (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, id, name)
	if err != nil {
		return fmt.Errorf("put file %s: %w", id, err)
	}
	return nil
}

const submissionColumns = `id, subject_id, schema_id, field_values, created_at, updated_at`

func (st *Store) GetSubmission(ctx context.Context, subjectID, schemaID uuid.UUID) (*form.SubmissionRecord, error) {
	row := st.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE subject_id = $1 AND schema_id = $2`,
		subjectID, schemaID)
	rec, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return rec, nil
}

func (st *Store) GetSubmissionByID(ctx context.Context, id uuid.UUID) (*form.SubmissionRecord, error) {
	row := st.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	rec, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewNotFound(core.ResourceSubmission, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get submission %s: %w", id, err)
	}
	return rec, nil
}

func (st *Store) InsertSubmission(ctx context.Context, rec *form.SubmissionRecord) error {
	values, err := encodeValues(rec.Values)
	if err != nil {
		return err
	}
	_, err = st.pool.Exec(ctx,
		`INSERT INTO submissions (`+submissionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.SubjectID, rec.SchemaID, values, rec.CreatedAt, rec.UpdatedAt)
	if isUniqueViolation(err) {
		return core.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (st *Store) ReplaceSubmissionValues(ctx context.Context, id uuid.UUID, values []form.FieldValue, updatedAt time.Time) error {
	encoded, err := encodeValues(values)
	if err != nil {
		return err
	}
	tag, err := st.pool.Exec(ctx,
		`UPDATE submissions SET field_values = $2, updated_at = $3 WHERE id = $1`,
		id, encoded, updatedAt)
	if err != nil {
		return fmt.Errorf("replace submission values: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NewNotFound(core.ResourceSubmission, id)
	}
	return nil
}

func (st *Store) ListSubmissionsForSchema(ctx context.Context, schemaID uuid.UUID) ([]*form.SubmissionRecord, error) {
	rows, err := st.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE schema_id = $1 ORDER BY created_at, id`,
		schemaID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []*form.SubmissionRecord
	for rows.Next() {
		rec, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return out, nil
}

// ListTargetedSubjects returns targeted subjects in the order they were
// registered.
func (st *Store) ListTargetedSubjects(ctx context.Context, schemaID uuid.UUID) ([]form.Subject, error) {
	rows, err := st.pool.Query(ctx, `
		SELECT s.id, s.title, s.group_name
		FROM subjects s
		JOIN form_schemas f ON f.id = $1
		WHERE `+targetsSubject+`
		ORDER BY s.created_at, s.id`, schemaID)
	if err != nil {
		return nil, fmt.Errorf("list targeted subjects: %w", err)
	}
	defer rows.Close()

	var out []form.Subject
	for rows.Next() {
		var s form.Subject
		if err := rows.Scan(&s.ID, &s.Title, &s.Group); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list targeted subjects: %w", err)
	}
	return out, nil
}

func (st *Store) SchemaTargetsSubject(ctx context.Context, schemaID, subjectID uuid.UUID) (bool, error) {
	var targeted bool
	err := st.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM subjects s
			JOIN form_schemas f ON f.id = $1
			WHERE s.id = $2 AND `+targetsSubject+`
		)`, schemaID, subjectID).Scan(&targeted)
	if err != nil {
		return false, fmt.Errorf("schema targets subject: %w", err)
	}
	return targeted, nil
}

// FileExists implements core.FileResolver against the uploaded_files table.
func (st *Store) FileExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := st.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM uploaded_files WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("file exists %s: %w", id, err)
	}
	return exists, nil
}

// RecordAudit implements core.AuditSink.
func (st *Store) RecordAudit(ctx context.Context, e core.AuditEntry) error {
	_, err := st.pool.Exec(ctx, `
		INSERT INTO audit_log (id, action, severity, actor_id, schema_id, subject_id, submission_id, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, string(e.Action), string(e.Severity), e.ActorID,
		nullUUID(e.SchemaID), nullUUID(e.SubjectID), nullUUID(e.SubmissionID),
		e.IPAddress, e.UserAgent, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// PruneAudit implements core.AuditPruner. Oldest entries go first.
func (st *Store) PruneAudit(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := st.pool.Exec(ctx, `
		DELETE FROM audit_log WHERE id IN (
			SELECT id FROM audit_log WHERE created_at < $1 ORDER BY created_at LIMIT $2
		)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("prune audit: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListAudit returns the newest audit entries first.
func (st *Store) ListAudit(ctx context.Context, limit int) ([]core.AuditEntry, error) {
	rows, err := st.pool.Query(ctx, `
		SELECT id, action, severity, actor_id, schema_id, subject_id, submission_id, ip_address, user_agent, created_at
		FROM audit_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var (
			e                               core.AuditEntry
			action, severity                string
			schemaID, subjectID, submission pgtype.UUID
		)
		if err := rows.Scan(&e.ID, &action, &severity, &e.ActorID, &schemaID, &subjectID, &submission,
			&e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Action = core.AuditAction(action)
		e.Severity = core.AuditSeverity(severity)
		e.SchemaID = fromPgUUID(schemaID)
		e.SubjectID = fromPgUUID(subjectID)
		e.SubmissionID = fromPgUUID(submission)
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanSchema(row pgx.Row) (*form.FormSchema, error) {
	var (
		s                 form.FormSchema
		opensAt, closesAt pgtype.Timestamptz
		subjects          []string
		fields            []byte
	)
	if err := row.Scan(&s.ID, &s.Title, &s.Description, &opensAt, &closesAt,
		&s.Targets.Groups, &subjects, &fields); err != nil {
		return nil, err
	}
	s.OpensAt = fromTimestamptz(opensAt)
	s.ClosesAt = fromTimestamptz(closesAt)
	if len(s.Targets.Groups) == 0 {
		s.Targets.Groups = nil
	}
	for _, raw := range subjects {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("decode target subject %q: %w", raw, err)
		}
		s.Targets.Subjects = append(s.Targets.Subjects, id)
	}
	if err := json.Unmarshal(fields, &s.Fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return &s, nil
}

func scanSubmission(row pgx.Row) (*form.SubmissionRecord, error) {
	var (
		rec    form.SubmissionRecord
		values []byte
	)
	if err := row.Scan(&rec.ID, &rec.SubjectID, &rec.SchemaID, &values, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(values, &rec.Values); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func encodeValues(values []form.FieldValue) ([]byte, error) {
	if values == nil {
		values = []form.FieldValue{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode values: %w", err)
	}
	return b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

func fromTimestamptz(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time.UTC()
}

func nullUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}

func fromPgUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return uuid.UUID(id.Bytes)
}
