package web

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JonMunkholm/formreg/internal/auth"
	"github.com/JonMunkholm/formreg/internal/core"
	"github.com/JonMunkholm/formreg/internal/form"
	"github.com/JonMunkholm/formreg/internal/logging"
	"github.com/JonMunkholm/formreg/internal/web/templates"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// valuesRequest is the body of create, update and validate requests.
type valuesRequest struct {
	Values []form.FieldValue `json:"values"`
}

// createdResponse is returned by a successful create.
type createdResponse struct {
	ID uuid.UUID `json:"id"`
}

// validateResponse is returned by a dry-run validation that passed.
type validateResponse struct {
	Valid bool `json:"valid"`
}

// healthResponse reports liveness plus export limiter load.
type healthResponse struct {
	Status  string             `json:"status"`
	Exports core.LimiterStatus `json:"exports"`
}

// csvFlushInterval is how many rows are buffered between flushes.
const csvFlushInterval = 500

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:  "ok",
		Exports: s.service.ExportLimiter().Status(),
	})
}

// handleGetSchema returns a schema with its field definitions.
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	schemaID, ok := s.uuidParam(w, r, "schemaID")
	if !ok {
		return
	}
	schema, err := s.service.GetSchema(r.Context(), schemaID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, schema)
}

// handleValidate checks answers against a schema without storing anything.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	schemaID, ok := s.uuidParam(w, r, "schemaID")
	if !ok {
		return
	}
	req, ok := s.decodeValues(w, r)
	if !ok {
		return
	}
	if err := s.service.Validate(r.Context(), schemaID, req.Values); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, validateResponse{Valid: true})
}

// handleGetSubmission returns the caller's own submission for a schema.
func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	schemaID, ok := s.uuidParam(w, r, "schemaID")
	if !ok {
		return
	}
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	rec, err := s.service.GetSubmission(r.Context(), actor, schemaID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// handleCreateSubmission stores the caller's first submission for a schema.
func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	schemaID, ok := s.uuidParam(w, r, "schemaID")
	if !ok {
		return
	}
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	req, ok := s.decodeValues(w, r)
	if !ok {
		return
	}

	id, err := s.service.CreateSubmission(r.Context(), core.CreateSubmissionCommand{
		Actor:    actor,
		SchemaID: schemaID,
		Values:   req.Values,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/submissions/"+id.String())
	writeJSON(w, r, http.StatusCreated, createdResponse{ID: id})
}

// handleUpdateSubmission replaces every answer of an existing submission.
func (s *Server) handleUpdateSubmission(w http.ResponseWriter, r *http.Request) {
	submissionID, ok := s.uuidParam(w, r, "submissionID")
	if !ok {
		return
	}
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	req, ok := s.decodeValues(w, r)
	if !ok {
		return
	}

	err := s.service.UpdateSubmission(r.Context(), core.UpdateSubmissionCommand{
		Actor:        actor,
		SubmissionID: submissionID,
		Values:       req.Values,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportCSV streams the export table as CSV. Rows are fetched from
// storage while the response is written, so failures after the header row
// can only be logged.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	schemaID, ok := s.uuidParam(w, r, "schemaID")
	if !ok {
		return
	}
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	sess, err := s.service.Export(r.Context(), actor, schemaID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer sess.Close()

	filename := fmt.Sprintf("export_%s_%s.csv", schemaID, time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	logger := logging.WithFields(r.Context(), "schema_id", schemaID)
	rc := http.NewResponseController(w)
	cw := csv.NewWriter(w)

	if err := cw.Write(sess.Header); err != nil {
		logger.Warn("export aborted", "error", err)
		return
	}

	written := 0
	for sess.Rows.Next(r.Context()) {
		if err := cw.Write(sess.Rows.Row()); err != nil {
			logger.Warn("export aborted", "rows", written, "error", err)
			return
		}
		written++
		if written%csvFlushInterval == 0 {
			cw.Flush()
			if err := cw.Error(); err != nil {
				logger.Warn("export aborted", "rows", written, "error", err)
				return
			}
			_ = rc.Flush()
		}
	}
	cw.Flush()

	if err := sess.Rows.Err(); err != nil {
		if errors.Is(err, r.Context().Err()) {
			logger.Info("export cancelled by client", "rows", written)
			return
		}
		logger.Error("export failed after header was sent", "rows", written, "error", err)
		return
	}
	logger.Info("export finished", "rows", written)
}

// handleExportPreview renders the first rows of the export as HTML. Rows are
// fetched in parallel since the page needs them all before rendering.
func (s *Server) handleExportPreview(w http.ResponseWriter, r *http.Request) {
	schemaID, ok := s.uuidParam(w, r, "schemaID")
	if !ok {
		return
	}
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	sess, err := s.service.Export(r.Context(), actor, schemaID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer sess.Close()

	rows, err := sess.Rows.CollectN(r.Context(), s.opts.Parallelism, s.opts.PreviewRows)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	page := templates.ExportPreview{
		Title:   sess.Schema.Title,
		Header:  sess.Header,
		Rows:    rows,
		Total:   sess.Rows.Len(),
		CSVPath: "/api/schemas/" + schemaID.String() + "/export",
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExportPreviewPage(page).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render export preview", "error", err)
	}
}

// uuidParam parses a UUID URL parameter, answering 400 if it is malformed.
func (s *Server) uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		s.respondBadRequest(w, r, fmt.Errorf("parse %s: %w", name, err))
		return uuid.Nil, false
	}
	return id, true
}

// actor returns the authenticated actor. BearerAuth guarantees one on every
// route that calls this; a missing actor is treated as a denial.
func (s *Server) actor(w http.ResponseWriter, r *http.Request) (core.Actor, bool) {
	actor, ok := auth.FromContext(r.Context())
	if !ok {
		s.respondError(w, r, core.ErrCapabilityDenied)
		return nil, false
	}
	return actor, true
}

// decodeValues reads a valuesRequest, capped at MaxBodyBytes.
func (s *Server) decodeValues(w http.ResponseWriter, r *http.Request) (valuesRequest, bool) {
	var req valuesRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty request body")
		}
		s.respondBadRequest(w, r, fmt.Errorf("decode values: %w", err))
		return req, false
	}
	return req, true
}
