package web

// errors.go renders workflow errors for clients.
//
// Every error goes through core.MapError, which picks the user-facing text,
// the stable code and the HTTP status. The technical error is logged with
// the request id; only the mapped text reaches the client, as JSON for API
// routes, an HTMX fragment for HX requests, or plain HTML otherwise.

import (
	"net/http"
	"strings"

	"github.com/JonMunkholm/formreg/internal/core"
	"github.com/JonMunkholm/formreg/internal/logging"
	"github.com/JonMunkholm/formreg/internal/web/templates"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// badRequest is returned for requests the workflow never sees.
var badRequest = core.UserMessage{
	Message: "The request could not be read",
	Action:  "Check the request body and parameters",
	Code:    "REQ000",
	Status:  http.StatusBadRequest,
}

// respondError maps err and writes it in the format the client expects.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	s.respondMessage(w, r, core.MapError(err), err)
}

// respondBadRequest reports a malformed request. cause is logged only.
func (s *Server) respondBadRequest(w http.ResponseWriter, r *http.Request, cause error) {
	s.respondMessage(w, r, badRequest, cause)
}

func (s *Server) respondMessage(w http.ResponseWriter, r *http.Request, msg core.UserMessage, err error) {
	logger := logging.FromContext(r.Context())
	args := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", msg.Status,
		"code", msg.Code,
		"error", err,
	}
	if msg.Status >= http.StatusInternalServerError {
		logger.Error("request error", args...)
	} else {
		logger.Info("request rejected", args...)
	}

	switch {
	case isHTMX(r):
		renderErrorPartial(w, r, msg)
	case wantsJSON(r):
		writeJSON(w, r, msg.Status, ErrorResponse{
			Error:   msg.Message,
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		})
	default:
		renderErrorPage(w, r, msg)
	}
}

// renderErrorPartial renders an HTMX-compatible error fragment. HTMX does
// not swap non-2xx responses by default, so the target is retargeted.
func renderErrorPartial(w http.ResponseWriter, r *http.Request, msg core.UserMessage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("HX-Retarget", "#errors")
	w.Header().Set("HX-Reswap", "innerHTML")
	w.WriteHeader(msg.Status)
	if err := templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render error partial", "error", err)
	}
}

func renderErrorPage(w http.ResponseWriter, r *http.Request, msg core.UserMessage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(msg.Status)
	if err := templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render error page", "error", err)
	}
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON reports whether the client should get a JSON error. API routes
// always do.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json")
}
