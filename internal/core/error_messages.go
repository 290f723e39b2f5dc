package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/formreg/internal/form"
)

// UserMessage is the user-facing rendering of an error.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
	Status  int    // HTTP status for transport layers
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

// sentinelMessages is checked in order with errors.Is.
var sentinelMessages = []sentinelMessage{
	{ErrAlreadyExists, UserMessage{
		Message: "A submission for this form already exists",
		Action:  "Edit the existing submission instead",
		Code:    "SUB001",
		Status:  http.StatusConflict,
	}},
	{ErrSubmissionWindowClosed, UserMessage{
		Message: "This form no longer accepts changes",
		Action:  "Contact the organizers if you need to make a change",
		Code:    "SUB005",
		Status:  http.StatusForbidden,
	}},
	{ErrCapabilityDenied, UserMessage{
		Message: "You are not allowed to perform this operation",
		Action:  "Ask an administrator for access",
		Code:    "AUTH001",
		Status:  http.StatusForbidden,
	}},
	{ErrSubjectNotEligible, UserMessage{
		Message: "Your account is not linked to exactly one eligible team",
		Action:  "Ask an administrator to check your team membership",
		Code:    "AUTH002",
		Status:  http.StatusForbidden,
	}},
	{ErrBusy, UserMessage{
		Message: "The server is busy with other requests",
		Action:  "Please wait a moment and try again",
		Code:    "REQ003",
		Status:  http.StatusServiceUnavailable,
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ001",
		Status:  499,
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Please try again later",
		Code:    "REQ002",
		Status:  http.StatusGatewayTimeout,
	}},
}

var notFoundMessages = map[string]UserMessage{
	ResourceSchema: {
		Message: "Form not found",
		Action:  "Check the form link",
		Code:    "SUB002",
		Status:  http.StatusNotFound,
	},
	ResourceSubmission: {
		Message: "Submission not found",
		Action:  "Check the submission link",
		Code:    "SUB003",
		Status:  http.StatusNotFound,
	},
}

var validationMessages = []sentinelMessage{
	{form.ErrMissingField, UserMessage{Message: "A required field is missing", Action: "Fill in every required field", Code: "VAL001"}},
	{form.ErrInvalidKind, UserMessage{Message: "An answer has the wrong type for its field", Action: "Reload the form and try again", Code: "VAL002"}},
	{form.ErrTooShort, UserMessage{Message: "An answer is too short", Action: "Write at least %d characters", Code: "VAL003"}},
	{form.ErrTooLong, UserMessage{Message: "An answer is too long", Action: "Write at most %d characters", Code: "VAL004"}},
	{form.ErrNewlineNotAllowed, UserMessage{Message: "Line breaks are not allowed in this field", Action: "Put the answer on a single line", Code: "VAL005"}},
	{form.ErrTooSmall, UserMessage{Message: "A number is too small", Action: "Enter a value of at least %d", Code: "VAL006"}},
	{form.ErrTooLarge, UserMessage{Message: "A number is too large", Action: "Enter a value of at most %d", Code: "VAL007"}},
	{form.ErrInvalidOption, UserMessage{Message: "A selected option is not allowed", Action: "Choose one of the listed options", Code: "VAL008"}},
	{form.ErrTooFewOptions, UserMessage{Message: "Too few options selected", Action: "Select at least %d options", Code: "VAL009"}},
	{form.ErrTooManyOptions, UserMessage{Message: "Too many options selected", Action: "Select at most %d options", Code: "VAL010"}},
	{form.ErrTooManyFiles, UserMessage{Message: "Too many files attached", Action: "Attach at most %d files", Code: "VAL011"}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns matches raw driver errors that reach MapError unwrapped.
var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
			Status:  http.StatusServiceUnavailable,
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB003",
			Status:  http.StatusServiceUnavailable,
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB004",
			Status:  http.StatusServiceUnavailable,
		},
	},
}

var storageMessage = UserMessage{
	Message: "The request could not be saved",
	Action:  "Please try again later",
	Code:    "DB001",
	Status:  http.StatusInternalServerError,
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
	Status:  http.StatusInternalServerError,
}

// MapError converts an error into a user-facing message. Typed workflow
// errors are matched first, then raw error text, then the generic fallback.
// Returns an empty UserMessage for nil.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var verr *form.ValidationError
	if errors.As(err, &verr) {
		return validationMessage(verr)
	}

	var fileErr *FileNotFoundError
	if errors.As(err, &fileErr) {
		return UserMessage{
			Message: fmt.Sprintf("Uploaded file %s was not found", fileErr.FileID),
			Action:  "Upload the file again and resubmit",
			Code:    "SUB004",
			Status:  http.StatusUnprocessableEntity,
		}
	}

	var nf *NotFoundError
	if errors.As(err, &nf) {
		if msg, ok := notFoundMessages[nf.Resource]; ok {
			return msg
		}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	// Driver text first: a wrapped "connection refused" is more useful
	// than the generic storage message.
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	if errors.Is(err, ErrStorageFailure) {
		return storageMessage
	}

	return defaultMessage
}

func validationMessage(verr *form.ValidationError) UserMessage {
	for _, vm := range validationMessages {
		if verr.Code != vm.err {
			continue
		}
		msg := vm.msg
		msg.Status = http.StatusUnprocessableEntity
		if strings.Contains(msg.Action, "%d") {
			msg.Action = fmt.Sprintf(msg.Action, verr.Bound)
		}
		if verr.Code == form.ErrInvalidOption {
			msg.Message = fmt.Sprintf("Option %q is not allowed", verr.Value)
		}
		return msg
	}
	return UserMessage{
		Message: "The submission is invalid",
		Action:  "Review your answers",
		Code:    "VAL000",
		Status:  http.StatusUnprocessableEntity,
	}
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
