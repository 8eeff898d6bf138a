package jobs

import (
	"context"
	"errors"

	"github.com/clinicops/portal-sync/internal/mirror"
	"github.com/clinicops/portal-sync/internal/portal"
	redisclient "github.com/clinicops/portal-sync/internal/redis"
	"github.com/clinicops/portal-sync/internal/scheduling"
)

// ErrorCode is the stable failure vocabulary stored on failed job records.
// Clients branch on the code, never on message text.
type ErrorCode string

const (
	CodeLockTimeout      ErrorCode = "lock_timeout"
	CodeAuthFailed       ErrorCode = "auth_failed"
	CodeNavigationFailed ErrorCode = "navigation_failed"
	CodeExternalTimeout  ErrorCode = "external_timeout"
	CodeNotFound         ErrorCode = "not_found"
	CodeBadRequest       ErrorCode = "bad_request"
	CodeInternal         ErrorCode = "internal_error"
)

// Error carries a code alongside the message. Job runners may return one
// directly to pin the code; anything else goes through Classify.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Classify maps an arbitrary runner error onto the failure vocabulary.
func Classify(err error) *Error {
	var je *Error
	if errors.As(err, &je) {
		return je
	}

	code := CodeInternal
	switch {
	case errors.Is(err, redisclient.ErrLockTimeout):
		code = CodeLockTimeout
	case errors.Is(err, portal.ErrAuthFailed):
		code = CodeAuthFailed
	case errors.Is(err, portal.ErrNavigation):
		code = CodeNavigationFailed
	case errors.Is(err, portal.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		code = CodeExternalTimeout
	case errors.Is(err, portal.ErrNotFound),
		errors.Is(err, mirror.ErrPatientNotFound),
		errors.Is(err, mirror.ErrAppointmentNotFound),
		errors.Is(err, mirror.ErrProfessionalNotFound):
		code = CodeNotFound
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		code = CodeBadRequest
	}

	return &Error{Code: code, Message: err.Error()}
}
