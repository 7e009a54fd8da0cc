package agent

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies chat failures for clients.
type ErrorCode string

const (
	ErrorInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrorConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	ErrorRateLimited          ErrorCode = "RATE_LIMITED"
	ErrorUpstream             ErrorCode = "UPSTREAM_ERROR"
	ErrorStoreUnavailable     ErrorCode = "STORE_UNAVAILABLE"
	ErrorInternal             ErrorCode = "INTERNAL_ERROR"
	ErrorAssistantDisabled    ErrorCode = "ASSISTANT_DISABLED"
)

// Error is a classified chat failure.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("agent: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("agent: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

var statusByCode = map[ErrorCode]int{
	ErrorInvalidInput:         http.StatusBadRequest,
	ErrorConversationNotFound: http.StatusNotFound,
	ErrorRateLimited:          http.StatusTooManyRequests,
	ErrorUpstream:             http.StatusBadGateway,
	ErrorStoreUnavailable:     http.StatusServiceUnavailable,
	ErrorAssistantDisabled:    http.StatusServiceUnavailable,
	ErrorInternal:             http.StatusInternalServerError,
}

// HTTPStatus maps err to a response status and classified error.
// Unclassified errors become INTERNAL_ERROR.
func HTTPStatus(err error) (int, *Error) {
	var agentErr *Error
	if !errors.As(err, &agentErr) {
		agentErr = newError(ErrorInternal, "internal error", err)
	}
	status, ok := statusByCode[agentErr.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return status, agentErr
}
