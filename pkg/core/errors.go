package core

import (
	"errors"
	"fmt"
)

// Error is the error type returned by every interview component.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Code    string    `json:"code,omitempty"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrDeviceUnavailable  ErrorType = "device_unavailable"
	ErrNetwork            ErrorType = "network_failure"
	ErrNoMoreQuestions    ErrorType = "no_more_questions"
	ErrMalformedTelemetry ErrorType = "malformed_telemetry_message"
	ErrCodecUnsupported   ErrorType = "codec_unsupported"
	ErrAlreadyRecording   ErrorType = "already_recording"
	ErrInvalidState       ErrorType = "invalid_state"
	ErrInvalidRequest     ErrorType = "invalid_request_error"
)

// NewDeviceUnavailableError reports a camera or microphone that is denied or absent.
func NewDeviceUnavailableError(device string, cause error) *Error {
	msg := device + " is unavailable"
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &Error{
		Type:    ErrDeviceUnavailable,
		Message: msg,
		Param:   device,
		Err:     cause,
	}
}

// NewNetworkError wraps a failed round-trip to an external collaborator.
func NewNetworkError(op string, cause error) *Error {
	msg := op + " failed"
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &Error{
		Type:    ErrNetwork,
		Message: msg,
		Param:   op,
		Err:     cause,
	}
}

// NewNetworkStatusError reports a non-success HTTP status from a collaborator.
func NewNetworkStatusError(op string, status int, detail string) *Error {
	msg := fmt.Sprintf("%s failed with status %d", op, status)
	if detail != "" {
		msg += ": " + detail
	}
	return &Error{
		Type:    ErrNetwork,
		Message: msg,
		Param:   op,
		Code:    fmt.Sprintf("http_%d", status),
	}
}

// NewNoMoreQuestionsError is the expected terminal signal of the question source.
func NewNoMoreQuestionsError(message string) *Error {
	if message == "" {
		message = "No more questions."
	}
	return &Error{
		Type:    ErrNoMoreQuestions,
		Message: message,
	}
}

// NewMalformedTelemetryError reports an inbound telemetry payload that was discarded.
func NewMalformedTelemetryError(message string) *Error {
	return &Error{
		Type:    ErrMalformedTelemetry,
		Message: message,
	}
}

// NewCodecUnsupportedError reports that no audio encoding could be negotiated.
func NewCodecUnsupportedError(message string) *Error {
	return &Error{
		Type:    ErrCodecUnsupported,
		Message: message,
	}
}

// NewAlreadyRecordingError reports a second start without an intervening stop.
func NewAlreadyRecordingError() *Error {
	return &Error{
		Type:    ErrAlreadyRecording,
		Message: "a recording is already in progress",
	}
}

// NewInvalidStateError reports an operation attempted in the wrong phase.
func NewInvalidStateError(message string) *Error {
	return &Error{
		Type:    ErrInvalidState,
		Message: message,
	}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	return e.Type == ErrNetwork
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsType reports whether err is, or wraps, a *Error of type t.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == t
}

// IsRetryable reports whether err is, or wraps, a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.IsRetryable()
}
