package errors

import "net/http"

const (
	ErrCodeInvalidRequestBody = 20000 + iota
	ErrCodeMissingRecordID
	ErrCodeMissingPayloadKey
	ErrCodePublishFailed
	ErrCodeMalformedMessage
	ErrCodePullFailed
	ErrCodeAcknowledgeFailed
)

type Error struct {
	Code       int64  `json:"code"`
	Message    string `json:"message"`
	Cause      error  `json:"-"` // the underlying error
	Details    any    `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func NewError(code int64, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// BadRequest builds a caller error answered with 400.
func BadRequest(code int64, message string, cause error) *Error {
	return NewError(code, message, cause).WithStatusCode(http.StatusBadRequest)
}

// Internal builds a server side error answered with 500.
func Internal(code int64, message string, cause error) *Error {
	return NewError(code, message, cause).WithStatusCode(http.StatusInternalServerError)
}

func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func (e *Error) WithStatusCode(statusCode int) *Error {
	e.StatusCode = statusCode
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) GetCode() int64 {
	return e.Code
}

func (e *Error) GetMessage() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) GetDetails() any {
	return e.Details
}

// GetStatusCode falls back to 500 when no status was attached.
func (e *Error) GetStatusCode() int {
	if e.StatusCode == 0 {
		return http.StatusInternalServerError
	}
	return e.StatusCode
}
