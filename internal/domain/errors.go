package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to clients. Every pipeline failure carries one.
const (
	CodeFileNotFound      = "FILE_NOT_FOUND"
	CodeFileExpired       = "FILE_EXPIRED"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeInvalidFileFormat = "INVALID_FILE_FORMAT"
	CodeParsingFailed     = "PARSING_FAILED"

	CodeValidationFailed = "VALIDATION_FAILED"
	CodeInvalidDataType  = "INVALID_DATA_TYPE"
	CodeMissingField     = "MISSING_FIELD"
	CodeInvalidValue     = "INVALID_VALUE"
	CodeDuplicateRecord  = "DUPLICATE_RECORD"

	CodeReconciliationNotFound    = "RECONCILIATION_NOT_FOUND"
	CodeReconciliationNotComplete = "RECONCILIATION_NOT_COMPLETE"
	CodeInvalidDecision           = "INVALID_DECISION"

	CodeImportNotFound        = "IMPORT_NOT_FOUND"
	CodeImportAlreadyExecuted = "IMPORT_ALREADY_EXECUTED"
	CodeImportNotReady        = "IMPORT_NOT_READY"
	CodeExecutionFailed       = "EXECUTION_FAILED"

	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	CodeBadRequest       = "BAD_REQUEST"
	CodeConcurrentUpdate = "CONCURRENT_UPDATE"
	CodeInternal         = "INTERNAL_ERROR"
)

// Error is a machine readable pipeline error: a stable code, a human message,
// an HTTP style status class, and optional structured detail.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetails attaches structured detail to the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// NewError builds a coded error with an explicit status class.
func NewError(code string, status int, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Status:  status,
	}
}

// ErrFileNotFound reports an unknown or already evicted staging handle.
func ErrFileNotFound(id any) *Error {
	return NewError(CodeFileNotFound, http.StatusNotFound, "staged file %v not found", id)
}

// ErrFileExpired reports a handle read past its time to live.
func ErrFileExpired(id any) *Error {
	return NewError(CodeFileExpired, http.StatusGone, "staged file %v has expired", id)
}

// ErrFileTooLarge reports an upload over the configured size limit.
func ErrFileTooLarge(size, limit int64) *Error {
	return NewError(CodeFileTooLarge, http.StatusRequestEntityTooLarge,
		"file size %d exceeds limit %d", size, limit)
}

// ErrInvalidFileFormat reports an unsupported upload media type.
func ErrInvalidFileFormat(mediaType string) *Error {
	return NewError(CodeInvalidFileFormat, http.StatusUnsupportedMediaType,
		"unsupported file format %q", mediaType)
}

// ErrImportNotReady reports an execution attempt before the file reached ready.
func ErrImportNotReady(status ImportStatus) *Error {
	return NewError(CodeImportNotReady, http.StatusConflict,
		"import is not ready to execute (status %s)", status)
}

// ErrImportAlreadyExecuted guards at-most-once execution.
func ErrImportAlreadyExecuted(id any) *Error {
	return NewError(CodeImportAlreadyExecuted, http.StatusConflict,
		"staged file %v has already been imported", id)
}

// ErrReconciliationNotComplete reports unresolved ambiguous matches at execute time.
func ErrReconciliationNotComplete(unresolved int) *Error {
	return NewError(CodeReconciliationNotComplete, http.StatusConflict,
		"%d ambiguous matches are unresolved", unresolved).
		WithDetails(map[string]any{"unresolved": unresolved})
}

// ErrConcurrentUpdate reports a lost optimistic concurrency race on a handle.
func ErrConcurrentUpdate(id any) *Error {
	return NewError(CodeConcurrentUpdate, http.StatusConflict,
		"staged file %v was modified concurrently", id)
}

// ErrBadRequest wraps a client input problem.
func ErrBadRequest(format string, args ...any) *Error {
	return NewError(CodeBadRequest, http.StatusBadRequest, format, args...)
}

// ErrInternal hides internals behind a generic message; the cause is for logs only.
func ErrInternal(err error) *Error {
	return NewError(CodeInternal, http.StatusInternalServerError, "internal error")
}

// AsError unwraps a coded pipeline error if the chain carries one.
func AsError(err error) (*Error, bool) {
	var coded *Error
	if errors.As(err, &coded) {
		return coded, true
	}
	return nil, false
}

// CodeOf returns the machine readable code of an error chain, or CodeInternal.
func CodeOf(err error) string {
	if coded, ok := AsError(err); ok {
		return coded.Code
	}
	return CodeInternal
}
