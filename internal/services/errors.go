package services

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies a classified failure condition. Codes are persisted with
// failed jobs and drive the retry policy.
type Code string

const (
	// Non-retryable codes: the job fails immediately.
	CodeInvalidURL        Code = "ERR_INVALID_URL"
	CodeVideoUnavailable  Code = "ERR_VIDEO_UNAVAILABLE"
	CodeGeoBlocked        Code = "ERR_GEO_BLOCKED"
	CodeRestrictedContent Code = "ERR_RESTRICTED_CONTENT"
	CodeCaptionsNotFound  Code = "ERR_CAPTIONS_NOT_FOUND"
	CodeNormalizeFailed   Code = "ERR_NORMALIZE_FAILED"
	CodeChunkingFailed    Code = "ERR_CHUNKING_FAILED"
	CodeTranscribeAuth    Code = "ERR_TRANSCRIBE_AUTH"

	// Retryable codes: one automatic requeue before terminal failure.
	CodeDownloadFailed   Code = "ERR_DOWNLOAD_FAILED"
	CodeTranscribeFailed Code = "ERR_TRANSCRIBE_FAILED"
	CodeNetworkTransient Code = "ERR_NETWORK_TRANSIENT"
	CodeTimeout          Code = "ERR_TRANSCRIBE_TIMEOUT"

	// CodeUnexpected tags uncaught failures; treated as retryable once.
	CodeUnexpected Code = "ERR_UNEXPECTED"
)

var retryableCodes = map[Code]struct{}{
	CodeDownloadFailed:   {},
	CodeTranscribeFailed: {},
	CodeNetworkTransient: {},
	CodeTimeout:          {},
	CodeUnexpected:       {},
}

// CodeRetryable reports the default retry policy for a code.
func CodeRetryable(code Code) bool {
	_, ok := retryableCodes[code]
	return ok
}

// JobError is a classified pipeline failure carrying the persisted code,
// a human-readable message, and the retryable flag. The flag defaults from
// the code's category but individual raise sites may override it (a
// user-requested stop is raised retryable so the job can resume later).
type JobError struct {
	Code      Code
	Message   string
	Retryable bool
	Cause     error
}

func (e *JobError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *JobError) Unwrap() error { return e.Cause }

// NewError builds a JobError whose retryable flag derives from the code.
func NewError(code Code, message string) *JobError {
	return &JobError{Code: code, Message: message, Retryable: CodeRetryable(code)}
}

// WrapError builds a JobError around an underlying cause.
func WrapError(code Code, message string, cause error) *JobError {
	return &JobError{Code: code, Message: message, Retryable: CodeRetryable(code), Cause: cause}
}

// NewErrorRetryable builds a JobError with an explicit retryable override.
func NewErrorRetryable(code Code, message string, retryable bool) *JobError {
	return &JobError{Code: code, Message: message, Retryable: retryable}
}

// ErrorDetails captures the structured fields recovered from a stage error.
type ErrorDetails struct {
	Code      Code
	Message   string
	Retryable bool
	Cause     error
}

// Details extracts classified fields from err. Errors without a JobError in
// their chain are reported as unexpected and retryable once, per the
// unclassified-failure policy.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return ErrorDetails{
			Code:      jobErr.Code,
			Message:   jobErr.Message,
			Retryable: jobErr.Retryable,
			Cause:     jobErr.Cause,
		}
	}
	return ErrorDetails{
		Code:      CodeUnexpected,
		Message:   strings.TrimSpace(err.Error()),
		Retryable: true,
		Cause:     err,
	}
}

// IsRetryable reports whether err should trigger an automatic requeue.
func IsRetryable(err error) bool {
	return Details(err).Retryable
}

// TruncateMessage bounds persisted error messages.
func TruncateMessage(message string) string {
	const limit = 2000
	if len(message) <= limit {
		return message
	}
	return message[:limit]
}
