package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an AppError into the taxonomy the engine propagates
// differently by (see design docs): configuration, validation, tool/hook
// runtime, LLM transport, journal I/O, and consistency errors each have a
// distinct recovery policy at the call site.
type ErrorCode string

const (
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeAlreadyExists  ErrorCode = "ALREADY_EXISTS"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"

	// CodeConfigInvalid: agent or tool configuration rejected at load time
	// (unknown tool syntax, forbidden exec: metacharacters, :raw outside
	// shell: mode). Caught before a run starts; fail fast with hint text.
	CodeConfigInvalid ErrorCode = "CONFIG_INVALID"
	// CodeValidation: the LLM supplied arguments that don't satisfy a tool's
	// declared parameters. Never fatal — surfaced to the model as an
	// ACTION_RESULT observation so it can retry.
	CodeValidation ErrorCode = "VALIDATION"
	// CodeToolRuntime: a tool or hook process failed, timed out, or
	// produced malformed output. Captured into the journal; the run
	// continues.
	CodeToolRuntime ErrorCode = "TOOL_RUNTIME"
	// CodeLLMTransport: the chat-completion endpoint could not be reached
	// or returned an unrecoverable status after retries exhausted.
	CodeLLMTransport ErrorCode = "LLM_TRANSPORT"
	// CodeJournalIO: the append-only journal or metadata.json could not be
	// written or read back. Always fatal to the current run.
	CodeJournalIO ErrorCode = "JOURNAL_IO"
	// CodeConsistency: a precondition about run identity or state was
	// violated (duplicate run ID, resume of a non-resumable status, missing
	// agent path). Detected before any state is mutated.
	CodeConsistency ErrorCode = "CONSISTENCY"
)

// AppError is the engine's typed error envelope. Every error that crosses a
// component boundary is wrapped in one so callers can branch on Code
// instead of string-matching messages.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func NewAlreadyExistsError(message string) *AppError {
	return &AppError{Code: CodeAlreadyExists, Message: message}
}

func NewInternalError(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message}
}

func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

func NewConfigError(message string) *AppError {
	return &AppError{Code: CodeConfigInvalid, Message: message}
}

func NewConfigErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeConfigInvalid, Message: message, Err: cause}
}

func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

func NewToolRuntimeError(message string, cause error) *AppError {
	return &AppError{Code: CodeToolRuntime, Message: message, Err: cause}
}

func NewLLMTransportError(message string, cause error) *AppError {
	return &AppError{Code: CodeLLMTransport, Message: message, Err: cause}
}

func NewJournalIOError(message string, cause error) *AppError {
	return &AppError{Code: CodeJournalIO, Message: message, Err: cause}
}

func NewConsistencyError(message string) *AppError {
	return &AppError{Code: CodeConsistency, Message: message}
}

func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}

func IsInvalidInput(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeInvalidInput
	}
	return false
}

// Is reports whether err is an *AppError carrying the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
