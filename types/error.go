package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Orchestration error codes
const (
	ErrAgentNotFound     ErrorCode = "AGENT_NOT_FOUND"
	ErrInvalidDefinition ErrorCode = "INVALID_DEFINITION"
	ErrGovernanceBlocked ErrorCode = "GOVERNANCE_BLOCKED"
	ErrModelInvocation   ErrorCode = "MODEL_INVOCATION_ERROR"
	ErrAlignmentFlagged  ErrorCode = "ALIGNMENT_FLAGGED"
	ErrPersistence       ErrorCode = "PERSISTENCE_ERROR"
	ErrTaskNotFound      ErrorCode = "TASK_NOT_FOUND"
	ErrTaskCancelled     ErrorCode = "TASK_CANCELLED"
	ErrInterrupted       ErrorCode = "INTERRUPTED"
)

// Request error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
// Message is safe to show to callers; Cause is for logs only.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	if e, ok := AsError(err); ok {
		return e.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// --- 常用错误构造 ---

// NewAgentNotFoundError 返回未注册或已禁用 Agent 的错误
func NewAgentNotFoundError(agentID string) *Error {
	return NewError(ErrAgentNotFound, fmt.Sprintf("agent %q not found", agentID)).
		WithHTTPStatus(http.StatusNotFound)
}

// NewInvalidDefinitionError 返回注册校验失败的错误
func NewInvalidDefinitionError(reason string) *Error {
	return NewError(ErrInvalidDefinition, "invalid agent definition: "+reason).
		WithHTTPStatus(http.StatusBadRequest)
}

// NewInvalidInputError 返回任务输入校验失败的错误
func NewInvalidInputError(reason string) *Error {
	return NewError(ErrInvalidInput, "invalid task input: "+reason).
		WithHTTPStatus(http.StatusBadRequest)
}

// NewTaskNotFoundError 返回任务不存在的错误
func NewTaskNotFoundError(taskID string) *Error {
	return NewError(ErrTaskNotFound, fmt.Sprintf("task %q not found", taskID)).
		WithHTTPStatus(http.StatusNotFound)
}

// NewPersistenceError 包装存储层错误；调用方不可信任未落库的任务结果
func NewPersistenceError(op string, cause error) *Error {
	return NewError(ErrPersistence, "failed to record task outcome").
		WithHTTPStatus(http.StatusInternalServerError).
		WithRetryable(true).
		WithCause(fmt.Errorf("%s: %w", op, cause))
}
