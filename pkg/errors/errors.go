package errors

import (
	"errors"
	"fmt"
	"net/http"
)

const CodeSuccess = "SUCCESS"

var (
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation         = NewError("VALIDATION_FAILED", "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrConflict           = NewError("CONFLICT", "resource conflict", http.StatusConflict)
	ErrUnauthorized       = NewError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrForbidden          = NewError("FORBIDDEN", "forbidden", http.StatusForbidden)
	ErrTimeout            = NewError("TIMEOUT", "operation timed out", http.StatusRequestTimeout)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
	ErrStorage            = NewError("STORAGE_ERROR", "storage error", http.StatusInternalServerError)

	ErrInvalidTransition    = NewError("INVALID_TRANSITION", "transition not allowed from current status", http.StatusConflict)
	ErrNotApprovable        = NewError("NOT_APPROVABLE", "version is not approved", http.StatusConflict)
	ErrActivationInProgress = NewError("ACTIVATION_IN_PROGRESS", "another activation for this event is in progress", http.StatusConflict)
	ErrLockTimeout          = NewError("LOCK_TIMEOUT", "timed out waiting for the activation lock", http.StatusConflict)
	ErrDuplicateVersionCode = NewError("DUPLICATE_VERSION_CODE", "version code already exists for this event", http.StatusConflict)
	ErrNotDraft             = NewError("NOT_DRAFT", "version is not a draft", http.StatusConflict)
	ErrNotArchived          = NewError("NOT_ARCHIVED", "version is not archived", http.StatusConflict)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so sentinel comparisons survive WithDetail/WithCause copies.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
	}
	return e.Code == ErrStorage.Code || e.Code == ErrServiceUnavailable.Code || e.Code == ErrTimeout.Code
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func (e *Error) WithMessage(message string) *Error {
	return e.WithDetail("message", message)
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

// WrapIfPlain keeps an existing *Error untouched and wraps anything else.
func WrapIfPlain(err error, appErr *Error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return appErr.WithCause(err)
}

func HasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsNotFound(err error) bool {
	return HasCode(err, ErrNotFound.Code)
}

func IsValidation(err error) bool {
	return HasCode(err, ErrValidation.Code)
}

func IsConflict(err error) bool {
	return HasCode(err, ErrConflict.Code)
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// Response is the uniform envelope every endpoint answers with.
type Response struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Data    interface{}            `json:"data"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func Success(data interface{}) Response {
	return Response{
		Code:    CodeSuccess,
		Message: "ok",
		Data:    data,
	}
}

func ToErrorResponse(err error) Response {
	var appErr *Error
	if !errors.As(err, &appErr) {
		// If it's not our error type, wrap it
		appErr = ErrInternal.WithCause(err)
	}

	response := Response{
		Code:    appErr.Code,
		Message: appErr.Message,
	}

	if len(appErr.Details) > 0 {
		details := make(map[string]interface{}, len(appErr.Details))
		for k, v := range appErr.Details {
			if k == "message" {
				if msg, ok := v.(string); ok && msg != "" {
					response.Message = msg
				}
				continue
			}
			details[k] = v
		}
		if len(details) > 0 {
			response.Details = details
		}
	}

	return response
}
