package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_WithDetailDoesNotMutateSentinel(t *testing.T) {
	err := ErrInvalidTransition.WithDetail("currentStatus", "ACTIVE")

	assert.Equal(t, "ACTIVE", err.Details["currentStatus"])
	assert.NotContains(t, ErrInvalidTransition.Details, "currentStatus")
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("activate: %w", ErrNotApprovable.WithDetail("versionId", "v1"))

	assert.True(t, stderrors.Is(err, ErrNotApprovable))
	assert.False(t, stderrors.Is(err, ErrNotDraft))
	assert.True(t, HasCode(err, "NOT_APPROVABLE"))
}

func TestError_Retryable(t *testing.T) {
	assert.True(t, ErrStorage.IsRetryable())
	assert.False(t, ErrDuplicateVersionCode.IsRetryable())
	assert.True(t, ErrDuplicateVersionCode.IsFatal())
	assert.True(t, ErrActivationInProgress.AsRetryable().IsRetryable())
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, ToHTTPStatus(ErrNotDraft))
	assert.Equal(t, http.StatusNotFound, ToHTTPStatus(ErrNotFound.WithDetail("id", "x")))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(stderrors.New("boom")))
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(ErrInvalidTransition.
		WithDetail("message", "cannot submit a version in status ACTIVE").
		WithDetail("currentStatus", "ACTIVE"))

	assert.Equal(t, "INVALID_TRANSITION", resp.Code)
	assert.Equal(t, "cannot submit a version in status ACTIVE", resp.Message)
	require.NotNil(t, resp.Details)
	assert.Equal(t, "ACTIVE", resp.Details["currentStatus"])
	assert.NotContains(t, resp.Details, "message")

	plain := ToErrorResponse(stderrors.New("boom"))
	assert.Equal(t, "INTERNAL_ERROR", plain.Code)
}

func TestWrapIfPlain(t *testing.T) {
	domain := ErrNotFound.WithDetail("id", "1")
	assert.Same(t, domain, WrapIfPlain(domain, ErrStorage))

	wrapped := WrapIfPlain(stderrors.New("conn reset"), ErrStorage)
	assert.True(t, HasCode(wrapped, ErrStorage.Code))
	assert.Nil(t, WrapIfPlain(nil, ErrStorage))
}

func TestRecoverPanic(t *testing.T) {
	assert.Nil(t, RecoverPanic("noop", nil))

	err := RecoverPanic("activate", "kaboom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.True(t, HasCode(err, ErrInternal.Code))
}

func TestGuard(t *testing.T) {
	sentinel := stderrors.New("plain failure")
	assert.Same(t, sentinel, Guard("op", func() error { return sentinel }))

	err := Guard("cache_invalidate", func() error {
		var m map[string]int
		m["x"] = 1
		return nil
	})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrInternal.Code))
	assert.Contains(t, err.Error(), "cache_invalidate")
}
