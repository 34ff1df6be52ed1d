package versioning

import (
	"context"
	stderrors "errors"
	"fmt"

	"riskcfg/pkg/errors"
)

func duplicateVersionCode(eventNo, versionCode string) error {
	return errors.ErrDuplicateVersionCode.
		WithDetail("eventNo", eventNo).
		WithDetail("versionCode", versionCode)
}

func duplicateArtifactKey(a *Artifact) error {
	return errors.ErrConflict.
		WithMessage(fmt.Sprintf("%s %q already exists in version %s", a.ConfigType, a.ConfigKey, a.VersionCode)).
		WithDetail("configType", string(a.ConfigType)).
		WithDetail("configKey", a.ConfigKey)
}

// errActiveConflict marks losing a race for an event's active pointer. It is the only retryable
// domain error; the activation loop retries it and the caller sees ActivationInProgress.
func errActiveConflict(eventNo string) error {
	return errors.ErrActivationInProgress.WithDetail("eventNo", eventNo).AsRetryable()
}

func isContention(err error) bool {
	return errors.HasCode(err, errors.ErrActivationInProgress.Code)
}

// IsInvalidTransition reports any lifecycle rejection, including the action-specific codes.
func IsInvalidTransition(err error) bool {
	for _, code := range []string{
		errors.ErrInvalidTransition.Code,
		errors.ErrNotApprovable.Code,
		errors.ErrNotArchived.Code,
		errors.ErrNotDraft.Code,
	} {
		if errors.HasCode(err, code) {
			return true
		}
	}
	return false
}

func storageError(err error, op string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.ErrTimeout.WithCause(err).WithDetail("operation", op)
	}
	return errors.WrapIfPlain(err, errors.ErrStorage.WithDetail("operation", op))
}
