package versioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskcfg/pkg/errors"
)

func TestNext_LegalTransitions(t *testing.T) {
	tests := []struct {
		from   Status
		action Action
		want   Status
	}{
		{StatusDraft, ActionSubmit, StatusSubmitted},
		{StatusDraft, ActionDiscard, statusDeleted},
		{StatusSubmitted, ActionApprove, StatusApproved},
		{StatusSubmitted, ActionReject, StatusDraft},
		{StatusApproved, ActionActivate, StatusActive},
		{StatusActive, ActionArchive, StatusArchived},
		{StatusArchived, ActionRollback, StatusApproved},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			got, err := Next(tt.from, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNext_EveryUnlistedPairFails(t *testing.T) {
	legal := 0
	for _, from := range AllStatuses {
		for _, action := range AllActions {
			_, err := Next(from, action)
			if _, ok := transitions[from][action]; ok {
				legal++
				assert.NoError(t, err)
				continue
			}

			require.Error(t, err, "%s/%s", from, action)
			assert.True(t, IsInvalidTransition(err), "%s/%s", from, action)

			var appErr *errors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, string(from), appErr.Details["currentStatus"])
			assert.Equal(t, string(action), appErr.Details["action"])
		}
	}
	assert.Equal(t, 7, legal)
}

func TestNext_ActionSpecificCodes(t *testing.T) {
	_, err := Next(StatusDraft, ActionActivate)
	assert.ErrorIs(t, err, errors.ErrNotApprovable)

	_, err = Next(StatusActive, ActionRollback)
	assert.ErrorIs(t, err, errors.ErrNotArchived)

	_, err = Next(StatusSubmitted, ActionDiscard)
	assert.ErrorIs(t, err, errors.ErrNotDraft)

	_, err = Next(StatusApproved, ActionSubmit)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestNext_CreateHasNoSourceStatus(t *testing.T) {
	for _, from := range AllStatuses {
		_, err := Next(from, ActionCreate)
		assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	}
	assert.Equal(t, StatusDraft, Initial())
}

func TestAllowed(t *testing.T) {
	assert.Equal(t, []Action{ActionSubmit, ActionDiscard}, Allowed(StatusDraft))
	assert.Equal(t, []Action{ActionApprove, ActionReject}, Allowed(StatusSubmitted))
	assert.Equal(t, []Action{ActionRollback}, Allowed(StatusArchived))
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" active ")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, st)

	_, err = ParseStatus("PUBLISHED")
	assert.True(t, errors.IsValidation(err))
}
