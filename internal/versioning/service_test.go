package versioning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskcfg/pkg/cel"
	"riskcfg/pkg/errors"
	"riskcfg/pkg/models"
	"riskcfg/pkg/retry"
)

var (
	alice = Actor{ID: "alice"}
	bob   = Actor{ID: "bob"}
	root  = Actor{ID: "root", Admin: true}
)

// stepClock advances one second per reading so timestamps are strictly ordered.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}
}

func newTestService(t *testing.T, opts ...Option) (*Service, *MemoryStore) {
	t.Helper()
	evaluator, err := cel.NewEvaluator()
	require.NoError(t, err)

	store := NewMemoryStore()
	base := []Option{
		WithClock(newStepClock().Now),
		WithActivationPolicy(2*time.Second, testPolicy()),
	}
	return NewService(store, evaluator, append(base, opts...)...), store
}

func createDraft(t *testing.T, s *Service, eventNo, code string) *Version {
	t.Helper()
	v, err := s.CreateVersion(context.Background(), CreateVersionRequest{EventNo: eventNo, VersionCode: code, VersionDesc: code + " desc"}, alice)
	require.NoError(t, err)
	return v
}

func approve(t *testing.T, s *Service, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Submit(ctx, id, alice)
	require.NoError(t, err)
	_, err = s.Approve(ctx, id, "bob", alice)
	require.NoError(t, err)
}

func approvedDraft(t *testing.T, s *Service, eventNo, code string) *Version {
	t.Helper()
	v := createDraft(t, s, eventNo, code)
	approve(t, s, v.ID)
	return v
}

func mustGet(t *testing.T, s *Service, id string) *Version {
	t.Helper()
	v, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return v
}

func changeTypes(t *testing.T, s *Service, id string) []ChangeType {
	t.Helper()
	logs, err := s.ChangeLogs(context.Background(), id)
	require.NoError(t, err)
	out := make([]ChangeType, len(logs))
	for i, l := range logs {
		out[i] = l.ChangeType
	}
	return out
}

func countActive(t *testing.T, s *Service, eventNo string) int {
	t.Helper()
	history, err := s.History(context.Background(), eventNo)
	require.NoError(t, err)
	n := 0
	for _, v := range history {
		if v.Status == StatusActive {
			n++
		}
	}
	return n
}

func TestScenario_CopyActivatedVersionAndActivateCopy(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	v1 := approvedDraft(t, s, "E1", "v1")
	_, err := s.AddArtifact(ctx, v1.ID, ArtifactRequest{
		ConfigType: ConfigTypeField,
		ConfigKey:  "amount",
		Attributes: map[string]interface{}{"dataType": "DECIMAL"},
	}, alice)
	require.ErrorIs(t, err, errors.ErrNotDraft)

	_, err = s.Activate(ctx, v1.ID, alice)
	require.NoError(t, err)

	v2, err := s.CopyVersion(ctx, v1.ID, "v2", alice)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, v2.Status)
	assert.Equal(t, StatusActive, mustGet(t, s, v1.ID).Status)

	approve(t, s, v2.ID)
	activated, err := s.Activate(ctx, v2.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, "bob", activated.ActivatedBy)
	require.NotNil(t, activated.ActivatedDate)

	assert.Equal(t, StatusArchived, mustGet(t, s, v1.ID).Status)
	assert.Equal(t, StatusActive, mustGet(t, s, v2.ID).Status)

	current, err := s.Current(ctx, "E1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, v2.ID, current.ID)
}

func TestCopyVersion_ClonesArtifactsAndLeavesSourceUntouched(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	v1 := createDraft(t, s, "E1", "v1")
	for _, key := range []string{"amount", "city"} {
		_, err := s.AddArtifact(ctx, v1.ID, ArtifactRequest{
			ConfigType: ConfigTypeField,
			ConfigKey:  key,
			Attributes: map[string]interface{}{"dataType": "STRING"},
		}, alice)
		require.NoError(t, err)
	}
	_, err := s.AddArtifact(ctx, v1.ID, ArtifactRequest{
		ConfigType: ConfigTypeDeriveField,
		ConfigKey:  "is_large",
		Attributes: map[string]interface{}{"expression": "double(event.amount) > 1000.0"},
	}, alice)
	require.NoError(t, err)
	approve(t, s, v1.ID)

	v2, err := s.CopyVersion(ctx, v1.ID, "v2", bob)
	require.NoError(t, err)
	assert.Equal(t, "bob", v2.CreatedBy)

	src, err := s.ListArtifacts(ctx, v1.ID, "")
	require.NoError(t, err)
	dst, err := s.ListArtifacts(ctx, v2.ID, "")
	require.NoError(t, err)
	require.Len(t, dst, 3)
	for i := range dst {
		assert.Equal(t, src[i].ConfigKey, dst[i].ConfigKey)
		assert.Equal(t, src[i].Attributes, dst[i].Attributes)
		assert.NotEqual(t, src[i].ID, dst[i].ID)
		assert.Equal(t, "v2", dst[i].VersionCode)
	}
	assert.Equal(t, StatusApproved, mustGet(t, s, v1.ID).Status)

	diff, err := s.Compare(ctx, v1.ID, v2.ID)
	require.NoError(t, err)
	assert.True(t, diff.Empty())

	logs, err := s.ChangeLogs(ctx, v2.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, ChangeCreate, logs[0].ChangeType)
	assert.Equal(t, "copied from v1", logs[0].ChangeReason)
}

func TestCreateVersion_DuplicateCodeFails(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	createDraft(t, s, "E1", "v1")
	_, err := s.CreateVersion(ctx, CreateVersionRequest{EventNo: "E1", VersionCode: "v1"}, bob)
	require.ErrorIs(t, err, errors.ErrDuplicateVersionCode)

	_, err = s.CopyVersion(ctx, mustHistory(t, s, "E1")[0].ID, "v1", bob)
	require.ErrorIs(t, err, errors.ErrDuplicateVersionCode)

	assert.Len(t, mustHistory(t, s, "E1"), 1)

	_, err = s.CreateVersion(ctx, CreateVersionRequest{EventNo: "E2", VersionCode: "v1"}, bob)
	assert.NoError(t, err)
}

func mustHistory(t *testing.T, s *Service, eventNo string) []Version {
	t.Helper()
	history, err := s.History(context.Background(), eventNo)
	require.NoError(t, err)
	return history
}

func TestCreateVersion_Validation(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.CreateVersion(context.Background(), CreateVersionRequest{VersionCode: "v1"}, alice)
	assert.True(t, errors.IsValidation(err))

	_, err = s.CreateVersion(context.Background(), CreateVersionRequest{EventNo: "E1", VersionCode: "  "}, alice)
	assert.True(t, errors.IsValidation(err))
}

func TestDiscardDraft_SubmittedVersionIsKept(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	v := createDraft(t, s, "E1", "v1")
	_, err := s.AddArtifact(ctx, v.ID, ArtifactRequest{ConfigType: ConfigTypeField, ConfigKey: "amount"}, alice)
	require.NoError(t, err)
	_, err = s.Submit(ctx, v.ID, alice)
	require.NoError(t, err)
	before := changeTypes(t, s, v.ID)

	err = s.DiscardDraft(ctx, v.ID, alice)
	require.ErrorIs(t, err, errors.ErrNotDraft)

	assert.Equal(t, StatusSubmitted, mustGet(t, s, v.ID).Status)
	artifacts, err := s.ListArtifacts(ctx, v.ID, "")
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)
	assert.Equal(t, before, changeTypes(t, s, v.ID))
}

func TestDiscardDraft_OwnerOrAdminOnly(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	v := createDraft(t, s, "E1", "v1")
	_, err := s.AddArtifact(ctx, v.ID, ArtifactRequest{ConfigType: ConfigTypeField, ConfigKey: "amount"}, alice)
	require.NoError(t, err)

	err = s.DiscardDraft(ctx, v.ID, bob)
	require.ErrorIs(t, err, errors.ErrForbidden)

	require.NoError(t, s.DiscardDraft(ctx, v.ID, root))

	_, err = s.Get(ctx, v.ID)
	assert.True(t, errors.IsNotFound(err))

	// The audit trail outlives the draft.
	assert.Equal(t, []ChangeType{ChangeCreate, ChangeAdd, ChangeDelete}, changeTypes(t, s, v.ID))

	again := createDraft(t, s, "E1", "v1")
	artifacts, err := s.ListArtifacts(ctx, again.ID, "")
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestArtifacts_EditableOnlyWhileDraft(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	v := createDraft(t, s, "E1", "v1")
	a, err := s.AddArtifact(ctx, v.ID, ArtifactRequest{
		ConfigType: ConfigTypeStage,
		ConfigKey:  "precheck",
		Attributes: map[string]interface{}{"condition": "event.amount > 10", "order": 1},
	}, alice)
	require.NoError(t, err)

	updated, err := s.UpdateArtifact(ctx, v.ID, a.ID, ArtifactRequest{
		Attributes: map[string]interface{}{"condition": "event.amount > 20", "order": 1},
	}, alice)
	require.NoError(t, err)
	assert.Equal(t, "event.amount > 20", updated.Attributes["condition"])

	_, err = s.Submit(ctx, v.ID, alice)
	require.NoError(t, err)

	_, err = s.AddArtifact(ctx, v.ID, ArtifactRequest{ConfigType: ConfigTypeField, ConfigKey: "x"}, alice)
	assert.ErrorIs(t, err, errors.ErrNotDraft)
	_, err = s.UpdateArtifact(ctx, v.ID, a.ID, ArtifactRequest{Attributes: map[string]interface{}{"order": 2}}, alice)
	assert.ErrorIs(t, err, errors.ErrNotDraft)
	err = s.DeleteArtifact(ctx, v.ID, a.ID, alice)
	assert.ErrorIs(t, err, errors.ErrNotDraft)

	_, err = s.Reject(ctx, v.ID, "order must start at 0", bob)
	require.NoError(t, err)
	require.NoError(t, s.DeleteArtifact(ctx, v.ID, a.ID, alice))
}

func TestArtifacts_ChangeLogEntries(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	v := createDraft(t, s, "E1", "v1")
	a, err := s.AddArtifact(ctx, v.ID, ArtifactRequest{
		ConfigType: ConfigTypeIndicator,
		ConfigKey:  "velocity",
		Attributes: map[string]interface{}{"window": 60, "threshold": 5, "name": "Velocity"},
	}, alice)
	require.NoError(t, err)

	_, err = s.UpdateArtifact(ctx, v.ID, a.ID, ArtifactRequest{
		Attributes: map[string]interface{}{"window": 60, "threshold": 8, "name": "Velocity 1h"},
	}, alice)
	require.NoError(t, err)

	// No-op update writes nothing.
	_, err = s.UpdateArtifact(ctx, v.ID, a.ID, ArtifactRequest{
		Attributes: map[string]interface{}{"window": 60, "threshold": 8, "name": "Velocity 1h"},
	}, alice)
	require.NoError(t, err)

	logs, err := s.ChangeLogs(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)

	update := logs[2]
	assert.Equal(t, ChangeUpdate, update.ChangeType)
	assert.Equal(t, ConfigTypeIndicator, update.ConfigType)
	assert.Equal(t, a.ID, update.ConfigID)
	assert.Equal(t, "name,threshold", update.FieldName)
	assert.JSONEq(t, `{"name":"Velocity","threshold":5}`, update.OldValue)
	assert.JSONEq(t, `{"name":"Velocity 1h","threshold":8}`, update.NewValue)
}

func TestArtifacts_ValidationAndKeys(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	v := createDraft(t, s, "E1", "v1")

	_, err := s.AddArtifact(ctx, v.ID, ArtifactRequest{
		ConfigType: ConfigTypeDeriveField,
		ConfigKey:  "broken",
		Attributes: map[string]interface{}{"expression": "event.amount >"},
	}, alice)
	assert.True(t, errors.IsValidation(err))

	_, err = s.AddArtifact(ctx, v.ID, ArtifactRequest{
		ConfigType: ConfigTypeIndicator,
		ConfigKey:  "not_bool",
		Attributes: map[string]interface{}{"condition": "'text'"},
	}, alice)
	assert.True(t, errors.IsValidation(err))

	_, err = s.AddArtifact(ctx, v.ID, ArtifactRequest{ConfigType: ConfigTypeVersion, ConfigKey: "x"}, alice)
	assert.True(t, errors.IsValidation(err))

	req := ArtifactRequest{ConfigType: ConfigTypeStatementDependency, ConfigKey: "stmt-1", Attributes: map[string]interface{}{"statementId": "S1"}}
	_, err = s.AddArtifact(ctx, v.ID, req, alice)
	require.NoError(t, err)
	_, err = s.AddArtifact(ctx, v.ID, req, alice)
	assert.True(t, errors.IsConflict(err))
}

func TestEvaluateArtifact(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	v := createDraft(t, s, "E1", "v1")

	a, err := s.AddArtifact(ctx, v.ID, ArtifactRequest{
		ConfigType: ConfigTypeDeriveField,
		ConfigKey:  "is_large",
		Attributes: map[string]interface{}{"expression": "double(event.amount) > fields.limit"},
	}, alice)
	require.NoError(t, err)

	res, err := s.EvaluateArtifact(ctx, v.ID, a.ID, EvaluateRequest{
		Event:  map[string]interface{}{"amount": 1500},
		Fields: map[string]interface{}{"limit": 1000.0},
	})
	require.NoError(t, err)
	assert.Equal(t, true, res.Value)
	assert.Equal(t, "is_large", res.ConfigKey)

	_, err = s.EvaluateArtifact(ctx, v.ID, "missing", EvaluateRequest{})
	assert.True(t, errors.IsNotFound(err))
}

func TestSubmitApproveReject(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	v := createDraft(t, s, "E1", "v1")

	_, err := s.Approve(ctx, v.ID, "bob", alice)
	require.ErrorIs(t, err, errors.ErrInvalidTransition)

	_, err = s.Submit(ctx, v.ID, alice)
	require.NoError(t, err)

	_, err = s.Reject(ctx, v.ID, "  ", bob)
	assert.True(t, errors.IsValidation(err))

	rejected, err := s.Reject(ctx, v.ID, "missing indicators", bob)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, rejected.Status)
	assert.Equal(t, "missing indicators", rejected.RejectReason)

	submitted, err := s.Submit(ctx, v.ID, alice)
	require.NoError(t, err)
	assert.Empty(t, submitted.RejectReason)

	_, err = s.Approve(ctx, v.ID, "", Actor{})
	assert.True(t, errors.IsValidation(err))

	approved, err := s.Approve(ctx, v.ID, "", bob)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Equal(t, "bob", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedDate)

	logs, err := s.ChangeLogs(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, logs, 5)
	assert.Equal(t, ChangeReject, logs[2].ChangeType)
	assert.Equal(t, "missing indicators", logs[2].ChangeReason)
	assert.Equal(t, string(StatusSubmitted), logs[2].OldValue)
	assert.Equal(t, string(StatusDraft), logs[2].NewValue)
}

// seedVersion inserts a version directly in the given status.
func seedVersion(t *testing.T, store *MemoryStore, eventNo, code string, status Status) *Version {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v := &Version{
		ID:               code + "-" + eventNo,
		EventNo:          eventNo,
		VersionCode:      code,
		Status:           status,
		CreatedBy:        alice.ID,
		CreatedDate:      now,
		LastModifiedBy:   alice.ID,
		LastModifiedDate: now,
	}
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertVersion(ctx, v)
	}))
	return v
}

func TestTransitionTotality(t *testing.T) {
	ctx := context.Background()
	apply := map[Action]func(s *Service, id string) error{
		ActionSubmit: func(s *Service, id string) error {
			_, err := s.Submit(ctx, id, alice)
			return err
		},
		ActionApprove: func(s *Service, id string) error {
			_, err := s.Approve(ctx, id, "bob", alice)
			return err
		},
		ActionReject: func(s *Service, id string) error {
			_, err := s.Reject(ctx, id, "no", bob)
			return err
		},
		ActionActivate: func(s *Service, id string) error {
			_, err := s.Activate(ctx, id, alice)
			return err
		},
		ActionRollback: func(s *Service, id string) error {
			_, err := s.Rollback(ctx, id, alice)
			return err
		},
		ActionDiscard: func(s *Service, id string) error {
			return s.DiscardDraft(ctx, id, alice)
		},
	}

	for _, from := range AllStatuses {
		for action, fn := range apply {
			t.Run(string(from)+"/"+string(action), func(t *testing.T) {
				s, store := newTestService(t)
				v := seedVersion(t, store, "E1", "v1", from)
				before := store.PendingOutbox()

				err := fn(s, v.ID)

				logs, logErr := s.ChangeLogs(ctx, v.ID)
				require.NoError(t, logErr)
				if _, legal := transitions[from][action]; legal {
					require.NoError(t, err)
					assert.Len(t, logs, 1)
					assert.Len(t, store.PendingOutbox(), len(before)+1)
					return
				}
				require.Error(t, err)
				assert.True(t, IsInvalidTransition(err), "got %v", err)
				assert.Empty(t, logs)
				assert.Equal(t, from, mustGet(t, s, v.ID).Status)
				assert.Len(t, store.PendingOutbox(), len(before))
			})
		}
	}
}

func TestHistoryAndSearch(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	for _, code := range []string{"v1", "v2", "v3", "hotfix"} {
		createDraft(t, s, "E1", code)
	}
	createDraft(t, s, "E2", "v1")

	history := mustHistory(t, s, "E1")
	require.Len(t, history, 4)
	assert.Equal(t, "hotfix", history[0].VersionCode)
	assert.Equal(t, "v1", history[3].VersionCode)

	page, err := s.SearchHistory(ctx, HistoryQuery{EventNo: "E1", VersionCode: "V", Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Current)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "v1", page.Data[0].VersionCode)

	page, err = s.SearchHistory(ctx, HistoryQuery{EventNo: "E1", Status: StatusActive})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.Empty(t, page.Data)
	assert.Equal(t, 1, page.Current)
	assert.Equal(t, 20, page.PageSize)

	_, err = s.SearchHistory(ctx, HistoryQuery{})
	assert.True(t, errors.IsValidation(err))
}

func TestCurrentAndDefault(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	current, err := s.Current(ctx, "E1")
	require.NoError(t, err)
	assert.Nil(t, current)

	def, err := s.Default(ctx, "E1")
	require.NoError(t, err)
	assert.Nil(t, def)

	v1 := approvedDraft(t, s, "E1", "v1")
	def, err = s.Default(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, def.ID)

	draft := createDraft(t, s, "E1", "v2")
	def, err = s.Default(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, draft.ID, def.ID)

	_, err = s.Activate(ctx, v1.ID, alice)
	require.NoError(t, err)
	def, err = s.Default(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, def.ID)
}

func TestLifecycleNotificationsAreQueued(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()

	a := approvedDraft(t, s, "E1", "a")
	_, err := s.Activate(ctx, a.ID, alice)
	require.NoError(t, err)

	var types []string
	for _, msg := range store.PendingOutbox() {
		assert.Equal(t, "E1", msg.EventNo)
		types = append(types, msg.EventType)
	}
	assert.Equal(t, []string{
		models.EventTypeVersionCreated,
		models.EventTypeVersionSubmitted,
		models.EventTypeVersionApproved,
		models.EventTypeVersionActivated,
	}, types)
}
