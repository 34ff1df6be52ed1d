package versioning

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"riskcfg/internal/constants"
	"riskcfg/internal/logger"
	"riskcfg/pkg/cel"
	"riskcfg/pkg/errors"
	"riskcfg/pkg/metrics"
	"riskcfg/pkg/retry"
)

// currentReadTimeout bounds a shared Current read once it is detached from its callers.
const currentReadTimeout = 5 * time.Second

// Service is the entry point for every version operation. Status changes other than
// ACTIVE go through transition; ACTIVE goes through the ActivationCoordinator only.
type Service struct {
	store       Store
	recorder    *ChangeLogRecorder
	drafts      *DraftManager
	coordinator *ActivationCoordinator
	evaluator   *cel.Evaluator
	cache       CurrentCache
	reads       singleflight.Group
	logger      logger.Logger
	now         func() time.Time
	lockTimeout time.Duration
	policy      retry.Policy
}

type Option func(*Service)

func WithCache(cache CurrentCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		s.logger = log
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithActivationPolicy sets how long activations wait for the event lock and how
// contended attempts are retried.
func WithActivationPolicy(lockTimeout time.Duration, policy retry.Policy) Option {
	return func(s *Service) {
		s.lockTimeout = lockTimeout
		s.policy = policy
	}
}

func NewService(store Store, evaluator *cel.Evaluator, opts ...Option) *Service {
	s := &Service{
		store:       store,
		evaluator:   evaluator,
		logger:      logger.NopLogger(),
		now:         time.Now,
		lockTimeout: 5 * time.Second,
		policy:      retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.recorder = NewChangeLogRecorder(s.now)
	s.drafts = NewDraftManager(store, s.recorder, evaluator, s.logger, s.now)
	s.coordinator = NewActivationCoordinator(store, s.recorder, s.logger, s.lockTimeout, s.policy, s.now)
	s.coordinator.OnActivated(s.invalidateCurrent)
	return s
}

func (s *Service) CreateVersion(ctx context.Context, req CreateVersionRequest, actor Actor) (*Version, error) {
	return s.drafts.CreateVersion(ctx, req, actor)
}

func (s *Service) CopyVersion(ctx context.Context, sourceID, newVersionCode string, actor Actor) (*Version, error) {
	return s.drafts.CopyVersion(ctx, sourceID, newVersionCode, actor)
}

func (s *Service) DiscardDraft(ctx context.Context, versionID string, actor Actor) error {
	return s.drafts.DiscardDraft(ctx, versionID, actor)
}

func (s *Service) AddArtifact(ctx context.Context, versionID string, req ArtifactRequest, actor Actor) (*Artifact, error) {
	return s.drafts.AddArtifact(ctx, versionID, req, actor)
}

func (s *Service) UpdateArtifact(ctx context.Context, versionID, artifactID string, req ArtifactRequest, actor Actor) (*Artifact, error) {
	return s.drafts.UpdateArtifact(ctx, versionID, artifactID, req, actor)
}

func (s *Service) DeleteArtifact(ctx context.Context, versionID, artifactID string, actor Actor) error {
	return s.drafts.DeleteArtifact(ctx, versionID, artifactID, actor)
}

func (s *Service) ListArtifacts(ctx context.Context, versionID string, configType ConfigType) ([]Artifact, error) {
	return s.drafts.ListArtifacts(ctx, versionID, configType)
}

func (s *Service) EvaluateArtifact(ctx context.Context, versionID, artifactID string, sample EvaluateRequest) (*EvaluateResult, error) {
	return s.drafts.EvaluateArtifact(ctx, versionID, artifactID, sample)
}

// Submit moves a DRAFT into review and clears the reason of any earlier rejection.
func (s *Service) Submit(ctx context.Context, versionID string, actor Actor) (*Version, error) {
	return s.transition(ctx, versionID, ActionSubmit, ChangeSubmit, actor.ID, "", func(v *Version, _ time.Time) {
		v.RejectReason = ""
	})
}

// Approve records approver as the approving identity. It falls back to the caller when empty.
func (s *Service) Approve(ctx context.Context, versionID, approver string, actor Actor) (*Version, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		approver = actor.ID
	}
	if approver == "" {
		return nil, errors.ErrValidation.WithMessage("approver is required")
	}
	return s.transition(ctx, versionID, ActionApprove, ChangeApprove, approver, "", func(v *Version, at time.Time) {
		v.ApprovedBy = approver
		v.ApprovedDate = &at
	})
}

// Reject sends a SUBMITTED version back to DRAFT. The reason is kept on the version for the drafter.
func (s *Service) Reject(ctx context.Context, versionID, reason string, actor Actor) (*Version, error) {
	reason = strings.TrimSpace(reason)
	if err := validateReason(reason); err != nil {
		return nil, errors.ErrValidation.WithMessage(err.Error())
	}
	return s.transition(ctx, versionID, ActionReject, ChangeReject, actor.ID, reason, func(v *Version, _ time.Time) {
		v.RejectReason = reason
	})
}

func (s *Service) Activate(ctx context.Context, versionID string, actor Actor) (*Version, error) {
	return s.coordinator.Activate(ctx, versionID, actor)
}

func (s *Service) Rollback(ctx context.Context, versionID string, actor Actor) (*Version, error) {
	return s.coordinator.Rollback(ctx, versionID, actor)
}

// transition applies one non-activating lifecycle step with its change-log entry and notification.
func (s *Service) transition(ctx context.Context, versionID string, action Action, change ChangeType, actor, reason string, apply func(v *Version, at time.Time)) (result *Version, err error) {
	defer func() { metrics.IncTransition(string(action), err) }()

	now := s.now().UTC()
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		v, err := tx.GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		from := v.Status
		to, err := Next(from, action)
		if err != nil {
			return err
		}

		v.Status = to
		v.touch(actor, now)
		if apply != nil {
			apply(v, now)
		}
		if err := tx.UpdateVersion(ctx, v); err != nil {
			return err
		}
		if err := s.recorder.Transition(ctx, tx, v, change, from, to, actor, reason); err != nil {
			return err
		}
		result = v
		return enqueue(ctx, tx, notification{
			action:  action,
			version: v,
			from:    from,
			to:      to,
			actor:   actor,
			reason:  reason,
			at:      now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfowCtx(ctx, "Version status changed",
		"version_id", result.ID,
		"event_no", result.EventNo,
		"action", string(action),
		"status", string(result.Status),
	)
	return result, nil
}

func (s *Service) Get(ctx context.Context, versionID string) (*Version, error) {
	return s.store.GetVersion(ctx, versionID)
}

// Current returns the ACTIVE version of eventNo, or nil when there is none.
// Concurrent misses for one event share a single store read.
func (s *Service) Current(ctx context.Context, eventNo string) (*Version, error) {
	if strings.TrimSpace(eventNo) == "" {
		return nil, errors.ErrValidation.WithMessage("eventNo is required")
	}

	if s.cache != nil {
		v, hit, err := s.cache.Get(ctx, eventNo)
		switch {
		case err != nil:
			metrics.IncCache("error")
			s.logger.WarnwCtx(ctx, "Current version cache read failed", "event_no", eventNo, "error", err)
		case hit:
			metrics.IncCache("hit")
			return v, nil
		default:
			metrics.IncCache("miss")
		}
	}

	// The shared read must not inherit the cancellation of whichever caller started it;
	// each caller still stops waiting when its own ctx ends.
	flight := s.reads.DoChan(eventNo, func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), currentReadTimeout)
		defer cancel()

		v, err := s.store.CurrentVersion(readCtx, eventNo)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Set(readCtx, eventNo, v); err != nil {
				s.logger.WarnwCtx(readCtx, "Current version cache write failed", "event_no", eventNo, "error", err)
			}
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		v, _ := res.Val.(*Version)
		return v.clone(), nil
	}
}

func (s *Service) invalidateCurrent(ctx context.Context, eventNo string) {
	s.reads.Forget(eventNo)
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, eventNo); err != nil {
		s.logger.WarnwCtx(ctx, "Current version cache invalidation failed", "event_no", eventNo, "error", err)
	}
}

// History lists every version of eventNo, newest first.
func (s *Service) History(ctx context.Context, eventNo string) ([]Version, error) {
	if strings.TrimSpace(eventNo) == "" {
		return nil, errors.ErrValidation.WithMessage("eventNo is required")
	}
	return s.store.ListVersions(ctx, eventNo)
}

func (s *Service) SearchHistory(ctx context.Context, q HistoryQuery) (*Page, error) {
	if strings.TrimSpace(q.EventNo) == "" {
		return nil, errors.ErrValidation.WithMessage("eventNo is required")
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = constants.DefaultPageSize
	}
	if q.PageSize > constants.MaxPageSize {
		q.PageSize = constants.MaxPageSize
	}

	data, total, err := s.store.SearchVersions(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Page{Data: data, Total: total, Current: q.Page, PageSize: q.PageSize}, nil
}

// Default returns the version to show for eventNo when none is selected, or nil.
func (s *Service) Default(ctx context.Context, eventNo string) (*Version, error) {
	history, err := s.History(ctx, eventNo)
	if err != nil {
		return nil, err
	}
	return SelectDefault(history), nil
}

// ChangeLogs lists entries of a version in the order they were written. Entries of a
// discarded draft remain readable.
func (s *Service) ChangeLogs(ctx context.Context, versionID string) ([]ChangeLog, error) {
	return s.store.ListChangeLogs(ctx, versionID)
}

func (s *Service) snapshot(ctx context.Context, versionID string) (Snapshot, error) {
	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return Snapshot{}, err
	}
	artifacts, err := s.store.ListArtifacts(ctx, v.EventNo, v.VersionCode, "")
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Version: *v, Artifacts: artifacts}, nil
}

func (s *Service) Compare(ctx context.Context, fromID, toID string) (*Diff, error) {
	if fromID == "" || toID == "" {
		return nil, errors.ErrValidation.WithMessage("versionId1 and versionId2 are required")
	}
	from, err := s.snapshot(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.snapshot(ctx, toID)
	if err != nil {
		return nil, err
	}
	return Compare(from, to), nil
}
