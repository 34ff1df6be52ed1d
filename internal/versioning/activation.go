package versioning

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"riskcfg/internal/logger"
	"riskcfg/pkg/errors"
	"riskcfg/pkg/metrics"
	"riskcfg/pkg/retry"
)

// afterCommitTimeout bounds the post-commit hooks, which run detached from the caller.
const afterCommitTimeout = 2 * time.Second

// eventLocks hands out one binary semaphore per event number. Entries are dropped when the
// last holder or waiter releases, so the map only holds events with activations in flight.
type eventLocks struct {
	mu    sync.Mutex
	locks map[string]*eventLock
}

type eventLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newEventLocks() *eventLocks {
	return &eventLocks{locks: make(map[string]*eventLock)}
}

func (l *eventLocks) acquire(ctx context.Context, eventNo string, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[eventNo]
	if !ok {
		lock = &eventLock{sem: semaphore.NewWeighted(1)}
		l.locks[eventNo] = lock
	}
	lock.refs++
	l.mu.Unlock()

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := lock.sem.Acquire(waitCtx, 1); err != nil {
		l.drop(eventNo, lock)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ErrLockTimeout.
			WithDetail("eventNo", eventNo).
			WithDetail("timeout", timeout.String())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			lock.sem.Release(1)
			l.drop(eventNo, lock)
		})
	}, nil
}

func (l *eventLocks) drop(eventNo string, lock *eventLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, eventNo)
	}
}

func (l *eventLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// ActivationCoordinator is the only writer of the ACTIVE status.
//
// Policy: callers for the same event block on an in-process lock for at most lockTimeout and
// then fail with LockTimeout. Across replicas the transaction takes a Postgres advisory lock on
// the event, and the partial unique index on ACTIVE rows rejects anything that slips through.
// Lost races are retried with backoff and surface as ActivationInProgress once attempts run out.
type ActivationCoordinator struct {
	store       Store
	recorder    *ChangeLogRecorder
	locks       *eventLocks
	lockTimeout time.Duration
	policy      retry.Policy
	logger      logger.Logger
	now         func() time.Time
	afterCommit []func(ctx context.Context, eventNo string)
}

func NewActivationCoordinator(store Store, recorder *ChangeLogRecorder, log logger.Logger, lockTimeout time.Duration, policy retry.Policy, now func() time.Time) *ActivationCoordinator {
	if now == nil {
		now = time.Now
	}
	return &ActivationCoordinator{
		store:       store,
		recorder:    recorder,
		locks:       newEventLocks(),
		lockTimeout: lockTimeout,
		policy:      policy,
		logger:      log.With("component", "activation"),
		now:         now,
	}
}

// OnActivated registers a hook run after every committed activation, outside lock and transaction.
func (c *ActivationCoordinator) OnActivated(fn func(ctx context.Context, eventNo string)) {
	c.afterCommit = append(c.afterCommit, fn)
}

// Activate promotes an APPROVED version and archives the event's current ACTIVE version.
func (c *ActivationCoordinator) Activate(ctx context.Context, versionID string, actor Actor) (*Version, error) {
	return c.run(ctx, versionID, ActionActivate, actor)
}

// Rollback re-activates an ARCHIVED version by routing it through APPROVED within one transaction.
func (c *ActivationCoordinator) Rollback(ctx context.Context, versionID string, actor Actor) (*Version, error) {
	return c.run(ctx, versionID, ActionRollback, actor)
}

func (c *ActivationCoordinator) run(ctx context.Context, versionID string, action Action, actor Actor) (result *Version, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveActivation(time.Since(start), err)
		metrics.IncTransition(string(action), err)
	}()

	target, err := c.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if _, err := Next(target.Status, entryAction(action)); err != nil {
		return nil, err
	}

	waitStart := time.Now()
	release, err := c.locks.acquire(ctx, target.EventNo, c.lockTimeout)
	metrics.ObserveLockWait(time.Since(waitStart))
	if err != nil {
		if errors.HasCode(err, errors.ErrLockTimeout.Code) {
			metrics.IncActivationConflict("lock_timeout")
		}
		return nil, err
	}
	defer release()

	err = retry.Retry(ctx, c.policy, func() error {
		var txErr error
		result, txErr = c.activateTx(ctx, versionID, action, actor)
		if txErr == nil || isContention(txErr) {
			return txErr
		}
		return retry.Permanent(txErr)
	}, func(attempt int, err error) {
		metrics.IncActivationConflict("contention")
		c.logger.WarnwCtx(ctx, "Activation contended, retrying",
			"version_id", versionID,
			"event_no", target.EventNo,
			"attempt", attempt,
			"error", err,
		)
	})
	if err != nil {
		if isContention(err) {
			return nil, errors.ErrActivationInProgress.
				WithCause(err).
				WithDetail("eventNo", target.EventNo).
				AsFatal()
		}
		return nil, err
	}

	// The activation is committed; a failing hook must not turn it into an error, and a
	// caller that goes away now must not leave the cache pointing at the old version.
	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterCommitTimeout)
	defer cancel()
	for _, hook := range c.afterCommit {
		if err := errors.Guard("after_activation", func() error {
			hook(hookCtx, result.EventNo)
			return nil
		}); err != nil {
			c.logger.ErrorwCtx(ctx, "Post-activation hook panicked", "event_no", result.EventNo, "error", err)
		}
	}

	c.logger.InfowCtx(ctx, "Version activated",
		"version_id", result.ID,
		"event_no", result.EventNo,
		"version_code", result.VersionCode,
		"action", string(action),
	)
	return result, nil
}

// entryAction is the first transition the action needs from the stored status.
func entryAction(action Action) Action {
	if action == ActionRollback {
		return ActionRollback
	}
	return ActionActivate
}

func (c *ActivationCoordinator) activateTx(ctx context.Context, versionID string, action Action, actor Actor) (*Version, error) {
	var activated *Version
	err := c.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		target, err := tx.GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if err := tx.LockEvent(ctx, target.EventNo, c.lockTimeout); err != nil {
			return err
		}
		// Re-read under the event lock; the pre-check ran without it.
		if target, err = tx.GetVersion(ctx, versionID); err != nil {
			return err
		}

		from := target.Status
		reason := ""
		if action == ActionRollback {
			approved, err := Next(target.Status, ActionRollback)
			if err != nil {
				return err
			}
			target.Status = approved
			reason = "rollback"
		}
		active, err := Next(target.Status, ActionActivate)
		if err != nil {
			return err
		}

		now := c.now().UTC()
		previous, err := tx.CurrentVersion(ctx, target.EventNo)
		if err != nil {
			return err
		}
		previousCode := ""
		if previous != nil && previous.ID != target.ID {
			previousCode = previous.VersionCode
			if err := c.archive(ctx, tx, previous, target, actor.ID, now); err != nil {
				return err
			}
		}

		target.Status = active
		target.touch(actor.ID, now)
		if target.ActivatedBy == "" {
			target.ActivatedBy = actor.ID
			target.ActivatedDate = &now
		}
		if err := tx.UpdateVersion(ctx, target); err != nil {
			return err
		}
		if err := c.recorder.Transition(ctx, tx, target, ChangeActivate, from, active, actor.ID, reason); err != nil {
			return err
		}
		if err := enqueue(ctx, tx, notification{
			action:         action,
			version:        target,
			from:           from,
			to:             active,
			previousActive: previousCode,
			actor:          actor.ID,
			reason:         reason,
			at:             now,
		}); err != nil {
			return err
		}

		activated = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return activated, nil
}

func (c *ActivationCoordinator) archive(ctx context.Context, tx Tx, previous, successor *Version, actor string, now time.Time) error {
	archived, err := Next(previous.Status, ActionArchive)
	if err != nil {
		return err
	}
	previous.Status = archived
	previous.touch(actor, now)
	if err := tx.UpdateVersion(ctx, previous); err != nil {
		return err
	}
	return c.recorder.Transition(ctx, tx, previous, ChangeUpdate, StatusActive, archived, actor,
		"superseded by "+successor.VersionCode)
}
