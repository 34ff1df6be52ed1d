package versioning

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"riskcfg/internal/broker"
	"riskcfg/internal/constants"
	"riskcfg/internal/logger"
	"riskcfg/pkg/circuitbreaker"
	"riskcfg/pkg/logging"
	"riskcfg/pkg/metrics"
	"riskcfg/pkg/models"
	"riskcfg/pkg/tracing"
)

var eventTypeByChange = map[Action]string{
	ActionCreate:   models.EventTypeVersionCreated,
	ActionSubmit:   models.EventTypeVersionSubmitted,
	ActionApprove:  models.EventTypeVersionApproved,
	ActionReject:   models.EventTypeVersionRejected,
	ActionActivate: models.EventTypeVersionActivated,
	ActionRollback: models.EventTypeVersionActivated,
	ActionArchive:  models.EventTypeVersionArchived,
	ActionDiscard:  models.EventTypeVersionDiscarded,
}

type notification struct {
	action         Action
	version        *Version
	from           Status
	to             Status
	previousActive string
	actor          string
	reason         string
	at             time.Time
}

// enqueue writes the notification for a change into the outbox of the same transaction.
func enqueue(ctx context.Context, tx Tx, n notification) error {
	ev := models.VersionEvent{
		EventType:      eventTypeByChange[n.action],
		EventNo:        n.version.EventNo,
		VersionID:      n.version.ID,
		VersionCode:    n.version.VersionCode,
		FromStatus:     string(n.from),
		ToStatus:       string(n.to),
		PreviousActive: n.previousActive,
		ChangedBy:      n.actor,
		Reason:         n.reason,
		OccurredAt:     n.at.UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode version event: %w", err)
	}

	traceID := tracing.TraceID(ctx)
	if traceID == "" {
		traceID = logging.GetTraceID(ctx)
	}

	return tx.EnqueueOutbox(ctx, &OutboxMessage{
		AggregateID: n.version.ID,
		EventNo:     n.version.EventNo,
		EventType:   ev.EventType,
		Payload:     payload,
		TraceID:     traceID,
		CreatedDate: ev.OccurredAt,
	})
}

// OutboxRelay delivers committed notifications to the broker. Delivery is at least once and
// ordered per event: after a failure, later messages of the same event wait for the next pass.
type OutboxRelay struct {
	store     OutboxStore
	producer  broker.Producer
	breaker   *circuitbreaker.Wrapper
	topic     string
	interval  time.Duration
	batchSize int
	logger    logger.Logger
}

type RelayOption func(*OutboxRelay)

func WithRelayBreaker(b *circuitbreaker.Wrapper) RelayOption {
	return func(r *OutboxRelay) {
		r.breaker = b
	}
}

func WithRelayInterval(interval time.Duration) RelayOption {
	return func(r *OutboxRelay) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

func WithRelayBatchSize(n int) RelayOption {
	return func(r *OutboxRelay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewOutboxRelay(store OutboxStore, producer broker.Producer, topic string, log logger.Logger, opts ...RelayOption) *OutboxRelay {
	r := &OutboxRelay{
		store:     store,
		producer:  producer,
		topic:     topic,
		interval:  time.Second,
		batchSize: 100,
		logger:    log.With("component", "outbox_relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is done.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Infow("Outbox relay started", "topic", r.topic, "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.logger.ErrorwCtx(ctx, "Outbox relay pass failed", "error", err)
			}
		}
	}
}

// Flush makes one delivery pass and returns the number of messages published.
func (r *OutboxRelay) Flush(ctx context.Context) (int, error) {
	if r.breaker != nil && r.breaker.IsOpen() {
		r.logger.Debugw("Broker circuit open, skipping outbox pass")
		return 0, nil
	}

	blocked := make(map[string]bool)
	attempted := 0
	published, err := r.store.ProcessOutbox(ctx, r.batchSize, func(ctx context.Context, msg OutboxMessage) error {
		attempted++
		if blocked[msg.EventNo] {
			return fmt.Errorf("waiting for earlier message of event %s", msg.EventNo)
		}
		if err := r.deliver(ctx, msg); err != nil {
			blocked[msg.EventNo] = true
			metrics.OutboxPublishedTotal.WithLabelValues("error").Inc()
			r.logger.WarnwCtx(ctx, "Failed to publish outbox message",
				"outbox_id", msg.ID,
				"event_no", msg.EventNo,
				"event_type", msg.EventType,
				"attempts", msg.Attempts+1,
				"error", err,
			)
			return err
		}
		metrics.OutboxPublishedTotal.WithLabelValues("ok").Inc()
		return nil
	})
	metrics.OutboxPendingEvents.Set(float64(attempted - published))
	return published, err
}

func (r *OutboxRelay) deliver(ctx context.Context, msg OutboxMessage) error {
	var ev models.VersionEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return fmt.Errorf("failed to decode outbox payload: %w", err)
	}
	envelope := models.NewVersionEnvelope(strconv.FormatInt(msg.ID, 10), constants.EventSourceName, msg.TraceID, ev)

	publish := func(ctx context.Context) error {
		return r.producer.Publish(ctx, r.topic, envelope)
	}
	if r.breaker == nil {
		return publish(ctx)
	}
	return r.breaker.Execute(ctx, publish)
}
