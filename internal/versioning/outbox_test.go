package versioning

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskcfg/internal/logger"
	"riskcfg/pkg/circuitbreaker"
	"riskcfg/pkg/models"
)

type recordingProducer struct {
	mu     sync.Mutex
	sent   []models.MessageEnvelope
	failOn map[string]bool
}

func (p *recordingProducer) Publish(_ context.Context, _ string, msg models.MessageEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn[msg.Metadata.PartitionKey] {
		return fmt.Errorf("broker unavailable")
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) types(eventNo string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.sent {
		if m.Metadata.PartitionKey == eventNo {
			out = append(out, m.Metadata.EventType)
		}
	}
	return out
}

func TestOutboxRelay_PublishesInOrder(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()

	v := approvedDraft(t, s, "E1", "v1")
	_, err := s.Activate(ctx, v.ID, alice)
	require.NoError(t, err)

	producer := &recordingProducer{}
	relay := NewOutboxRelay(store, producer, "config.versions", logger.NopLogger())

	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Empty(t, store.PendingOutbox())
	assert.Equal(t, []string{
		models.EventTypeVersionCreated,
		models.EventTypeVersionSubmitted,
		models.EventTypeVersionApproved,
		models.EventTypeVersionActivated,
	}, producer.types("E1"))

	last := producer.sent[3]
	assert.Equal(t, "config-service", last.Source)
	assert.Equal(t, v.ID, last.Payload["version_id"])
	assert.Equal(t, string(StatusActive), last.Payload["to_status"])
	require.NoError(t, models.ValidateMessageEnvelope(&last))
}

func TestOutboxRelay_FailureHoldsBackLaterMessagesOfSameEvent(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()

	createDraft(t, s, "E1", "v1")
	createDraft(t, s, "E2", "v1")
	createDraft(t, s, "E1", "v2")

	producer := &recordingProducer{failOn: map[string]bool{"E1": true}}
	relay := NewOutboxRelay(store, producer, "config.versions", logger.NopLogger())

	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{models.EventTypeVersionCreated}, producer.types("E2"))

	pending := store.PendingOutbox()
	require.Len(t, pending, 2)
	for _, m := range pending {
		assert.Equal(t, "E1", m.EventNo)
		assert.Equal(t, 1, m.Attempts)
		assert.NotEmpty(t, m.LastError)
	}

	producer.failOn = nil
	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, producer.types("E1"), 2)
}

func TestOutboxRelay_EnvelopeIDIsOutboxRowID(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()
	createDraft(t, s, "E1", "v1")

	pending := store.PendingOutbox()
	require.Len(t, pending, 1)
	want := strconv.FormatInt(pending[0].ID, 10)

	failing := &recordingProducer{failOn: map[string]bool{"E1": true}}
	_, err := NewOutboxRelay(store, failing, "config.versions", logger.NopLogger()).Flush(ctx)
	require.NoError(t, err)

	producer := &recordingProducer{}
	n, err := NewOutboxRelay(store, producer, "config.versions", logger.NopLogger()).Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, want, producer.sent[0].ID)
}

func TestOutboxRelay_SkipsPassWhileBreakerOpen(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()
	createDraft(t, s, "E1", "v1")
	createDraft(t, s, "E1", "v2")
	createDraft(t, s, "E1", "v3")

	cfg := circuitbreaker.DefaultConfig("outbox-test")
	cfg.MinRequests = 1
	cfg.FailureRatio = 0.5
	cfg.Timeout = time.Hour
	breaker := circuitbreaker.NewWrapper(cfg)

	producer := &recordingProducer{failOn: map[string]bool{"E1": true}}
	relay := NewOutboxRelay(store, producer, "config.versions", logger.NopLogger(), WithRelayBreaker(breaker))

	_, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.True(t, breaker.IsOpen())

	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	for _, m := range store.PendingOutbox() {
		assert.Equal(t, 1, m.Attempts)
	}
}

func TestOutboxRelay_RunStopsWithContext(t *testing.T) {
	_, store := newTestService(t)
	relay := NewOutboxRelay(store, &recordingProducer{}, "config.versions", logger.NopLogger(), WithRelayInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
