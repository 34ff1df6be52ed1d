//go:build integration

package versioning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskcfg/internal/broker"
	"riskcfg/internal/config"
	"riskcfg/internal/logger"
	"riskcfg/internal/testinfra"
	"riskcfg/pkg/cel"
	"riskcfg/pkg/errors"
	"riskcfg/pkg/models"
)

func newPostgresService(t *testing.T, store *PostgresStore, opts ...Option) *Service {
	t.Helper()
	evaluator, err := cel.NewEvaluator()
	require.NoError(t, err)
	return NewService(store, evaluator, append([]Option{WithActivationPolicy(5*time.Second, testPolicy())}, opts...)...)
}

func TestPostgres_LifecycleAndRollback(t *testing.T) {
	store := NewPostgresStore(testinfra.Postgres(t))
	s := newPostgresService(t, store)
	ctx := context.Background()

	a := approvedDraft(t, s, "E1", "a")
	_, err := s.AddArtifact(ctx, a.ID, ArtifactRequest{ConfigType: ConfigTypeField, ConfigKey: "amount", Attributes: map[string]interface{}{"type": "NUMBER"}}, alice)
	require.ErrorIs(t, err, errors.ErrNotDraft)

	_, err = s.Activate(ctx, a.ID, alice)
	require.NoError(t, err)

	b, err := s.CopyVersion(ctx, a.ID, "b", bob)
	require.NoError(t, err)
	approve(t, s, b.ID)
	_, err = s.Activate(ctx, b.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, mustGet(t, s, a.ID).Status)

	_, err = s.Rollback(ctx, a.ID, alice)
	require.NoError(t, err)

	current, err := s.Current(ctx, "E1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, a.ID, current.ID)
	assert.Equal(t, 1, countActive(t, s, "E1"))

	page, err := s.SearchHistory(ctx, HistoryQuery{EventNo: "E1", Status: StatusArchived})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, b.ID, page.Data[0].ID)

	_, err = s.CreateVersion(ctx, CreateVersionRequest{EventNo: "E1", VersionCode: "a"}, alice)
	require.ErrorIs(t, err, errors.ErrDuplicateVersionCode)
}

// Two services over one database stand in for two replicas.
func TestPostgres_ConcurrentReplicasKeepOneActive(t *testing.T) {
	db := testinfra.Postgres(t)
	replicas := []*Service{
		newPostgresService(t, NewPostgresStore(db)),
		newPostgresService(t, NewPostgresStore(db)),
	}
	ctx := context.Background()

	const n = 6
	ids := make([]string, n)
	for i := range ids {
		ids[i] = approvedDraft(t, replicas[0], "E1", "v"+string(rune('a'+i))).ID
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(s *Service, id string) {
			defer wg.Done()
			_, err := s.Activate(ctx, id, alice)
			if err != nil {
				assert.True(t, errors.IsConflict(err), "unexpected error %v", err)
			}
		}(replicas[i%2], id)
	}
	wg.Wait()

	assert.Equal(t, 1, countActive(t, replicas[1], "E1"))
}

func TestPostgres_CacheInvalidatedOnActivation(t *testing.T) {
	cache := NewRedisCurrentCache(testinfra.Redis(t), "it:current:", time.Minute)
	s := newPostgresService(t, NewPostgresStore(testinfra.Postgres(t)), WithCache(cache))
	ctx := context.Background()

	current, err := s.Current(ctx, "E1")
	require.NoError(t, err)
	assert.Nil(t, current)

	v := approvedDraft(t, s, "E1", "v1")
	_, err = s.Activate(ctx, v.ID, alice)
	require.NoError(t, err)

	current, err = s.Current(ctx, "E1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, v.ID, current.ID)
}

func TestPostgres_OutboxRelayToKafka(t *testing.T) {
	store := NewPostgresStore(testinfra.Postgres(t))
	s := newPostgresService(t, store)
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	v := approvedDraft(t, s, "E1", "v1")
	_, err := s.Activate(ctx, v.ID, alice)
	require.NoError(t, err)

	kafkaCfg := config.KafkaConfig{Brokers: testinfra.Kafka(t), GroupID: "riskcfg-it"}
	producer := broker.NewKafkaProducer(kafkaCfg, logger.NopLogger())
	defer producer.Close()

	relay := NewOutboxRelay(store, producer, "config.versions.it", logger.NopLogger())
	published, err := relay.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, published)

	consumer := broker.NewKafkaConsumer(kafkaCfg, logger.NopLogger())
	defer consumer.Close()

	var (
		mu   sync.Mutex
		seen []string
	)
	consumeCtx, stop := context.WithCancel(ctx)
	go consumer.Consume(consumeCtx, "config.versions.it", func(_ context.Context, msg models.MessageEnvelope) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg.Metadata.EventType)
		if len(seen) == 4 {
			stop()
		}
		return nil
	})
	<-consumeCtx.Done()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		models.EventTypeVersionCreated,
		models.EventTypeVersionSubmitted,
		models.EventTypeVersionApproved,
		models.EventTypeVersionActivated,
	}, seen)
}
