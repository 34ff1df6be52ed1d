package dictionary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskcfg/internal/config"
	"riskcfg/internal/logger"
	"riskcfg/pkg/errors"
)

type fakeRepo struct {
	mu    sync.Mutex
	items []Item
	err   error
	calls int32
	delay time.Duration
}

func (r *fakeRepo) ListEnabled(context.Context) ([]Item, error) {
	atomic.AddInt32(&r.calls, 1)
	time.Sleep(r.delay)
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Item(nil), r.items...), r.err
}

func TestService_BuiltinsAvailableWithoutRefresh(t *testing.T) {
	s := NewService(nil, config.DictionaryConfig{}, logger.NopLogger())

	opts, err := s.Options(TypeVersionStatus)
	require.NoError(t, err)
	require.Len(t, opts, 5)
	assert.Equal(t, Option{Value: "DRAFT", Label: "Draft"}, opts[0])

	opts, err = s.Options(TypeConfigType)
	require.NoError(t, err)
	assert.Contains(t, opts, Option{Value: "DERIVE_FIELD", Label: "Derive field"})

	_, err = s.Options("riskLevel")
	assert.True(t, errors.IsNotFound(err))
}

func TestService_RefreshLoadsStoredDictionaries(t *testing.T) {
	repo := &fakeRepo{items: []Item{
		{DictType: "riskLevel", Code: "LOW", Label: "Low", Sort: 1, Enabled: true},
		{DictType: "riskLevel", Code: "HIGH", Label: "High", Sort: 2, Enabled: true},
		{DictType: TypeVersionStatus, Code: "PENDING", Label: "Pending", Enabled: true},
	}}
	s := NewService(repo, config.DictionaryConfig{}, logger.NopLogger())

	_, err := s.Options("riskLevel")
	require.Error(t, err)

	res, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Types)
	assert.Equal(t, 2, res.Items["riskLevel"])

	opts, err := s.Options("riskLevel")
	require.NoError(t, err)
	assert.Equal(t, []Option{{Value: "LOW", Label: "Low"}, {Value: "HIGH", Label: "High"}}, opts)

	statuses, err := s.Options(TypeVersionStatus)
	require.NoError(t, err)
	assert.Len(t, statuses, 5)
	assert.Equal(t, []string{"changeType", "configType", "riskLevel", "versionStatus"}, s.Types())
}

func TestService_FailedRefreshKeepsSnapshot(t *testing.T) {
	repo := &fakeRepo{items: []Item{{DictType: "riskLevel", Code: "LOW", Label: "Low", Enabled: true}}}
	s := NewService(repo, config.DictionaryConfig{}, logger.NopLogger())
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	repo.mu.Lock()
	repo.err = fmt.Errorf("mongo unavailable")
	repo.mu.Unlock()

	_, err = s.Refresh(context.Background())
	require.ErrorIs(t, err, errors.ErrStorage)

	opts, err := s.Options("riskLevel")
	require.NoError(t, err)
	assert.Len(t, opts, 1)
}

func TestService_OptionsReturnsCopy(t *testing.T) {
	s := NewService(nil, config.DictionaryConfig{}, logger.NopLogger())
	opts, err := s.Options(TypeChangeType)
	require.NoError(t, err)
	opts[0].Label = "mutated"

	again, err := s.Options(TypeChangeType)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again[0].Label)
}

func TestService_ConcurrentRefreshesShareOneLoad(t *testing.T) {
	repo := &fakeRepo{delay: 50 * time.Millisecond}
	s := NewService(repo, config.DictionaryConfig{}, logger.NopLogger())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Refresh(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, atomic.LoadInt32(&repo.calls), int32(5))
}

func TestService_StartReloaderStopsWithContext(t *testing.T) {
	repo := &fakeRepo{}
	s := NewService(repo, config.DictionaryConfig{ReloadInterval: 5 * time.Millisecond}, logger.NopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	err := s.StartReloader(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&repo.calls), int32(2))
}

func TestHandler_Routes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &fakeRepo{items: []Item{{DictType: "riskLevel", Code: "LOW", Label: "Low", Enabled: true}}}
	router := gin.New()
	NewHandler(NewService(repo, config.DictionaryConfig{}, logger.NopLogger()), logger.NopLogger()).RegisterRoutes(router)

	serve := func(method, path string) (int, errors.Response) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		var resp errors.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return w.Code, resp
	}

	status, resp := serve(http.MethodGet, "/api/v1/dict/riskLevel")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", resp.Code)

	status, resp = serve(http.MethodPost, "/api/v1/dict/refresh")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, errors.CodeSuccess, resp.Code)

	status, resp = serve(http.MethodGet, "/api/v1/dict/riskLevel")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{map[string]interface{}{"value": "LOW", "label": "Low"}}, resp.Data)

	repo.mu.Lock()
	repo.err = fmt.Errorf("mongo unavailable")
	repo.mu.Unlock()
	status, resp = serve(http.MethodPost, "/api/v1/dict/refresh")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "STORAGE_ERROR", resp.Code)
}
