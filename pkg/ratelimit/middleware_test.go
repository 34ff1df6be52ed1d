package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_RejectsAfterBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewLimiter(Config{RPS: 0.001, Burst: 2})

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
		last = w
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body["code"])
}

func TestLimiter_EvictsIdleClients(t *testing.T) {
	l := NewLimiter(Config{RPS: 1, Burst: 1, MaxAge: time.Minute})
	l.get("10.0.0.1")

	l.evict(time.Now().Add(2 * time.Minute))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.clients)
}
