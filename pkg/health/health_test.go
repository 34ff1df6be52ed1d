package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerRegistry_OptionalFailureDegrades(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(NewFuncChecker("store", func(context.Context) error { return nil }))
	r.RegisterOptional(NewFuncChecker("cache", func(context.Context) error { return errors.New("down") }))

	h := r.Check(context.Background())

	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, StatusHealthy, h.Checks["store"].Status)
	assert.Equal(t, StatusDegraded, h.Checks["cache"].Status)
	assert.Equal(t, "down", h.Checks["cache"].Message)
}

func TestCheckerRegistry_HandlerReturns503WhenCriticalFails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewCheckerRegistry()
	r.Register(NewFuncChecker("store", func(context.Context) error { return errors.New("down") }))

	router := gin.New()
	router.GET("/health", r.Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPostgreSQLChecker_Ping(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	require.NoError(t, NewPostgreSQLChecker(db).Check(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisChecker_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	assert.NoError(t, NewRedisChecker(client).Check(context.Background()))

	mr.Close()
	assert.Error(t, NewRedisChecker(client).Check(context.Background()))
}
