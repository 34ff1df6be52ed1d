package versioning

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskcfg/internal/logger"
)

type envelope struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Data    json.RawMessage        `json:"data"`
	Details map[string]interface{} `json:"details"`
}

type apiClient struct {
	t      *testing.T
	router *gin.Engine
}

func newAPIClient(t *testing.T) (*apiClient, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s, _ := newTestService(t)
	router := gin.New()
	NewHandler(s, logger.NopLogger()).RegisterRoutes(router)
	return &apiClient{t: t, router: router}, s
}

func (c *apiClient) do(method, path, user, roles string, body interface{}) (int, envelope) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if roles != "" {
		req.Header.Set("X-User-Roles", roles)
	}

	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

const base = "/api/v1/event-config-version"

func TestHandler_Lifecycle(t *testing.T) {
	api, _ := newAPIClient(t)

	status, env := api.do(http.MethodPost, base, "alice", "", CreateVersionRequest{EventNo: "E1", VersionCode: "v1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "SUCCESS", env.Code)
	v := decode[Version](t, env)
	assert.Equal(t, StatusDraft, v.Status)

	status, env = api.do(http.MethodPost, base+"/"+v.ID+"/artifacts", "alice", "", ArtifactRequest{
		ConfigType: ConfigTypeIndicator,
		ConfigKey:  "high_amount",
		Attributes: map[string]interface{}{"condition": "double(event.amount) > 100.0"},
	})
	require.Equal(t, http.StatusOK, status)
	artifact := decode[Artifact](t, env)

	status, env = api.do(http.MethodPost, base+"/"+v.ID+"/artifacts/"+artifact.ID+"/evaluate", "", "", EvaluateRequest{
		Event: map[string]interface{}{"amount": 250},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, decode[EvaluateResult](t, env).Value)

	status, _ = api.do(http.MethodPost, base+"/"+v.ID+"/submit", "alice", "", nil)
	require.Equal(t, http.StatusOK, status)
	status, env = api.do(http.MethodPost, base+"/"+v.ID+"/approve", "bob", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "bob", decode[Version](t, env).ApprovedBy)

	status, env = api.do(http.MethodPost, base+"/"+v.ID+"/activate", "alice", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, StatusActive, decode[Version](t, env).Status)

	status, env = api.do(http.MethodGet, base+"/current/E1", "", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, v.ID, decode[Version](t, env).ID)

	status, env = api.do(http.MethodGet, base+"/"+v.ID+"/change-logs", "", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]ChangeLog](t, env), 5)
}

func TestHandler_CurrentWithoutActiveReturnsNullData(t *testing.T) {
	api, _ := newAPIClient(t)

	status, env := api.do(http.MethodGet, base+"/current/E404", "", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "SUCCESS", env.Code)
	assert.Equal(t, "null", string(env.Data))
}

func TestHandler_MutationsRequireActor(t *testing.T) {
	api, s := newAPIClient(t)
	v := createDraft(t, s, "E1", "v1")
	submitted := createDraft(t, s, "E1", "v2")
	_, err := s.Submit(context.Background(), submitted.ID, alice)
	require.NoError(t, err)

	for _, path := range []string{
		base + "/" + v.ID + "/submit",
		base + "/" + v.ID + "/activate",
		base + "/" + v.ID + "/copy?newVersionCode=v3",
		base + "/" + submitted.ID + "/approve?approver=bob",
	} {
		status, env := api.do(http.MethodPost, path, "", "", nil)
		assert.Equal(t, http.StatusUnauthorized, status, path)
		assert.Equal(t, "UNAUTHORIZED", env.Code, path)
	}
	assert.Equal(t, StatusDraft, mustGet(t, s, v.ID).Status)
	assert.Equal(t, StatusSubmitted, mustGet(t, s, submitted.ID).Status)
}

func TestHandler_ErrorCodes(t *testing.T) {
	api, s := newAPIClient(t)
	draft := createDraft(t, s, "E1", "v1")

	status, env := api.do(http.MethodPost, base, "alice", "", CreateVersionRequest{EventNo: "E1", VersionCode: "v1"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "DUPLICATE_VERSION_CODE", env.Code)

	status, env = api.do(http.MethodPost, base+"/"+draft.ID+"/activate", "alice", "", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "NOT_APPROVABLE", env.Code)

	status, env = api.do(http.MethodPost, base+"/"+draft.ID+"/rollback", "alice", "", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "NOT_ARCHIVED", env.Code)

	status, env = api.do(http.MethodGet, base+"/missing", "", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Code)

	status, env = api.do(http.MethodGet, base+"/history/E1/page?current=abc", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Code)

	status, env = api.do(http.MethodPost, base+"/"+draft.ID+"/reject?reason=nope", "bob", "", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_TRANSITION", env.Code)
}

func TestHandler_DiscardOwnership(t *testing.T) {
	api, s := newAPIClient(t)
	v := createDraft(t, s, "E1", "v1")

	status, env := api.do(http.MethodDelete, base+"/"+v.ID, "bob", "", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", env.Code)

	status, env = api.do(http.MethodDelete, base+"/"+v.ID, "root", "auditor, Admin", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "true", string(env.Data))

	status, _ = api.do(http.MethodGet, base+"/"+v.ID, "", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHandler_HistoryPageAndCompare(t *testing.T) {
	api, s := newAPIClient(t)
	a := createDraft(t, s, "E1", "v1")
	b := createDraft(t, s, "E1", "v2")
	createDraft(t, s, "E1", "v3")

	status, env := api.do(http.MethodGet, base+"/history/E1/page?current=1&pageSize=2&status=draft", "", "", nil)
	require.Equal(t, http.StatusOK, status)
	page := decode[Page](t, env)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Data, 2)

	status, env = api.do(http.MethodGet, base+"/compare?versionId1="+a.ID+"&versionId2="+b.ID, "", "", nil)
	require.Equal(t, http.StatusOK, status)
	diff := decode[Diff](t, env)
	assert.Equal(t, "v1", diff.From.VersionCode)
	assert.Equal(t, "v2", diff.To.VersionCode)

	status, env = api.do(http.MethodGet, base+"/compare?versionId1="+a.ID, "", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Code)
}
