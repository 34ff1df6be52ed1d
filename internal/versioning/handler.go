package versioning

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"riskcfg/internal/constants"
	"riskcfg/internal/logger"
	"riskcfg/pkg/errors"
	"riskcfg/pkg/logging"
)

const actorKey = "versioning.actor"

type Handler struct {
	service *Service
	logger  logger.Logger
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	versions := v1.Group("/event-config-version", ActorMiddleware())
	{
		versions.POST("", h.CreateVersion)
		versions.GET("/current/:eventNo", h.GetCurrentVersion)
		versions.GET("/default/:eventNo", h.GetDefaultVersion)
		versions.GET("/history/:eventNo", h.GetHistory)
		versions.GET("/history/:eventNo/page", h.SearchHistory)
		versions.GET("/compare", h.Compare)

		versions.GET("/:id", h.GetVersion)
		versions.DELETE("/:id", h.DiscardDraft)
		versions.POST("/:id/submit", h.Submit)
		versions.POST("/:id/approve", h.Approve)
		versions.POST("/:id/reject", h.Reject)
		versions.POST("/:id/activate", h.Activate)
		versions.POST("/:id/rollback", h.Rollback)
		versions.POST("/:id/copy", h.CopyVersion)
		versions.GET("/:id/change-logs", h.GetChangeLogs)

		versions.GET("/:id/artifacts", h.ListArtifacts)
		versions.POST("/:id/artifacts", h.AddArtifact)
		versions.PUT("/:id/artifacts/:artifactId", h.UpdateArtifact)
		versions.DELETE("/:id/artifacts/:artifactId", h.DeleteArtifact)
		versions.POST("/:id/artifacts/:artifactId/evaluate", h.EvaluateArtifact)
	}
}

// ActorMiddleware resolves the caller from the identity headers set by the gateway.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := Actor{ID: strings.TrimSpace(c.GetHeader(constants.HeaderUserID))}
		for _, role := range strings.Split(c.GetHeader(constants.HeaderUserRoles), ",") {
			if strings.EqualFold(strings.TrimSpace(role), constants.RoleAdmin) {
				actor.Admin = true
			}
		}
		c.Set(actorKey, actor)
		if actor.ID != "" {
			c.Request = c.Request.WithContext(logging.WithActor(c.Request.Context(), actor.ID))
		}
		c.Next()
	}
}

func actorOf(c *gin.Context) Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(Actor); ok {
			return actor
		}
	}
	return Actor{}
}

// requireActor is used by mutating routes; reads are open.
func (h *Handler) requireActor(c *gin.Context) (Actor, bool) {
	actor := actorOf(c)
	if actor.ID == "" {
		h.HandleError(c, errors.ErrUnauthorized.WithMessage(constants.HeaderUserID+" header is required"))
		return Actor{}, false
	}
	return actor, true
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.logger.InfowCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *Handler) ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, errors.Success(data))
}

// CreateVersion godoc
// @Summary      Create a draft version
// @Tags         event-config-version
// @Accept       json
// @Produce      json
// @Param        X-User-ID  header    string                true  "Acting user"
// @Param        version    body      CreateVersionRequest  true  "Version data"
// @Success      200        {object}  errors.Response
// @Failure      400        {object}  errors.Response
// @Failure      409        {object}  errors.Response
// @Router       /event-config-version [post]
func (h *Handler) CreateVersion(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	var req CreateVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err))
		return
	}

	v, err := h.service.CreateVersion(c.Request.Context(), req, actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, v)
}

// GetCurrentVersion godoc
// @Summary      Active version of an event
// @Description  data is null when the event has no active version
// @Tags         event-config-version
// @Produce      json
// @Param        eventNo  path      string  true  "Event number"
// @Success      200      {object}  errors.Response
// @Router       /event-config-version/current/{eventNo} [get]
func (h *Handler) GetCurrentVersion(c *gin.Context) {
	v, err := h.service.Current(c.Request.Context(), c.Param("eventNo"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, v)
}

// GetDefaultVersion godoc
// @Summary      Version shown by default for an event
// @Tags         event-config-version
// @Produce      json
// @Param        eventNo  path      string  true  "Event number"
// @Success      200      {object}  errors.Response
// @Router       /event-config-version/default/{eventNo} [get]
func (h *Handler) GetDefaultVersion(c *gin.Context) {
	v, err := h.service.Default(c.Request.Context(), c.Param("eventNo"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, v)
}

// GetHistory godoc
// @Summary      Version history of an event, newest first
// @Tags         event-config-version
// @Produce      json
// @Param        eventNo  path      string  true  "Event number"
// @Success      200      {object}  errors.Response
// @Router       /event-config-version/history/{eventNo} [get]
func (h *Handler) GetHistory(c *gin.Context) {
	list, err := h.service.History(c.Request.Context(), c.Param("eventNo"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, list)
}

// SearchHistory godoc
// @Summary      Paged version history search
// @Tags         event-config-version
// @Produce      json
// @Param        eventNo      path   string  true   "Event number"
// @Param        versionCode  query  string  false  "Version code contains"
// @Param        versionDesc  query  string  false  "Description contains"
// @Param        status       query  string  false  "Exact status"
// @Param        current      query  int     false  "1-based page" default(1)
// @Param        pageSize     query  int     false  "Page size" default(20)
// @Success      200          {object}  errors.Response
// @Failure      400          {object}  errors.Response
// @Router       /event-config-version/history/{eventNo}/page [get]
func (h *Handler) SearchHistory(c *gin.Context) {
	q := HistoryQuery{
		EventNo:     c.Param("eventNo"),
		VersionCode: c.Query("versionCode"),
		VersionDesc: c.Query("versionDesc"),
	}
	if raw := c.Query("status"); raw != "" {
		st, err := ParseStatus(raw)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		q.Status = st
	}
	var err error
	if q.Page, err = intQuery(c, "current"); err != nil {
		h.HandleError(c, err)
		return
	}
	if q.PageSize, err = intQuery(c, "pageSize"); err != nil {
		h.HandleError(c, err)
		return
	}

	page, err := h.service.SearchHistory(c.Request.Context(), q)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, page)
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.ErrValidation.WithMessage(name + " must be an integer")
	}
	return n, nil
}

// Compare godoc
// @Summary      Diff two versions' artifacts
// @Tags         event-config-version
// @Produce      json
// @Param        versionId1  query     string  true  "Base version"
// @Param        versionId2  query     string  true  "Compared version"
// @Success      200         {object}  errors.Response
// @Failure      404         {object}  errors.Response
// @Router       /event-config-version/compare [get]
func (h *Handler) Compare(c *gin.Context) {
	diff, err := h.service.Compare(c.Request.Context(), c.Query("versionId1"), c.Query("versionId2"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, diff)
}

// GetVersion godoc
// @Summary      Get a version by id
// @Tags         event-config-version
// @Produce      json
// @Param        id   path      string  true  "Version ID"
// @Success      200  {object}  errors.Response
// @Failure      404  {object}  errors.Response
// @Router       /event-config-version/{id} [get]
func (h *Handler) GetVersion(c *gin.Context) {
	v, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, v)
}

// DiscardDraft godoc
// @Summary      Delete a draft version and its artifacts
// @Tags         event-config-version
// @Produce      json
// @Param        X-User-ID  header    string  true  "Acting user"
// @Param        id         path      string  true  "Version ID"
// @Success      200        {object}  errors.Response
// @Failure      403        {object}  errors.Response
// @Failure      409        {object}  errors.Response
// @Router       /event-config-version/{id} [delete]
func (h *Handler) DiscardDraft(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	if err := h.service.DiscardDraft(c.Request.Context(), c.Param("id"), actor); err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, true)
}

// Submit godoc
// @Summary      Submit a draft for approval
// @Tags         event-config-version
// @Produce      json
// @Param        X-User-ID  header    string  true  "Acting user"
// @Param        id         path      string  true  "Version ID"
// @Success      200        {object}  errors.Response
// @Failure      409        {object}  errors.Response
// @Router       /event-config-version/{id}/submit [post]
func (h *Handler) Submit(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	v, err := h.service.Submit(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, v)
}

// Approve godoc
// @Summary      Approve a submitted version
// @Tags         event-config-version
// @Produce      json
// @Param        id        path      string  true   "Version ID"
// @Param        approver  query     string  false  "Approver, defaults to the caller"
// @Success      200       {object}  errors.Response
// @Failure      401       {object}  errors.Response
// @Failure      409       {object}  errors.Response
// @Router       /event-config-version/{id}/approve [post]
func (h *Handler) Approve(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	v, err := h.service.Approve(c.Request.Context(), c.Param("id"), c.Query("approver"), actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, v)
}

// Reject godoc
// @Summary      Reject a submitted version back to draft
// @Tags         event-config-version
// @Produce      json
// @Param        X-User-ID  header    string  true  "Acting user"
// @Param        id         path      string  true  "Version ID"
// @Param        reason     query     string  true  "Rejection reason"
// @Success      200        {object}  errors.Response
// @Failure      400        {object}  errors.Response
// @Failure      409        {object}  errors.Response
// @Router       /event-config-version/{id}/reject [post]
func (h *Handler) Reject(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	v, err := h.service.Reject(c.Request.Context(), c.Param("id"), c.Query("reason"), actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, v)
}

// Activate godoc
// @Summary      Activate an approved version
// @Description  The event's previous active version is archived in the same transaction.
// @Tags         event-config-version
// @Produce      json
// @Param        X-User-ID  header    string  true  "Acting user"
// @Param        id         path      string  true  "Version ID"
// @Success      200        {object}  errors.Response
// @Failure      409        {object}  errors.Response
// @Router       /event-config-version/{id}/activate [post]
func (h *Handler) Activate(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	v, err := h.service.Activate(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, v)
}

// Rollback godoc
// @Summary      Re-activate an archived version
// @Tags         event-config-version
// @Produce      json
// @Param        X-User-ID  header    string  true  "Acting user"
// @Param        id         path      string  true  "Version ID"
// @Success      200        {object}  errors.Response
// @Failure      409        {object}  errors.Response
// @Router       /event-config-version/{id}/rollback [post]
func (h *Handler) Rollback(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	v, err := h.service.Rollback(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, v)
}

// CopyVersion godoc
// @Summary      Copy a version into a new draft
// @Tags         event-config-version
// @Produce      json
// @Param        X-User-ID       header    string  true  "Acting user"
// @Param        id              path      string  true  "Source version ID"
// @Param        newVersionCode  query     string  true  "Code of the new draft"
// @Success      200             {object}  errors.Response
// @Failure      409             {object}  errors.Response
// @Router       /event-config-version/{id}/copy [post]
func (h *Handler) CopyVersion(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	v, err := h.service.CopyVersion(c.Request.Context(), c.Param("id"), c.Query("newVersionCode"), actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, v)
}

// GetChangeLogs godoc
// @Summary      Change log of a version in write order
// @Tags         event-config-version
// @Produce      json
// @Param        id   path      string  true  "Version ID"
// @Success      200  {object}  errors.Response
// @Router       /event-config-version/{id}/change-logs [get]
func (h *Handler) GetChangeLogs(c *gin.Context) {
	logs, err := h.service.ChangeLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, logs)
}

// ListArtifacts godoc
// @Summary      Artifacts of a version
// @Tags         artifacts
// @Produce      json
// @Param        id          path      string  true   "Version ID"
// @Param        configType  query     string  false  "FIELD, DERIVE_FIELD, STAGE, INDICATOR or STATEMENT_DEPENDENCY"
// @Success      200         {object}  errors.Response
// @Router       /event-config-version/{id}/artifacts [get]
func (h *Handler) ListArtifacts(c *gin.Context) {
	configType := ConfigType(strings.ToUpper(c.Query("configType")))
	list, err := h.service.ListArtifacts(c.Request.Context(), c.Param("id"), configType)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, list)
}

// AddArtifact godoc
// @Summary      Add an artifact to a draft
// @Tags         artifacts
// @Accept       json
// @Produce      json
// @Param        X-User-ID  header    string           true  "Acting user"
// @Param        id         path      string           true  "Version ID"
// @Param        artifact   body      ArtifactRequest  true  "Artifact"
// @Success      200        {object}  errors.Response
// @Failure      409        {object}  errors.Response
// @Router       /event-config-version/{id}/artifacts [post]
func (h *Handler) AddArtifact(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	var req ArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err))
		return
	}
	a, err := h.service.AddArtifact(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, a)
}

// UpdateArtifact godoc
// @Summary      Replace the attributes of a draft artifact
// @Tags         artifacts
// @Accept       json
// @Produce      json
// @Param        X-User-ID   header    string           true  "Acting user"
// @Param        id          path      string           true  "Version ID"
// @Param        artifactId  path      string           true  "Artifact ID"
// @Param        artifact    body      ArtifactRequest  true  "Artifact"
// @Success      200         {object}  errors.Response
// @Failure      409         {object}  errors.Response
// @Router       /event-config-version/{id}/artifacts/{artifactId} [put]
func (h *Handler) UpdateArtifact(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	var req ArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err))
		return
	}
	a, err := h.service.UpdateArtifact(c.Request.Context(), c.Param("id"), c.Param("artifactId"), req, actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, a)
}

// DeleteArtifact godoc
// @Summary      Remove an artifact from a draft
// @Tags         artifacts
// @Produce      json
// @Param        X-User-ID   header    string  true  "Acting user"
// @Param        id          path      string  true  "Version ID"
// @Param        artifactId  path      string  true  "Artifact ID"
// @Success      200         {object}  errors.Response
// @Failure      409         {object}  errors.Response
// @Router       /event-config-version/{id}/artifacts/{artifactId} [delete]
func (h *Handler) DeleteArtifact(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	if err := h.service.DeleteArtifact(c.Request.Context(), c.Param("id"), c.Param("artifactId"), actor); err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, true)
}

// EvaluateArtifact godoc
// @Summary      Dry-run an artifact expression against a sample event
// @Tags         artifacts
// @Accept       json
// @Produce      json
// @Param        id          path      string           true  "Version ID"
// @Param        artifactId  path      string           true  "Artifact ID"
// @Param        sample      body      EvaluateRequest  true  "Sample input"
// @Success      200         {object}  errors.Response
// @Failure      400         {object}  errors.Response
// @Router       /event-config-version/{id}/artifacts/{artifactId}/evaluate [post]
func (h *Handler) EvaluateArtifact(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err))
		return
	}
	res, err := h.service.EvaluateArtifact(c.Request.Context(), c.Param("id"), c.Param("artifactId"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.ok(c, res)
}
