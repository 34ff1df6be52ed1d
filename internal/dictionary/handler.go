package dictionary

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"riskcfg/internal/logger"
	"riskcfg/pkg/errors"
)

type Handler struct {
	service *Service
	logger  logger.Logger
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	dict := router.Group("/api/v1/dict")
	dict.GET("", h.ListTypes)
	dict.GET("/:dictType", h.GetOptions)
	dict.POST("/refresh", h.Refresh)
}

// ListTypes godoc
// @Summary      List dictionary types
// @Tags         dictionary
// @Produce      json
// @Success      200  {object}  errors.Response
// @Router       /dict [get]
func (h *Handler) ListTypes(c *gin.Context) {
	c.JSON(http.StatusOK, errors.Success(h.service.Types()))
}

// GetOptions godoc
// @Summary      Options of one dictionary
// @Tags         dictionary
// @Produce      json
// @Param        dictType  path      string  true  "Dictionary type"
// @Success      200       {object}  errors.Response
// @Failure      404       {object}  errors.Response
// @Router       /dict/{dictType} [get]
func (h *Handler) GetOptions(c *gin.Context) {
	opts, err := h.service.Options(c.Param("dictType"))
	if err != nil {
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, errors.Success(opts))
}

// Refresh godoc
// @Summary      Reload stored dictionaries
// @Tags         dictionary
// @Produce      json
// @Success      200  {object}  errors.Response
// @Failure      500  {object}  errors.Response
// @Router       /dict/refresh [post]
func (h *Handler) Refresh(c *gin.Context) {
	res, err := h.service.Refresh(c.Request.Context())
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Dictionary refresh failed", "error", err)
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, errors.Success(res))
}
