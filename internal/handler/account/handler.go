package account

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/accountkit/lifecycle-api/internal/handler"
	"github.com/accountkit/lifecycle-api/internal/middleware"
	lifecycleService "github.com/accountkit/lifecycle-api/internal/service/lifecycle"
	queryService "github.com/accountkit/lifecycle-api/internal/service/query"
	"github.com/accountkit/lifecycle-api/pkg/metrics"
)

type Handler struct {
	commands lifecycleService.Servicer
	queries  queryService.Servicer
	metrics  *metrics.Metrics
}

func NewHandler(commands lifecycleService.Servicer, queries queryService.Servicer, metrics *metrics.Metrics) *Handler {
	return &Handler{commands: commands, queries: queries, metrics: metrics}
}

func (h *Handler) recordCommand(command string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	h.metrics.CommandsTotal.WithLabelValues(command, status).Inc()
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	accounts := r.Group("/accounts")
	{
		accounts.POST("", h.CreateAccount)
		accounts.POST("/:id/deactivate", h.Deactivate)
		accounts.POST("/:id/cancel-schedule", h.CancelSchedule)
		accounts.POST("/:id/reactivate", h.Reactivate)

		accounts.GET("/:id/status", h.GetStatus)
		accounts.GET("/:id/history", h.GetHistory)
		accounts.GET("/:id/scheduled-actions", h.ListScheduledActions)
	}

	r.GET("/scheduled-actions/pending", h.ListPendingActions)
	r.GET("/stats", h.GetStats)
}

type createAccountRequest struct {
	Reason *string `json:"reason"`
}

func (h *Handler) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(handler.BindErrorMessage(err)))
		return
	}

	acc, err := h.commands.CreateAccount(c.Request.Context(), middleware.ActorFromContext(c), req.Reason)
	h.recordCommand("create", err)
	if err != nil {
		c.JSON(handler.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(acc))
}

type deactivateRequest struct {
	DeactivationType string     `json:"deactivation_type" binding:"required,oneof=immediate scheduled"`
	ScheduledFor     *time.Time `json:"scheduled_for"`
	Reason           *string    `json:"reason"`
}

func (h *Handler) Deactivate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid account ID"))
		return
	}

	var req deactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(handler.BindErrorMessage(err)))
		return
	}

	params := lifecycleService.DeactivateParams{Reason: req.Reason}
	if req.DeactivationType == "scheduled" {
		if req.ScheduledFor == nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("scheduled_for is required for scheduled deactivation"))
			return
		}
		params.ScheduledFor = req.ScheduledFor
	}

	result, err := h.commands.Deactivate(c.Request.Context(), id, params, middleware.ActorFromContext(c))
	h.recordCommand("deactivate", err)
	if err != nil {
		c.JSON(handler.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

type reasonRequest struct {
	Reason *string `json:"reason"`
}

func (h *Handler) CancelSchedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid account ID"))
		return
	}

	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(handler.BindErrorMessage(err)))
		return
	}

	result, err := h.commands.CancelSchedule(c.Request.Context(), id, req.Reason, middleware.ActorFromContext(c))
	h.recordCommand("cancel_schedule", err)
	if err != nil {
		c.JSON(handler.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) Reactivate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid account ID"))
		return
	}

	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(handler.BindErrorMessage(err)))
		return
	}

	result, err := h.commands.Reactivate(c.Request.Context(), id, req.Reason, middleware.ActorFromContext(c))
	h.recordCommand("reactivate", err)
	if err != nil {
		c.JSON(handler.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) GetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid account ID"))
		return
	}

	info, err := h.queries.GetStatus(c.Request.Context(), id)
	if err != nil {
		c.JSON(handler.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(info))
}

func (h *Handler) GetHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid account ID"))
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid limit"))
			return
		}
	}

	records, err := h.queries.GetHistory(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(handler.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(records))
}

func (h *Handler) ListScheduledActions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid account ID"))
		return
	}

	actions, err := h.queries.ListScheduledActions(c.Request.Context(), id)
	if err != nil {
		c.JSON(handler.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(actions))
}

func (h *Handler) ListPendingActions(c *gin.Context) {
	actions, err := h.queries.ListPendingActions(c.Request.Context())
	if err != nil {
		c.JSON(handler.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(actions))
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.queries.GetStats(c.Request.Context())
	if err != nil {
		c.JSON(handler.HTTPStatus(err), handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}
