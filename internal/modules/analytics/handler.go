package analytics

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gistly/core/internal/models"
	"github.com/gistly/core/internal/pkg/response"
)

type statsReader interface {
	History(ctx context.Context, days int) ([]models.AnalyticsDayModel, error)
	GetSummary(ctx context.Context) (*Summary, error)
}

// Handler exposes the analytics read endpoints.
type Handler struct {
	svc statsReader
}

func NewHandler(svc statsReader) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the analytics routes on the given group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/analytics", h.history)
	rg.GET("/analytics/summary", h.summary)
}

func (h *Handler) history(c *gin.Context) {
	days := defaultHistoryDays
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			response.BadRequest(c, "days must be a positive integer")
			return
		}
		if parsed > maxHistoryDays {
			response.BadRequest(c, "days must be at most 365")
			return
		}
		days = parsed
	}

	rows, err := h.svc.History(c.Request.Context(), days)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if rows == nil {
		rows = []models.AnalyticsDayModel{}
	}
	response.OK(c, rows)
}

func (h *Handler) summary(c *gin.Context) {
	summary, err := h.svc.GetSummary(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, summary)
}
