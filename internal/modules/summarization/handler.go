package summarization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gistly/core/internal/models"
	"github.com/gistly/core/internal/modules/llm"
	"github.com/gistly/core/internal/pkg/response"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

type facadeService interface {
	Create(ctx context.Context, input CreateInput, requestIP string) (*models.SummarizationRequestModel, error)
	Get(ctx context.Context, id string) (*models.SummarizationRequestModel, error)
	List(ctx context.Context, limit int, status *models.RequestStatus) ([]models.SummarizationRequestModel, error)
	StreamProcess(ctx context.Context, req *models.SummarizationRequestModel, emit func(llm.Chunk) error) error
}

// Handler is the HTTP surface of the summarization module.
type Handler struct {
	svc facadeService
	log *zap.Logger
}

func NewHandler(svc facadeService, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Register mounts the summarization routes on the given group. The rate limit
// middleware guards creation only.
func (h *Handler) Register(rg *gin.RouterGroup, createGuard gin.HandlerFunc) {
	group := rg.Group("/summarization")
	group.POST("", createGuard, h.create)
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.GET("/stream/:id", h.stream)
}

func (h *Handler) create(c *gin.Context) {
	var input CreateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.BadRequest(c, "text is required")
		return
	}

	text := strings.TrimSpace(input.Text)
	if len(text) < MinTextLength {
		response.BadRequest(c, fmt.Sprintf("text must be at least %d characters", MinTextLength))
		return
	}
	if len(text) > MaxTextLength {
		response.BadRequest(c, fmt.Sprintf("text must be at most %d characters", MaxTextLength))
		return
	}
	input.Text = text

	req, err := h.svc.Create(c.Request.Context(), input, c.ClientIP())
	if err != nil {
		response.InternalError(c, err)
		return
	}

	response.Created(c, CreateResult{
		ID:        req.ID,
		Status:    string(req.Status),
		CreatedAt: req.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	if !uuidPattern.MatchString(id) {
		response.BadRequest(c, "id must be a valid UUID")
		return
	}

	req, err := h.svc.Get(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, req)
}

func (h *Handler) list(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxListLimit {
			response.BadRequest(c, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	var status *models.RequestStatus
	if raw := c.Query("status"); raw != "" {
		if !models.IsValidRequestStatus(raw) {
			response.BadRequest(c, "status must be one of PENDING, PROCESSING, COMPLETED, FAILED")
			return
		}
		s := models.RequestStatus(raw)
		status = &s
	}

	reqs, err := h.svc.List(c.Request.Context(), limit, status)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if reqs == nil {
		reqs = []models.SummarizationRequestModel{}
	}
	response.OK(c, reqs)
}

// stream serves the request's summary over SSE. Completed requests replay the
// cached summary as one chunk; pending ones are pulled out of the queue and
// processed live on this connection.
func (h *Handler) stream(c *gin.Context) {
	id := c.Param("id")
	if !uuidPattern.MatchString(id) {
		response.BadRequest(c, "id must be a valid UUID")
		return
	}

	req, err := h.svc.Get(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	switch req.Status {
	case models.StatusCompleted:
		summary := ""
		if req.Summary != nil {
			summary = *req.Summary
		}
		h.sendChunk(c, streamEvent{Text: summary, Done: true, Provider: req.LLMProvider})
	case models.StatusFailed:
		message := "summarization failed"
		if req.ErrorMessage != nil && *req.ErrorMessage != "" {
			message = *req.ErrorMessage
		}
		h.sendChunk(c, streamEvent{Error: message, Done: true})
	case models.StatusProcessing:
		h.sendChunk(c, streamEvent{Error: "request is already being processed", Done: true})
	case models.StatusPending:
		h.streamLive(c, req)
	}
}

func (h *Handler) streamLive(c *gin.Context, req *models.SummarizationRequestModel) {
	err := h.svc.StreamProcess(c.Request.Context(), req, func(chunk llm.Chunk) error {
		if c.Request.Context().Err() != nil {
			return c.Request.Context().Err()
		}
		h.sendChunk(c, streamEvent{Text: chunk.Text, Provider: chunk.Provider})
		return nil
	})
	if err != nil {
		if c.Request.Context().Err() == nil {
			h.sendChunk(c, streamEvent{Error: err.Error(), Done: true})
		}
		return
	}

	h.sendChunk(c, streamEvent{Done: true})
}

type streamEvent struct {
	Text     string `json:"text,omitempty"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
	Done     bool   `json:"done"`
}

func (h *Handler) sendChunk(c *gin.Context, event streamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("stream event marshal failed", zap.Error(err))
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}
