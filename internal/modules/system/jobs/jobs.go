package jobs

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gistly/core/internal/pkg/response"
	"github.com/gistly/core/internal/pkg/taskqueue"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// Handler exposes read-only queue inspection endpoints.
type Handler struct {
	queue *taskqueue.Queue
}

func NewHandler(queue *taskqueue.Queue) *Handler {
	return &Handler{queue: queue}
}

// Register mounts the job routes on the given group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/jobs", h.list)
	rg.GET("/jobs/:id", h.get)
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

	var status *taskqueue.JobStatus
	if raw := c.Query("status"); raw != "" {
		if !taskqueue.IsValidJobStatus(raw) {
			response.BadRequest(c, "unknown job status")
			return
		}
		s := taskqueue.JobStatus(raw)
		status = &s
	}

	jobList, err := h.queue.List(c.Request.Context(), limit, status)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if jobList == nil {
		jobList = []*taskqueue.Job{}
	}
	response.OK(c, jobList)
}

func (h *Handler) get(c *gin.Context) {
	job, err := h.queue.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, taskqueue.ErrNotFound) {
		response.NotFound(c)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, job)
}
