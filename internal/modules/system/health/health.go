package health

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	redisc "github.com/gistly/core/internal/pkg/redis"
	"github.com/gistly/core/internal/pkg/response"
)

const checkTimeout = 2 * time.Second

// Handler exposes liveness and readiness endpoints.
type Handler struct {
	db        *gorm.DB
	rc        *redisc.Client
	startedAt time.Time
}

func NewHandler(db *gorm.DB, rc *redisc.Client) *Handler {
	return &Handler{db: db, rc: rc, startedAt: time.Now()}
}

// Register mounts the health routes on the given group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/health", h.live)
	rg.GET("/health/ready", h.ready)
}

func (h *Handler) live(c *gin.Context) {
	response.OK(c, gin.H{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	start := time.Now()
	checks := gin.H{
		"database": h.checkDatabase(ctx),
		"redis":    h.checkRedis(ctx),
	}

	ready := true
	for _, status := range checks {
		if status != "ok" {
			ready = false
		}
	}

	body := gin.H{
		"status":       "ok",
		"checks":       checks,
		"responseTime": time.Since(start).String(),
		"uptime":       time.Since(h.startedAt).Round(time.Second).String(),
	}
	if !ready {
		body["status"] = "unavailable"
		response.ServiceUnavailable(c, body)
		return
	}
	response.OK(c, body)
}

func (h *Handler) checkDatabase(ctx context.Context) string {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err.Error()
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if err := h.rc.Ping(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}
