package app

import (
	"github.com/gistly/core/internal/middleware"
	"github.com/gistly/core/internal/modules/analytics"
	"github.com/gistly/core/internal/modules/summarization"
	"github.com/gistly/core/internal/modules/system/health"
	"github.com/gistly/core/internal/modules/system/jobs"
	"github.com/gistly/core/internal/pkg/ratelimit"
)

func (a *App) registerRoutes(svc *summarization.Service, limiter *ratelimit.Limiter) {
	api := a.router.Group("/api/v1")

	createGuard := middleware.IPRateLimit(limiter)
	summarization.NewHandler(svc, a.logger).Register(api, createGuard)

	analyticsSvc := analytics.NewService(a.db)
	analytics.NewHandler(analyticsSvc).Register(api)

	health.NewHandler(a.db, a.rc).Register(api)
	jobs.NewHandler(a.queue).Register(api)
}
