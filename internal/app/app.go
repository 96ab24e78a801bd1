package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gistly/core/internal/config"
	"github.com/gistly/core/internal/database"
	"github.com/gistly/core/internal/middleware"
	"github.com/gistly/core/internal/modules/analytics"
	"github.com/gistly/core/internal/modules/llm"
	"github.com/gistly/core/internal/modules/summarization"
	pkgcron "github.com/gistly/core/internal/pkg/cron"
	"github.com/gistly/core/internal/pkg/ratelimit"
	pkgredis "github.com/gistly/core/internal/pkg/redis"
	"github.com/gistly/core/internal/pkg/taskqueue"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	rc     *pkgredis.Client
	logger *zap.Logger
	cancel context.CancelFunc

	queue  *taskqueue.Queue
	svc    *summarization.Service
	worker *summarization.Worker
	sched  *pkgcron.Scheduler
}

// New initializes the application: config → DB → Redis → services → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(corsConfig(cfg)))

	queue := taskqueue.New(rc, taskqueue.Options{
		MaxAttempts:       cfg.Queue.Attempts,
		Backoff:           cfg.Queue.Backoff(),
		VisibilityTimeout: cfg.Queue.VisibilityTimeout(),
		KeepCompleted:     cfg.Queue.RemoveOnComplete,
		KeepFailed:        cfg.Queue.RemoveOnFail,
	})

	orch := llm.NewService(logger,
		llm.NewGeminiAdapter(cfg.Providers.Gemini),
		llm.NewOpenAIAdapter(cfg.Providers.OpenAI),
	)
	if !orch.Available() {
		logger.Warn("no LLM provider configured, summarization will fail until keys are set")
	} else {
		logger.Info("LLM provider chain ready", zap.Strings("providers", orch.Providers()))
	}

	updater := analytics.NewUpdater(db, logger)
	store := summarization.NewRequestStore(db)
	svc := summarization.NewService(store, queue, orch, updater, logger)
	worker := summarization.NewWorker(queue, svc, logger, cfg.Workers, cfg.Queue.Attempts)

	limiter := ratelimit.New(rc.Raw(), logger, cfg.RateLimit.Max, cfg.RateLimit.Window())

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)

	sched := pkgcron.New(logger)
	registerCronJobs(sched, queue, svc, logger)
	sched.Start(ctx)

	app := &App{
		cfg:    cfg,
		router: router,
		db:     db,
		rc:     rc,
		logger: logger,
		cancel: cancel,
		queue:  queue,
		svc:    svc,
		worker: worker,
		sched:  sched,
	}
	app.registerRoutes(svc, limiter)

	return app, nil
}

func corsConfig(cfg *config.AppConfig) cors.Config {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
	}
	if len(cfg.AllowedOrigins) > 0 && !cfg.IsDev() {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsCfg.AllowOriginFunc = func(origin string) bool { return true }
	}
	return corsCfg
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops the worker and cron goroutines.
func (a *App) Shutdown() {
	a.cancel()
	if err := a.rc.Close(); err != nil {
		a.logger.Warn("redis close failed", zap.Error(err))
	}
}
