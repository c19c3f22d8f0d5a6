package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/learnhub/core/internal/config"
	"github.com/learnhub/core/internal/database"
	"github.com/learnhub/core/internal/middleware"
	"github.com/learnhub/core/internal/pkg/cache"
	pkgcron "github.com/learnhub/core/internal/pkg/cron"
	"github.com/learnhub/core/internal/pkg/events"
	"github.com/learnhub/core/internal/pkg/jwt"
	"github.com/learnhub/core/internal/pkg/mail"
	"github.com/learnhub/core/internal/pkg/metrics"
	"github.com/learnhub/core/internal/pkg/ratelimit"
	pkgredis "github.com/learnhub/core/internal/pkg/redis"
	"github.com/learnhub/core/internal/pkg/session"
	"github.com/learnhub/core/internal/pkg/taskqueue"
)

const (
	brandName          = "LearnHub"
	rateLimitKeyPrefix = "lh:rate_limit"
)

// App holds all application dependencies.
type App struct {
	cfg      *config.AppConfig
	router   *gin.Engine
	db       *gorm.DB
	rc       *pkgredis.Client
	logger   *zap.Logger
	metrics  *metrics.Metrics
	issuer   *jwt.Issuer
	sessions *session.Registry
	cache    *cache.Cache
	queue    *taskqueue.Service
	worker   *taskqueue.Worker
	events   *events.Dispatcher
	sched    *pkgcron.Scheduler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New initializes the application: config → DB → Redis → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := applyRuntimeSettings(cfg); err != nil {
		return nil, err
	}

	issuer, err := jwt.NewIssuer(jwt.Options{
		Secret:    cfg.JWT.Secret,
		Issuer:    cfg.JWT.Issuer,
		Audience:  cfg.JWT.Audience,
		AccessTTL: cfg.JWT.AccessTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.RedisURL())
	if err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("redis: %w", err)
	}

	m := metrics.New()
	a := &App{
		cfg:     cfg,
		db:      db,
		rc:      rc,
		logger:  logger,
		metrics: m,
		issuer:  issuer,
		sessions: session.NewRegistry(rc, session.Options{
			TTL:        cfg.Session.RefreshTTL,
			MaxDevices: cfg.Session.MaxDevices,
			Logger:     logger.Named("session"),
			Metrics:    m,
		}),
		cache: cache.New(rc, cache.Options{
			DefaultTTL:   cfg.Cache.DefaultTTL,
			SingleFlight: cfg.Cache.SingleFlight,
			Logger:       logger.Named("cache"),
			Metrics:      m,
		}),
		queue: taskqueue.NewService(rc),
		sched: pkgcron.New(logger.Named("cron")),
	}

	renderer, err := mail.NewRenderer(brandName)
	if err != nil {
		a.closeStores()
		return nil, fmt.Errorf("mail templates: %w", err)
	}
	a.events = events.NewDispatcher(a.queue, renderer, logger.Named("events"))
	a.worker = taskqueue.NewWorker(a.queue, taskqueue.WorkerOptions{
		Concurrency: cfg.Mail.Workers,
		Logger:      logger.Named("taskqueue"),
		Metrics:     m,
	})
	a.worker.Handle(mail.TaskType, mail.TaskHandler(mail.New(mail.Config{
		Enable:    cfg.Mail.Enable,
		Host:      cfg.Mail.Host,
		Port:      cfg.Mail.Port,
		User:      cfg.Mail.User,
		Pass:      cfg.Mail.Pass,
		From:      cfg.Mail.From,
		ReplyTo:   cfg.Mail.ReplyTo,
		UseResend: cfg.Mail.ResendKey != "",
		ResendKey: cfg.Mail.ResendKey,
	})))

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger.Named("http"), m))
	router.Use(newCORS(cfg))
	a.router = router

	var window *ratelimit.Window
	if !cfg.Security.DisableLimiter {
		window = ratelimit.NewWindow(rc, rateLimitKeyPrefix, cfg.Security.RateLimit, time.Second)
	}
	a.registerRoutes(window)

	return a, nil
}

// Start launches the mail worker and the cron scheduler.
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.worker.Run(ctx)
	}()
	a.sched.Start(ctx)
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops background work and closes the stores.
func (a *App) Shutdown() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.sched.Wait()
	a.closeStores()
}

func (a *App) closeStores() {
	if err := a.rc.Close(); err != nil {
		a.logger.Warn("redis close failed", zap.Error(err))
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("database close failed", zap.Error(err))
	}
}
