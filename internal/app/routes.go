package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learnhub/core/internal/middleware"
	"github.com/learnhub/core/internal/modules/auth"
	"github.com/learnhub/core/internal/modules/batch"
	"github.com/learnhub/core/internal/modules/class"
	"github.com/learnhub/core/internal/modules/course"
	"github.com/learnhub/core/internal/modules/payment"
	"github.com/learnhub/core/internal/modules/user"
	"github.com/learnhub/core/internal/pkg/ratelimit"
	"github.com/learnhub/core/internal/pkg/response"
)

const (
	batchAutomationInterval = 5 * time.Minute
	classReminderInterval   = 10 * time.Minute
)

func (a *App) registerRoutes(window *ratelimit.Window) {
	a.router.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	a.router.NoRoute(func(c *gin.Context) { response.NotFound(c) })

	api := a.router.Group("/api/v1")
	api.Use(middleware.OptionalAuth(a.issuer))
	if window != nil {
		api.Use(middleware.RateLimit(window, a.metrics, a.logger.Named("ratelimit")))
	}
	api.GET("/health", a.health)

	authMW := middleware.Auth(a.issuer)

	authSvc := auth.NewService(
		auth.NewGormStore(a.db),
		a.sessions,
		a.issuer,
		a.rc,
		ratelimit.NewEmailLimiter(a.rc),
		auth.Options{
			BcryptCost:   a.cfg.Security.BcryptCost,
			FrontendURL:  a.cfg.FrontendURL,
			IsSuperAdmin: a.cfg.IsSuperAdmin,
			Logger:       a.logger.Named("auth"),
		},
	)
	auth.NewHandler(authSvc, a.sessions, a.events).RegisterRoutes(api, authMW)

	userSvc := user.NewService(user.NewGormStore(a.db), a.cache, ratelimit.NewWeeklyLock(a.rc, "wallet"))
	user.NewHandler(userSvc).RegisterRoutes(api, authMW)

	courseSvc := course.NewService(course.NewGormStore(a.db), a.cache)
	course.NewHandler(courseSvc).RegisterRoutes(api, authMW)

	batchSvc := batch.NewService(batch.NewGormStore(a.db), a.cache, courseSvc, batch.Options{
		Logger: a.logger.Named("batch"),
	})
	batch.NewHandler(batchSvc).RegisterRoutes(api, authMW)

	classSvc := class.NewService(class.NewGormStore(a.db), a.cache, a.rc, class.Options{
		Logger: a.logger.Named("class"),
	})
	class.NewHandler(classSvc).RegisterRoutes(api, authMW)
	a.registerCronJobs(batchSvc, classSvc)

	paymentSvc := payment.NewService(payment.NewGormStore(a.db), a.cache, payment.Options{
		AdminEmail: a.cfg.AdminEmail,
		Logger:     a.logger.Named("payment"),
	})
	payment.NewHandler(paymentSvc, a.events).RegisterRoutes(api, authMW, middleware.Idempotence(a.rc))
}

// GET /api/v1/health
func (a *App) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{"database": "ok", "redis": "ok"}
	code := http.StatusOK
	if err := a.rc.Ping(ctx); err != nil {
		status["redis"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if sqlDB, err := a.db.DB(); err != nil {
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	} else if err := sqlDB.PingContext(ctx); err != nil {
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if pending, err := a.queue.Pending(ctx); err == nil {
		status["mail_queue"] = pending
	}
	c.JSON(code, status)
}
