package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/learnhub/core/internal/models"
	"github.com/learnhub/core/internal/modules/batch"
	"github.com/learnhub/core/internal/modules/class"
	pkgcron "github.com/learnhub/core/internal/pkg/cron"
)

// registerCronJobs registers all scheduled background jobs.
func (a *App) registerCronJobs(batchSvc *batch.Service, classSvc *class.Service) {
	cronLogger := a.logger.Named("CronService")

	a.sched.Register(batchSvc.AutomationJob(batchAutomationInterval))
	a.sched.Register(classSvc.ReminderJob(classReminderInterval, a.events))

	a.sched.Register(pkgcron.Job{
		Name:        "cleanup_verification_codes",
		Description: "Delete used or expired email verification codes",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			result := a.db.WithContext(ctx).Unscoped().
				Where("used = ? OR expires_at < ?", true, time.Now()).
				Delete(&models.EmailVerificationCode{})
			if result.Error != nil {
				cronLogger.Warn("verification code cleanup failed", zap.Error(result.Error))
				return result.Error
			}
			cronLogger.Info("verification codes cleaned", zap.Int64("deleted", result.RowsAffected))
			return nil
		},
	})
}
