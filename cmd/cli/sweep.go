package cli

import (
	"context"
	"fmt"
	"time"

	"trackhub/internal/config"
	"trackhub/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep [due-soon|overdue|sprint-archive|velocity|critical-bug|retention|all]",
	Short: "Run a scheduled sweep once and exit",
	Long: `Run one of the engine's scheduled sweeps a single time against the
configured database. Events produced by the sweep (dueDateApproaching,
criticalBugAlert) are fed through the automation pipeline before the
command exits.`,
	Args: cobra.ExactArgs(1),
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	notificationService := services.NewNotificationService(db, appLogger)
	taskService := services.NewTaskService(db, appLogger)

	executor := services.NewActionExecutor(taskService, notificationService, appLogger)
	automationService := services.NewAutomationService(db, appLogger)
	automationService.SetActionExecutor(executor)

	pipeline := services.NewEventPipeline(automationService, appLogger, cfg.Engine.EventBufferSize)
	pipeline.Start()
	taskService.SetPipeline(pipeline)

	scheduler := services.NewSchedulerService(db, appLogger, pipeline, notificationService, services.SchedulerIntervals{
		CriticalAlertCooldown: cfg.Scheduler.CriticalAlertCooldown,
	})

	ctx := context.Background()
	now := time.Now()

	sweeps := map[string]func(context.Context, time.Time) error{
		"due-soon":       scheduler.RunDueSoonSweep,
		"overdue":        scheduler.RunOverdueSweep,
		"sprint-archive": scheduler.RunSprintArchiveSweep,
		"velocity":       scheduler.RunVelocitySweep,
		"critical-bug":   scheduler.RunCriticalBugSweep,
		"retention":      scheduler.RunRetentionSweep,
	}

	names := []string{args[0]}
	if args[0] == "all" {
		names = []string{"due-soon", "overdue", "sprint-archive", "velocity", "critical-bug", "retention"}
	}

	var firstErr error
	for _, name := range names {
		fn, ok := sweeps[name]
		if !ok {
			pipeline.Stop()
			return fmt.Errorf("unknown sweep %q", name)
		}
		appLogger.Infof("Running sweep %s", name)
		if err := fn(ctx, now); err != nil {
			appLogger.Errorf("Sweep %s failed: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	// 等队列排空后退出
	pipeline.Stop()
	return firstErr
}
