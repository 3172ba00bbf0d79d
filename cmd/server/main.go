package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trackhub/internal/config"
	"trackhub/internal/handlers"
	"trackhub/internal/models"
	"trackhub/internal/observability"
	"trackhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	// 初始化链路追踪
	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("setup tracing: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	// 构建 Postgres DSN 并连接数据库
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			appLogger.Warnf("gorm tracing plugin: %v", err)
		}
	}

	// 根据需要迁移（此处默认迁移，生产可改为条件控制）
	if err := db.AutoMigrate(
		&models.User{}, &models.Project{}, &models.Task{}, &models.Bug{},
		&models.Sprint{}, &models.Release{}, &models.Notification{},
		&models.Automation{}, &models.AutomationExecution{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// 初始化业务服务
	notificationService := services.NewNotificationService(db, appLogger)
	if cfg.Notify.Email.Enabled {
		notificationService.RegisterSender("email", services.NewEmailSender(
			db, cfg.Notify.Email.Host, cfg.Notify.Email.Port,
			cfg.Notify.Email.User, cfg.Notify.Email.Password, cfg.Notify.Email.From,
		))
	}
	if cfg.Notify.Webhook.Enabled {
		notificationService.RegisterSender("webhook", services.NewWebhookSender(cfg.Notify.Webhook.URL))
	}

	taskService := services.NewTaskService(db, appLogger)
	sprintService := services.NewSprintService(db, appLogger)

	alertHub := services.NewAlertHub()
	go alertHub.Run()

	executor := services.NewActionExecutor(taskService, notificationService, appLogger)
	executor.SetBroadcaster(alertHub)

	automationService := services.NewAutomationService(db, appLogger)
	automationService.SetActionExecutor(executor)

	pipeline := services.NewEventPipeline(automationService, appLogger, cfg.Engine.EventBufferSize)
	pipeline.Start()
	taskService.SetPipeline(pipeline)
	sprintService.SetPipeline(pipeline)

	scheduler := services.NewSchedulerService(db, appLogger, pipeline, notificationService, services.SchedulerIntervals{
		DueSoon:               cfg.Scheduler.DueSoonInterval,
		Overdue:               cfg.Scheduler.OverdueInterval,
		SprintArchive:         cfg.Scheduler.SprintArchiveInterval,
		Velocity:              cfg.Scheduler.VelocityInterval,
		CriticalBug:           cfg.Scheduler.CriticalBugInterval,
		Retention:             cfg.Scheduler.RetentionInterval,
		CriticalAlertCooldown: cfg.Scheduler.CriticalAlertCooldown,
	})
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	scheduler.Start(schedulerCtx)

	// 初始化 Gin
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware("trackhub"))
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC(), "version": "v1.0.0"})
	})

	// 实时告警 WebSocket
	r.GET("/ws/alerts", alertHub.HandleWebSocket)

	// API 路由组
	api := r.Group("/api")
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(automationService, appLogger))
	handlers.RegisterNotificationRoutes(api, handlers.NewNotificationHandler(notificationService, appLogger))
	handlers.RegisterEventRoutes(api, handlers.NewEventHandler(pipeline))

	// 启动服务器
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: r}
	go func() {
		appLogger.Infof("Starting server on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 优雅关闭：先停调度与事件管道，再关 HTTP
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")

	stopScheduler()
	scheduler.Stop()
	pipeline.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		appLogger.Warnf("shutdown tracing: %v", err)
	}
	appLogger.Info("Server exited")
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
