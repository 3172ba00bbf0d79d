package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Engine     EngineConfig     `yaml:"engine"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Notify     NotifyConfig     `yaml:"notify"`
	Log        LogConfig        `yaml:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// EngineConfig 自动化引擎配置
type EngineConfig struct {
	EventBufferSize int `yaml:"event_buffer_size"`
}

// SchedulerConfig 定时任务配置
type SchedulerConfig struct {
	DueSoonInterval       time.Duration `yaml:"due_soon_interval"`
	OverdueInterval       time.Duration `yaml:"overdue_interval"`
	SprintArchiveInterval time.Duration `yaml:"sprint_archive_interval"`
	VelocityInterval      time.Duration `yaml:"velocity_interval"`
	CriticalBugInterval   time.Duration `yaml:"critical_bug_interval"`
	RetentionInterval     time.Duration `yaml:"retention_interval"`
	CriticalAlertCooldown time.Duration `yaml:"critical_alert_cooldown"`
}

// NotifyConfig 外部通知渠道配置
type NotifyConfig struct {
	Email   EmailConfig   `yaml:"email"`
	Webhook WebhookConfig `yaml:"webhook"`
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`     // json, text
	Output     string `yaml:"output"`     // stdout, file, both
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`    // MB
	MaxAge     int    `yaml:"max_age"`     // days
	MaxBackups int    `yaml:"max_backups"` // number of backup files
	Compress   bool   `yaml:"compress"`    // compress backup files
}

type MonitoringConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MetricsPath string        `yaml:"metrics_path"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP gRPC 端点，例如 http://otel-collector:4317
	Insecure    bool    `yaml:"insecure"`     // 是否使用明文（本地/开发）
	SampleRatio float64 `yaml:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `yaml:"service_name"` // 自定义服务名，缺省使用 "trackhub"
}

func Load() *Config {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}
	return &config
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "trackhub",
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		Engine: EngineConfig{
			EventBufferSize: 256,
		},
		Scheduler: SchedulerConfig{
			DueSoonInterval:       time.Hour,
			OverdueInterval:       4 * time.Hour,
			SprintArchiveInterval: 24 * time.Hour,
			VelocityInterval:      24 * time.Hour,
			CriticalBugInterval:   30 * time.Minute,
			RetentionInterval:     24 * time.Hour,
			CriticalAlertCooldown: 4 * time.Hour,
		},
		Notify: NotifyConfig{
			Email: EmailConfig{
				Enabled: false,
				Host:    "localhost",
				Port:    25,
				From:    "trackhub@localhost",
			},
			Webhook: WebhookConfig{
				Enabled: false,
			},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "both",
			FilePath:   "./logs/trackhub.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     false,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				SampleRatio: 0.1,
				ServiceName: "trackhub",
			},
		},
	}
}
