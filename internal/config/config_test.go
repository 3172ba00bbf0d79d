package config

import (
	"testing"
	"time"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Host == "" {
		t.Error("expected Server.Host to be set")
	}
	if cfg.Server.Port == 0 {
		t.Error("expected Server.Port to be non-zero")
	}
	if cfg.Database.Name == "" {
		t.Error("expected Database.Name to be set")
	}
	if cfg.Log.Level == "" {
		t.Error("expected Log.Level to be set")
	}
	if cfg.Engine.EventBufferSize == 0 {
		t.Error("expected Engine.EventBufferSize to be set")
	}
}

func TestConfig_SchedulerDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	// 各扫描的默认节奏
	if cfg.Scheduler.DueSoonInterval != time.Hour {
		t.Errorf("expected due soon interval 1h, got %v", cfg.Scheduler.DueSoonInterval)
	}
	if cfg.Scheduler.OverdueInterval != 4*time.Hour {
		t.Errorf("expected overdue interval 4h, got %v", cfg.Scheduler.OverdueInterval)
	}
	if cfg.Scheduler.CriticalBugInterval != 30*time.Minute {
		t.Errorf("expected critical bug interval 30m, got %v", cfg.Scheduler.CriticalBugInterval)
	}
	if cfg.Scheduler.SprintArchiveInterval != 24*time.Hour {
		t.Errorf("expected sprint archive interval 24h, got %v", cfg.Scheduler.SprintArchiveInterval)
	}
	if cfg.Scheduler.CriticalAlertCooldown != 4*time.Hour {
		t.Errorf("expected critical alert cooldown 4h, got %v", cfg.Scheduler.CriticalAlertCooldown)
	}
}

func TestConfig_DatabaseSettings(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Database.MaxOpenConns == 0 {
		t.Error("expected MaxOpenConns to be set")
	}
	if cfg.Database.MaxIdleConns == 0 {
		t.Error("expected MaxIdleConns to be set")
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		t.Error("expected ConnMaxLifetime to be set")
	}
}

func TestConfig_NotifyDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	// 外部渠道默认关闭，开启需要显式配置
	if cfg.Notify.Email.Enabled {
		t.Error("expected email disabled by default")
	}
	if cfg.Notify.Webhook.Enabled {
		t.Error("expected webhook disabled by default")
	}
	if cfg.Notify.Email.From == "" {
		t.Error("expected a default From address")
	}
}
