package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %s, want 2s", cfg.PollInterval)
	}
	if cfg.SchedulerInterval != 24*time.Hour {
		t.Errorf("SchedulerInterval = %s, want 24h", cfg.SchedulerInterval)
	}
	if cfg.RenewalNoticeDays != 30 {
		t.Errorf("RenewalNoticeDays = %d, want 30", cfg.RenewalNoticeDays)
	}
	if cfg.HTTPPort != "8080" {
		t.Errorf("HTTPPort = %s, want 8080", cfg.HTTPPort)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("AUTOMATION_RENEWAL_NOTICE_DAYS", "45")
	t.Setenv("AUTOMATION_LOG_LEVEL", "debug")

	cfg := Load()
	if cfg.RenewalNoticeDays != 45 {
		t.Errorf("RenewalNoticeDays = %d, want 45", cfg.RenewalNoticeDays)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
}
