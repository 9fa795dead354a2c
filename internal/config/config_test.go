package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Fatalf("expected default sweep interval 5m, got %s", cfg.SweepInterval)
	}
	if cfg.StrikeThreshold != 3 {
		t.Fatalf("expected default strike threshold 3, got %d", cfg.StrikeThreshold)
	}
	if cfg.DefaultCycleLength != 21 {
		t.Fatalf("expected default cycle length 21, got %d", cfg.DefaultCycleLength)
	}
}

func TestLoadRejectsInvalidCycleLength(t *testing.T) {
	t.Setenv("CYCLE_LENGTH", "30")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail for cycle length 30")
	}
}

func TestLoadRejectsNonPositiveWindow(t *testing.T) {
	t.Setenv("APPEAL_WINDOW", "-1h")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail for negative appeal window")
	}
}

func TestLoadRejectsLateAfterBeyondCutoff(t *testing.T) {
	t.Setenv("LATE_AFTER", "3h")
	t.Setenv("MISSED_AFTER", "2h")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail when LATE_AFTER >= MISSED_AFTER")
	}
}

func TestLoadRequiresDSNForExternalDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail without APP_DB_DSN for mysql")
	}
}

func TestLoadRequiresWebhookURL(t *testing.T) {
	t.Setenv("NOTIFIER_BACKEND", "webhook")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail without NOTIFY_WEBHOOK_URL")
	}
}

func TestLoadParsesDurations(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "90s")
	t.Setenv("REVIEW_SLA", "12h")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SweepInterval != 90*time.Second {
		t.Fatalf("expected 90s sweep interval, got %s", cfg.SweepInterval)
	}
	if cfg.ReviewSLA != 12*time.Hour {
		t.Fatalf("expected 12h review SLA, got %s", cfg.ReviewSLA)
	}
}
