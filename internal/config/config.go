package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string

	DBDriver          string
	DBPath            string
	DBDSN             string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	SweepInterval time.Duration
	ReminderLead  time.Duration
	LateAfter     time.Duration
	MissedAfter   time.Duration
	ReviewSLA     time.Duration
	ReshootWindow time.Duration
	AppealWindow  time.Duration

	StrikeThreshold    int
	DefaultCycleLength int
	ExtendedCycleDays  int

	ConfidenceThreshold float64

	NotifierBackend    string
	NotifierTimeout    time.Duration
	NotifyWebhookURL   string
	NotifyWebhookToken string
	SMTPHost           string
	SMTPPort           int
	SMTPFrom           string

	VerifierBackend string
	VerifierURL     string
	VerifierToken   string
	VerifierTimeout time.Duration

	ArchiveDBDriver string
	ArchiveDBDSN    string
	ArchiveTable    string
	ArchiveAfter    time.Duration

	AdminToken             string
	BootstrapManagerName   string
	BootstrapManagerToken  string
	CORSAllowedOrigins     []string
	TrustProxy             bool
	HTTPReadTimeoutSec     int
	HTTPWriteTimeoutSec    int
	HTTPIdleTimeoutSec     int
	SubmitRatePerMinute    int
	SubmitRateBurstPerHour int
}

func Load() (Config, error) {
	cfg := Config{
		ListenAddr:             env("LISTEN_ADDR", ":8080"),
		DBDriver:               strings.ToLower(env("DB_DRIVER", "sqlite")),
		DBPath:                 env("APP_DB_PATH", "./data/adherence.db"),
		DBDSN:                  env("APP_DB_DSN", ""),
		DBMaxOpenConns:         envInt("APP_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:         envInt("APP_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:      time.Duration(envInt("APP_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		SweepInterval:          envDuration("SWEEP_INTERVAL", 5*time.Minute),
		ReminderLead:           envDuration("REMINDER_LEAD", 10*time.Minute),
		LateAfter:              envDuration("LATE_AFTER", 30*time.Minute),
		MissedAfter:            envDuration("MISSED_AFTER", 2*time.Hour),
		ReviewSLA:              envDuration("REVIEW_SLA", 22*time.Hour),
		ReshootWindow:          envDuration("RESHOOT_WINDOW", 22*time.Hour),
		AppealWindow:           envDuration("APPEAL_WINDOW", 24*time.Hour),
		StrikeThreshold:        envInt("STRIKE_THRESHOLD", 3),
		DefaultCycleLength:     envInt("CYCLE_LENGTH", 21),
		ExtendedCycleDays:      envInt("EXTENDED_CYCLE_DAYS", 42),
		ConfidenceThreshold:    envFloat("CONFIDENCE_THRESHOLD", 0.85),
		NotifierBackend:        strings.ToLower(env("NOTIFIER_BACKEND", "log")),
		NotifierTimeout:        envDuration("NOTIFIER_TIMEOUT", 10*time.Second),
		NotifyWebhookURL:       env("NOTIFY_WEBHOOK_URL", ""),
		NotifyWebhookToken:     env("NOTIFY_WEBHOOK_TOKEN", ""),
		SMTPHost:               env("SMTP_HOST", "127.0.0.1"),
		SMTPPort:               envInt("SMTP_PORT", 587),
		SMTPFrom:               env("SMTP_FROM", "adherence@example.com"),
		VerifierBackend:        strings.ToLower(env("VERIFIER_BACKEND", "static")),
		VerifierURL:            env("VERIFIER_URL", ""),
		VerifierToken:          env("VERIFIER_TOKEN", ""),
		VerifierTimeout:        envDuration("VERIFIER_TIMEOUT", 20*time.Second),
		ArchiveDBDriver:        env("ARCHIVE_DB_DRIVER", ""),
		ArchiveDBDSN:           env("ARCHIVE_DB_DSN", ""),
		ArchiveTable:           env("ARCHIVE_TABLE", "archived_courses"),
		ArchiveAfter:           envDuration("ARCHIVE_AFTER", 24*time.Hour),
		AdminToken:             env("ADMIN_TOKEN", ""),
		BootstrapManagerName:   env("BOOTSTRAP_MANAGER_NAME", ""),
		BootstrapManagerToken:  env("BOOTSTRAP_MANAGER_TOKEN", ""),
		CORSAllowedOrigins:     envCSV("CORS_ALLOWED_ORIGINS"),
		TrustProxy:             envBool("TRUST_PROXY", false),
		HTTPReadTimeoutSec:     envInt("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPWriteTimeoutSec:    envInt("HTTP_WRITE_TIMEOUT_SEC", 30),
		HTTPIdleTimeoutSec:     envInt("HTTP_IDLE_TIMEOUT_SEC", 60),
		SubmitRatePerMinute:    envInt("SUBMIT_RATE_PER_MINUTE", 10),
		SubmitRateBurstPerHour: envInt("SUBMIT_RATE_PER_HOUR", 60),
	}

	switch cfg.DBDriver {
	case "sqlite":
	case "mysql":
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return Config{}, fmt.Errorf("APP_DB_DSN is required when DB_DRIVER=mysql")
		}
	default:
		return Config{}, fmt.Errorf("DB_DRIVER must be one of: sqlite, mysql")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	for name, d := range map[string]time.Duration{
		"SWEEP_INTERVAL": cfg.SweepInterval,
		"REMINDER_LEAD":  cfg.ReminderLead,
		"LATE_AFTER":     cfg.LateAfter,
		"MISSED_AFTER":   cfg.MissedAfter,
		"REVIEW_SLA":     cfg.ReviewSLA,
		"RESHOOT_WINDOW": cfg.ReshootWindow,
		"APPEAL_WINDOW":  cfg.AppealWindow,
	} {
		if d <= 0 {
			return Config{}, fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if cfg.LateAfter >= cfg.MissedAfter {
		return Config{}, fmt.Errorf("LATE_AFTER must be shorter than MISSED_AFTER")
	}
	if cfg.StrikeThreshold <= 0 {
		return Config{}, fmt.Errorf("STRIKE_THRESHOLD must be positive")
	}
	if cfg.DefaultCycleLength != 21 && cfg.DefaultCycleLength != 42 {
		return Config{}, fmt.Errorf("CYCLE_LENGTH must be 21 or 42")
	}
	if cfg.ExtendedCycleDays != 42 {
		return Config{}, fmt.Errorf("EXTENDED_CYCLE_DAYS must be 42")
	}
	if cfg.ConfidenceThreshold <= 0 || cfg.ConfidenceThreshold > 1 {
		return Config{}, fmt.Errorf("CONFIDENCE_THRESHOLD must be in (0, 1]")
	}
	switch cfg.NotifierBackend {
	case "log":
	case "webhook":
		if strings.TrimSpace(cfg.NotifyWebhookURL) == "" {
			return Config{}, fmt.Errorf("NOTIFY_WEBHOOK_URL is required when NOTIFIER_BACKEND=webhook")
		}
	case "smtp":
		if cfg.SMTPPort <= 0 {
			return Config{}, fmt.Errorf("invalid SMTP_PORT")
		}
	default:
		return Config{}, fmt.Errorf("NOTIFIER_BACKEND must be one of: log, webhook, smtp")
	}
	switch cfg.VerifierBackend {
	case "static":
	case "http":
		if strings.TrimSpace(cfg.VerifierURL) == "" {
			return Config{}, fmt.Errorf("VERIFIER_URL is required when VERIFIER_BACKEND=http")
		}
	default:
		return Config{}, fmt.Errorf("VERIFIER_BACKEND must be one of: static, http")
	}
	if cfg.ArchiveDBDriver != "" {
		switch cfg.ArchiveDBDriver {
		case "pgx", "mysql":
			if strings.TrimSpace(cfg.ArchiveDBDSN) == "" {
				return Config{}, fmt.Errorf("ARCHIVE_DB_DSN is required when ARCHIVE_DB_DRIVER is set")
			}
		default:
			return Config{}, fmt.Errorf("ARCHIVE_DB_DRIVER must be one of: pgx, mysql")
		}
	}
	return cfg, nil
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func envFloat(k string, d float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return d
	}
	return f
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func envDuration(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return d
	}
	return parsed
}

func envCSV(k string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
