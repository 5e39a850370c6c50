package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "NOTIFICATION_EXCHANGE")
	unsetEnvWithCleanup(t, "MUTATION_RATE_LIMIT_PER_MINUTE")
	unsetEnvWithCleanup(t, "LATE_PAYMENT_SWEEP_SCHEDULE")
	unsetEnvWithCleanup(t, "PAYMENT_GRACE_PERIOD_HOURS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.NotificationExchange != "ajopool.events" {
		t.Fatalf("expected default notification exchange, got %q", cfg.NotificationExchange)
	}
	if cfg.MutationRateLimitPerMinute != 60 {
		t.Fatalf("expected default mutation rate limit 60, got %d", cfg.MutationRateLimitPerMinute)
	}
	if cfg.LatePaymentSweepSchedule != "0 * * * *" {
		t.Fatalf("expected hourly sweep schedule, got %q", cfg.LatePaymentSweepSchedule)
	}
	if cfg.PaymentGracePeriodHours != 24 {
		t.Fatalf("expected default grace period 24h, got %d", cfg.PaymentGracePeriodHours)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8085")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_NegativeRateLimitDisablesLimiting(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "MUTATION_RATE_LIMIT_PER_MINUTE", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MutationRateLimitPerMinute != 0 {
		t.Fatalf("expected negative limit to be coerced to 0, got %d", cfg.MutationRateLimitPerMinute)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
