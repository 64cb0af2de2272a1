package config

import (
	"os"
	"testing"
	"time"

	"github.com/platinummonkey/idhub/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	os.Setenv("TEST_DURATION", "90s")
	defer os.Unsetenv("TEST_DURATION")

	if got := getEnvDuration("TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}

	if got := getEnvDuration("TEST_DURATION_UNSET", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() default = %v, want 1m", got)
	}

	os.Setenv("TEST_DURATION_BAD", "not-a-duration")
	defer os.Unsetenv("TEST_DURATION_BAD")
	if got := getEnvDuration("TEST_DURATION_BAD", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() invalid = %v, want 1m", got)
	}
}

// TestParseLogLevel tests log level parsing
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"error", observability.ErrorLevel},
		{"ERROR", observability.ErrorLevel},
		{"unknown", observability.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// TestLoadConfig_Defaults verifies defaults and validation with a minimal env
func TestLoadConfig_Defaults(t *testing.T) {
	os.Setenv("IDHUB_POSTGRES_URL", "postgres://localhost/idhub?sslmode=disable")
	defer os.Unsetenv("IDHUB_POSTGRES_URL")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Reconcile.Interval != 60*time.Second {
		t.Errorf("expected default reconcile interval 60s, got %v", cfg.Reconcile.Interval)
	}
	if cfg.Reconcile.DeactivateAfterMisses != 0 {
		t.Errorf("expected deactivation disabled by default, got %d", cfg.Reconcile.DeactivateAfterMisses)
	}
	if cfg.Identity.RecoveryClientID != "recovery-project" {
		t.Errorf("unexpected recovery client id: %s", cfg.Identity.RecoveryClientID)
	}
}

// TestLoadConfig_MissingPostgres verifies validation failure without a store URL
func TestLoadConfig_MissingPostgres(t *testing.T) {
	os.Unsetenv("IDHUB_POSTGRES_URL")

	if _, err := LoadConfig(); err == nil {
		t.Error("expected validation error without IDHUB_POSTGRES_URL")
	}
}

// TestValidate_PortClash verifies the health port must differ from the API port
func TestValidate_PortClash(t *testing.T) {
	os.Setenv("IDHUB_POSTGRES_URL", "postgres://localhost/idhub?sslmode=disable")
	os.Setenv("IDHUB_HEALTH_PORT", "8080")
	defer os.Unsetenv("IDHUB_POSTGRES_URL")
	defer os.Unsetenv("IDHUB_HEALTH_PORT")

	if _, err := LoadConfig(); err == nil {
		t.Error("expected validation error when ports clash")
	}
}
