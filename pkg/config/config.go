package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/idhub/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage StorageConfig

	// Service discovery configuration
	Discovery DiscoveryConfig

	// Message bus configuration
	Bus BusConfig

	// Reconciliation worker configuration
	Reconcile ReconcileConfig

	// Identity defaults
	Identity IdentityConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig holds catalog store and redis configuration
type StorageConfig struct {
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// DiscoveryConfig holds service-registry settings
type DiscoveryConfig struct {
	ConsulAddress string
	// ServiceName is the hub's own registration name, excluded from
	// reconciliation along with the registry's reserved name.
	ServiceName string
	Timeout     time.Duration
}

// BusConfig holds message bus settings
type BusConfig struct {
	RegisterStream string
	LogoutStream   string
	EventsStream   string
	ConsumerGroup  string
	ConsumerName   string
	HandlerTimeout time.Duration
}

// ReconcileConfig holds reconciliation worker settings
type ReconcileConfig struct {
	Interval time.Duration
	// DeactivateAfterMisses deactivates a module absent from discovery for
	// this many consecutive ticks. Zero disables deactivation.
	DeactivateAfterMisses int
}

// IdentityConfig holds identity-domain defaults
type IdentityConfig struct {
	// DefaultUserPassword is assigned to users seeded via module registration.
	DefaultUserPassword string
	// RecoveryClientID is the single client-credentials client granted the
	// Administrator role.
	RecoveryClientID string
	// RestrictionsSuppressClaims folds module restrictions into claim
	// issuance instead of gating access downstream only.
	RestrictionsSuppressClaims bool
	// RevocationTTL bounds how long a logout keeps sessions revoked.
	RevocationTTL time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Discovery:     loadDiscoveryConfig(),
		Bus:           loadBusConfig(),
		Reconcile:     loadReconcileConfig(),
		Identity:      loadIdentityConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("IDHUB_HOST", "0.0.0.0"),
		Port:            getEnv("IDHUB_PORT", "8080"),
		ReadTimeout:     getEnvDuration("IDHUB_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("IDHUB_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDHUB_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("IDHUB_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("IDHUB_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		PostgresURL:      getEnv("IDHUB_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("IDHUB_POSTGRES_MAX_CONNS", 25),
		PostgresMinConns: getEnvInt("IDHUB_POSTGRES_MIN_CONNS", 5),
		PostgresTimeout:  getEnvDuration("IDHUB_POSTGRES_TIMEOUT", 10*time.Second),
		RedisURL:         getEnv("IDHUB_REDIS_URL", "redis://localhost:6379"),
		RedisPassword:    getEnv("IDHUB_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("IDHUB_REDIS_DB", 0),
	}
}

func loadDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		ConsulAddress: getEnv("IDHUB_CONSUL_ADDRESS", "localhost:8500"),
		ServiceName:   getEnv("IDHUB_SERVICE_NAME", "IdentityService"),
		Timeout:       getEnvDuration("IDHUB_CONSUL_TIMEOUT", 10*time.Second),
	}
}

func loadBusConfig() BusConfig {
	return BusConfig{
		RegisterStream: getEnv("IDHUB_BUS_REGISTER_STREAM", "idhub:register-module"),
		LogoutStream:   getEnv("IDHUB_BUS_LOGOUT_STREAM", "idhub:user-logged-out"),
		EventsStream:   getEnv("IDHUB_BUS_EVENTS_STREAM", "idhub:events"),
		ConsumerGroup:  getEnv("IDHUB_BUS_CONSUMER_GROUP", "identity-hub"),
		ConsumerName:   getEnv("IDHUB_BUS_CONSUMER_NAME", hostnameOr("idhub-consumer")),
		HandlerTimeout: getEnvDuration("IDHUB_BUS_HANDLER_TIMEOUT", 30*time.Second),
	}
}

func loadReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Interval:              getEnvDuration("IDHUB_RECONCILE_INTERVAL", 60*time.Second),
		DeactivateAfterMisses: getEnvInt("IDHUB_RECONCILE_DEACTIVATE_AFTER_MISSES", 0),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		DefaultUserPassword:        getEnv("IDHUB_DEFAULT_USER_PASSWORD", "DefaultPassword123!"),
		RecoveryClientID:           getEnv("IDHUB_RECOVERY_CLIENT_ID", "recovery-project"),
		RestrictionsSuppressClaims: getEnvBool("IDHUB_RESTRICTIONS_SUPPRESS_CLAIMS", false),
		RevocationTTL:              getEnvDuration("IDHUB_REVOCATION_TTL", 24*time.Hour),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("IDHUB_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("IDHUB_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}

	if c.Discovery.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	if c.Bus.RegisterStream == "" || c.Bus.ConsumerGroup == "" {
		return fmt.Errorf("bus stream and consumer group are required")
	}

	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile interval must be positive")
	}
	if c.Reconcile.DeactivateAfterMisses < 0 {
		return fmt.Errorf("deactivate-after-misses must not be negative")
	}

	if c.Identity.DefaultUserPassword == "" {
		return fmt.Errorf("default user password is required")
	}

	return nil
}

func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

func hostnameOr(fallback string) string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return fallback
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
