package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}
	positive := func(field string, d time.Duration) {
		if d <= 0 {
			add(field, "must be positive")
		}
	}
	atLeastOne := func(field string, n int) {
		if n < 1 {
			add(field, "must be at least 1")
		}
	}

	switch cfg.StoreBackend {
	case "sqlite":
		if cfg.SQLitePath == "" {
			add("SQLITE_PATH", "required")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required when STORE_BACKEND=postgres")
		}
	default:
		add("STORE_BACKEND", fmt.Sprintf("must be 'sqlite' or 'postgres', got %q", cfg.StoreBackend))
	}

	positive("DB_OP_TIMEOUT", cfg.DBOpTimeout)
	positive("POLL_INTERVAL", cfg.PollInterval)
	positive("LEASE_DURATION", cfg.LeaseDuration)
	positive("EXTRACT_TIMEOUT", cfg.ExtractTimeout)
	positive("REQUEUE_INTERVAL", cfg.RequeueInterval)
	positive("LEASE_POLL_MIN", cfg.LeasePollMin)

	if cfg.ExtractTimeout > 0 && cfg.LeaseDuration > 0 && cfg.ExtractTimeout >= cfg.LeaseDuration {
		add("EXTRACT_TIMEOUT", fmt.Sprintf("must be less than LEASE_DURATION (%s)", cfg.LeaseDuration))
	}
	if cfg.LeasePollMax < cfg.LeasePollMin {
		add("LEASE_POLL_MAX", "must not be less than LEASE_POLL_MIN")
	}
	if cfg.RetryBackoff < 0 {
		add("RETRY_BACKOFF", "must not be negative")
	}
	if cfg.RetryBackoffMax < cfg.RetryBackoff {
		add("RETRY_BACKOFF_MAX", "must not be less than RETRY_BACKOFF")
	}

	atLeastOne("WORKER_COUNT", cfg.WorkerCount)
	atLeastOne("MAX_ATTEMPTS", cfg.MaxAttempts)
	atLeastOne("MAX_FIRES_PER_POLL", cfg.MaxFiresPerPoll)
	atLeastOne("REQUEUE_BATCH_SIZE", cfg.RequeueBatchSize)

	if cfg.HostRateLimit < 0 {
		add("HOST_RATE_LIMIT", "must not be negative")
	}
	if cfg.CircuitBreakerThreshold < 0 {
		add("CIRCUIT_BREAKER_THRESHOLD", "must not be negative")
	}
	if cfg.CircuitBreakerThreshold > 0 {
		positive("CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldown)
	}

	if cfg.LeaderElectionEnabled {
		if cfg.StoreBackend != "postgres" {
			add("LEADER_ELECTION_ENABLED", "requires STORE_BACKEND=postgres")
		}
		if cfg.LeaderLockKey <= 0 {
			add("LEADER_LOCK_KEY", "must be a positive integer")
		}
		positive("LEADER_RETRY_INTERVAL", cfg.LeaderRetryInterval)
		positive("LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatInterval)
	}

	if cfg.MetricsEnabled && (cfg.MetricsPort < 1 || cfg.MetricsPort > 65535) {
		add("METRICS_PORT", fmt.Sprintf("must be a valid port, got %d", cfg.MetricsPort))
	}

	switch cfg.LogFormat {
	case "json", "console":
	default:
		add("LOG_FORMAT", fmt.Sprintf("must be 'json' or 'console', got %q", cfg.LogFormat))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
