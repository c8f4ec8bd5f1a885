package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	return cfg
}

func TestValidate_PostgresRequiresDatabaseURL(t *testing.T) {
	cfg := validConfig(t)
	cfg.StoreBackend = "postgres"
	cfg.DatabaseURL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error should mention DATABASE_URL: %q", err.Error())
	}
}

func TestValidate_ExtractTimeoutBelowLease(t *testing.T) {
	cfg := validConfig(t)
	cfg.ExtractTimeout = 3 * time.Minute
	cfg.LeaseDuration = 2 * time.Minute

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error when EXTRACT_TIMEOUT >= LEASE_DURATION")
	}
	if !strings.Contains(err.Error(), "EXTRACT_TIMEOUT") {
		t.Errorf("error should mention EXTRACT_TIMEOUT: %q", err.Error())
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"backend", func(c *Config) { c.StoreBackend = "mysql" }, "STORE_BACKEND"},
		{"poll interval", func(c *Config) { c.PollInterval = 0 }, "POLL_INTERVAL"},
		{"workers", func(c *Config) { c.WorkerCount = 0 }, "WORKER_COUNT"},
		{"attempts", func(c *Config) { c.MaxAttempts = 0 }, "MAX_ATTEMPTS"},
		{"poll bounds", func(c *Config) { c.LeasePollMax = time.Millisecond }, "LEASE_POLL_MAX"},
		{"backoff cap", func(c *Config) { c.RetryBackoffMax = time.Second }, "RETRY_BACKOFF_MAX"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"leader on sqlite", func(c *Config) { c.LeaderElectionEnabled = true }, "LEADER_ELECTION_ENABLED"},
		{"metrics port", func(c *Config) { c.MetricsEnabled = true; c.MetricsPort = 0 }, "METRICS_PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error for %s", tt.field)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q should mention %s", err.Error(), tt.field)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.StoreBackend = "postgres"
	cfg.DatabaseURL = ""
	cfg.WorkerCount = 0

	err := Validate(cfg)
	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(errs) != 2 {
		t.Errorf("expected 2 errors, got %d: %v", len(errs), errs)
	}
	if !strings.Contains(err.Error(), "2 validation errors") {
		t.Errorf("error should summarize count: %q", err.Error())
	}
}
