package config

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
)

// Config holds all configuration for the scraper scheduler.
// Values are loaded from environment variables; see the `config` command for the effective set.
type Config struct {
	// StoreBackend: "sqlite" (embedded file) or "postgres".
	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"scraper_data.db"`
	DatabaseURL  string `env:"DATABASE_URL" secret:"true"`

	DBOpTimeout       time.Duration `env:"DB_OP_TIMEOUT" envDefault:"5s"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// RedisAddr enables per-job outcome analytics when set.
	RedisAddr          string        `env:"REDIS_ADDR"`
	AnalyticsRetention time.Duration `env:"ANALYTICS_RETENTION" envDefault:"168h"`

	HTTPAddr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	HTTPShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	MaxFiresPerPoll int           `env:"MAX_FIRES_PER_POLL" envDefault:"100"`

	WorkerCount   int           `env:"WORKER_COUNT" envDefault:"4"`
	LeaseDuration time.Duration `env:"LEASE_DURATION" envDefault:"2m"`
	// ExtractTimeout must stay below LeaseDuration so an attempt cannot outlive its lease.
	ExtractTimeout time.Duration `env:"EXTRACT_TIMEOUT" envDefault:"30s"`
	LeasePollMin   time.Duration `env:"LEASE_POLL_MIN" envDefault:"250ms"`
	LeasePollMax   time.Duration `env:"LEASE_POLL_MAX" envDefault:"5s"`

	MaxAttempts      int           `env:"MAX_ATTEMPTS" envDefault:"4"`
	RetryBackoff     time.Duration `env:"RETRY_BACKOFF" envDefault:"1m"`
	RetryBackoffMax  time.Duration `env:"RETRY_BACKOFF_MAX" envDefault:"30m"`
	RequeueInterval  time.Duration `env:"REQUEUE_INTERVAL" envDefault:"15s"`
	RequeueBatchSize int           `env:"REQUEUE_BATCH_SIZE" envDefault:"100"`

	UserAgent     string  `env:"USER_AGENT" envDefault:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"`
	RenderURL     string  `env:"RENDER_URL"`
	HostRateLimit float64 `env:"HOST_RATE_LIMIT" envDefault:"1"`
	HostRateBurst int     `env:"HOST_RATE_BURST" envDefault:"2"`

	// CircuitBreakerThreshold: 0 disables the per-host circuit breaker.
	CircuitBreakerThreshold int           `env:"CIRCUIT_BREAKER_THRESHOLD" envDefault:"5"`
	CircuitBreakerCooldown  time.Duration `env:"CIRCUIT_BREAKER_COOLDOWN" envDefault:"2m"`

	MetricsEnabled bool   `env:"METRICS_ENABLED"`
	MetricsPort    int    `env:"METRICS_PORT" envDefault:"9090"`
	MetricsPath    string `env:"METRICS_PATH" envDefault:"/metrics"`

	// Leader election only applies to the postgres backend. All instances
	// sharing one database must use the same LeaderLockKey.
	LeaderElectionEnabled   bool          `env:"LEADER_ELECTION_ENABLED"`
	LeaderLockKey           int64         `env:"LEADER_LOCK_KEY" envDefault:"728380"`
	LeaderRetryInterval     time.Duration `env:"LEADER_RETRY_INTERVAL" envDefault:"5s"`
	LeaderHeartbeatInterval time.Duration `env:"LEADER_HEARTBEAT_INTERVAL" envDefault:"2s"`

	JobsFile  string `env:"JOBS_FILE"`
	ExportDir string `env:"EXPORT_DIR" envDefault:"exports"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from environment variables with defaults.
// Syntax errors (unparseable numbers or durations) are returned here;
// semantic checks are left to Validate.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	return cfg, nil
}

// MaskedJSON returns the configuration as JSON keyed by environment variable, with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	out := make(map[string]any)
	v := reflect.ValueOf(c)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("env"), ",")
		if name == "" {
			continue
		}
		val := v.Field(i).Interface()
		switch x := val.(type) {
		case time.Duration:
			val = x.String()
		case string:
			if f.Tag.Get("secret") == "true" {
				val = maskSecret(x)
			}
		}
		out[strings.ToLower(name)] = val
	}
	return json.MarshalIndent(out, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
