package flare

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/goflare/flare/model"
	"github.com/goflare/flare/notifier"
	"github.com/spf13/viper"
)

// Config controls every subsystem of the observability layer.
// All fields can be set via environment variables with the FLARE_ prefix
// (e.g. FLARE_STORAGE_BACKEND=sqlite) or a config.yaml file.
type Config struct {
	// Storage backend selector: "redis" | "sqlite" | "postgres".
	StorageBackend string `mapstructure:"storage_backend"`

	Redis    RedisConfig    `mapstructure:"redis"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Retention limits shared by all backends.
	MaxEntries     int `mapstructure:"max_entries"`
	RetentionHours int `mapstructure:"retention_hours"`
	// Actual retention DELETEs run at most once per this interval even though
	// Flush() is invoked every worker interval. 0 disables throttling.
	RetentionCheckInterval time.Duration `mapstructure:"retention_check_interval"`

	// Dashboard API.
	DashboardPath  string `mapstructure:"dashboard_path"`
	DashboardToken string `mapstructure:"dashboard_token"`
	// Requests per second allowed per client on the dashboard API.
	APIRateLimit float64 `mapstructure:"api_rate_limit"`
	APIRateBurst int     `mapstructure:"api_rate_burst"`

	// Metrics aggregator cap on distinct endpoint keys.
	MetricsMaxEndpoints int `mapstructure:"metrics_max_endpoints"`

	// Max bytes captured from request bodies on error events. 0 disables.
	MaxRequestBodyBytes int `mapstructure:"max_request_body_bytes"`

	// Request tracking (broader mode: every request, not just errors).
	TrackRequests     bool `mapstructure:"track_requests"`
	Track2xx          bool `mapstructure:"track_2xx"`
	CaptureHeaders    bool `mapstructure:"capture_headers"`
	RequestMaxEntries int  `mapstructure:"request_max_entries"`

	// Background worker.
	WorkerInterval  time.Duration `mapstructure:"worker_interval"`
	WorkerBatchSize int           `mapstructure:"worker_batch_size"`

	// Alerting.
	AlertMinLevel string        `mapstructure:"alert_min_level"`
	AlertCooldown time.Duration `mapstructure:"alert_cooldown"`
	// Notifiers are registered in code, not config files.
	Notifiers []notifier.Notifier `mapstructure:"-"`

	// Substrings matched (case-insensitively) against field names during
	// redaction of context and request bodies.
	SensitiveFields []string `mapstructure:"sensitive_fields"`

	LogLevel string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// URL takes precedence over the individual fields when set.
	URL       string `mapstructure:"url"`
	QueueKey  string `mapstructure:"queue_key"`
	StreamKey string `mapstructure:"stream_key"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
	// TablePrefix is validated (alphanumeric + underscore only) so multiple
	// apps can share one database. Tables: <prefix>_logs, <prefix>_requests,
	// <prefix>_settings.
	TablePrefix  string `mapstructure:"table_prefix"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

var defaultSensitiveFields = []string{
	"password", "passwd", "token", "api_key", "apikey",
	"secret", "authorization", "card_number", "cvv",
	"private_key", "secret_key", "cpf", "ssn",
}

var tablePrefixRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// LoadConfig reads configuration from config.yaml (./ or ./configs) and
// FLARE_* environment variables, applying defaults for everything unset.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// e.g. FLARE_POSTGRES_DSN, FLARE_REDIS_ADDR
	v.SetEnvPrefix("flare")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns a Config populated with the same defaults LoadConfig
// applies, without touching files or the environment. Useful for embedding.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage_backend", "sqlite")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.queue_key", "flare:queue")
	v.SetDefault("redis.stream_key", "flare:logs")
	v.SetDefault("sqlite.path", "flare.db")
	v.SetDefault("postgres.table_prefix", "flare")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 1)
	v.SetDefault("max_entries", 10000)
	v.SetDefault("retention_hours", 168)
	v.SetDefault("retention_check_interval", time.Hour)
	v.SetDefault("dashboard_path", "/flare")
	v.SetDefault("api_rate_limit", 20.0)
	v.SetDefault("api_rate_burst", 40)
	v.SetDefault("metrics_max_endpoints", 500)
	v.SetDefault("max_request_body_bytes", 8192)
	v.SetDefault("track_requests", false)
	v.SetDefault("track_2xx", false)
	v.SetDefault("capture_headers", false)
	v.SetDefault("request_max_entries", 10000)
	v.SetDefault("worker_interval", 5*time.Second)
	v.SetDefault("worker_batch_size", 100)
	v.SetDefault("alert_min_level", string(model.LevelError))
	v.SetDefault("alert_cooldown", 5*time.Minute)
	v.SetDefault("sensitive_fields", defaultSensitiveFields)
	v.SetDefault("log_level", "info")
}

// Validate checks the few fields whose bad values would only surface at
// runtime (injected table names, unknown backend selectors).
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case "redis", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage_backend %q (supported: redis, sqlite, postgres)", c.StorageBackend)
	}
	if c.StorageBackend == "postgres" && !tablePrefixRe.MatchString(c.Postgres.TablePrefix) {
		return fmt.Errorf("postgres.table_prefix %q must match [a-zA-Z0-9_]+", c.Postgres.TablePrefix)
	}
	if lvl := model.Level(c.AlertMinLevel); !lvl.Valid() {
		return fmt.Errorf("alert_min_level %q must be WARNING or ERROR", c.AlertMinLevel)
	}
	return nil
}
