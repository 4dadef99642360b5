package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the api and callctl processes.
// All values come from env (or an env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App          AppConfig
	Store        StoreConfig
	DB           DBConfig
	SQLite       SQLiteConfig
	Redis        RedisConfig
	Synthflow    SynthflowConfig
	Orchestrator OrchestratorConfig
	Classifier   ClassifierConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type StoreConfig struct {
	Driver string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type SQLiteConfig struct {
	Path        string
	BusyTimeout time.Duration
}

// RedisConfig is optional. When Host is empty the concurrency cap is process-local.
type RedisConfig struct {
	Host       string
	Port       int
	LimiterKey string
}

type SynthflowConfig struct {
	APIKey      string
	AssistantID string
	BaseURL     string
	FromNumber  string
	Timeout     time.Duration
}

type OrchestratorConfig struct {
	PollInterval         time.Duration
	MaxPolls             int
	QueueStuckPolls      int
	MaxConsecutiveErrors int
	StaleAfter           time.Duration
	SweepInterval        time.Duration
	MaxConcurrent        int
}

type ClassifierConfig struct {
	// PhrasesFile is an optional YAML phrase set, reloaded on change.
	PhrasesFile string
}

const (
	defaultPort          = 8080
	defaultSQLitePath    = "data/calls.db"
	defaultRedisPort     = 6379
	defaultSweepInterval = time.Minute
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = envOr("APP_ENV", "local")
	c.App.Port, parseErrs = intOr(parseErrs, "APP_PORT", defaultPort)
	c.App.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))

	c.Store.Driver = strings.ToLower(envOr("STORE_DRIVER", DriverSQLite))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = intOr(parseErrs, "DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.SQLite.Path = envOr("SQLITE_PATH", defaultSQLitePath)
	c.SQLite.BusyTimeout, parseErrs = durationOr(parseErrs, "SQLITE_BUSY_TIMEOUT", 5*time.Second)

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = intOr(parseErrs, "REDIS_PORT", defaultRedisPort)
	c.Redis.LimiterKey = strings.TrimSpace(os.Getenv("REDIS_LIMITER_KEY"))

	c.Synthflow.APIKey = strings.TrimSpace(os.Getenv("SYNTHFLOW_API_KEY"))
	c.Synthflow.AssistantID = strings.TrimSpace(os.Getenv("SYNTHFLOW_ASSISTANT_ID"))
	c.Synthflow.BaseURL = strings.TrimSpace(os.Getenv("SYNTHFLOW_BASE_URL"))
	c.Synthflow.FromNumber = strings.TrimSpace(os.Getenv("SYNTHFLOW_PHONE_NUMBER"))
	c.Synthflow.Timeout, parseErrs = durationOr(parseErrs, "SYNTHFLOW_TIMEOUT", 30*time.Second)

	o := &c.Orchestrator
	o.PollInterval, parseErrs = durationOr(parseErrs, "POLL_INTERVAL", 5*time.Second)
	o.MaxPolls, parseErrs = intOr(parseErrs, "MAX_POLLS", 24)
	o.QueueStuckPolls, parseErrs = intOr(parseErrs, "QUEUE_STUCK_POLLS", 6)
	o.MaxConsecutiveErrors, parseErrs = intOr(parseErrs, "MAX_CONSECUTIVE_POLL_ERRORS", 3)
	o.StaleAfter, parseErrs = durationOr(parseErrs, "STALE_CALL_AFTER", 30*time.Minute)
	o.SweepInterval, parseErrs = durationOr(parseErrs, "SWEEP_INTERVAL", defaultSweepInterval)
	o.MaxConcurrent, parseErrs = intOr(parseErrs, "MAX_CONCURRENT_CALLS", 50)

	c.Classifier.PhrasesFile = strings.TrimSpace(os.Getenv("CLASSIFIER_PHRASES_FILE"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every problem at once and fills environment-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.LogLevel != "" {
		if _, ok := parseLevel(c.App.LogLevel); !ok {
			errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.App.LogLevel))
		}
	}

	switch c.Store.Driver {
	case DriverMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLite.Path) == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	case DriverPostgres:
		errs = append(errs, c.validateDB()...)
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be one of memory, sqlite, postgres, got %q", c.Store.Driver))
	}

	if c.RedisEnabled() && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Synthflow.APIKey == "" {
		errs = append(errs, errors.New("SYNTHFLOW_API_KEY is required"))
	}
	if c.Synthflow.AssistantID == "" {
		errs = append(errs, errors.New("SYNTHFLOW_ASSISTANT_ID is required"))
	}
	if c.Synthflow.Timeout <= 0 {
		errs = append(errs, errors.New("SYNTHFLOW_TIMEOUT must be positive"))
	}

	o := c.Orchestrator
	if o.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if o.MaxPolls <= 0 {
		errs = append(errs, fmt.Errorf("MAX_POLLS must be positive, got %d", o.MaxPolls))
	}
	if o.QueueStuckPolls <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_STUCK_POLLS must be positive, got %d", o.QueueStuckPolls))
	}
	if o.MaxConsecutiveErrors <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONSECUTIVE_POLL_ERRORS must be positive, got %d", o.MaxConsecutiveErrors))
	}
	if o.StaleAfter <= o.PollInterval*time.Duration(o.MaxPolls) {
		errs = append(errs, fmt.Errorf("STALE_CALL_AFTER (%s) must exceed the polling window (%s)", o.StaleAfter, o.PollInterval*time.Duration(o.MaxPolls)))
	}
	if o.SweepInterval <= 0 {
		c.Orchestrator.SweepInterval = defaultSweepInterval
	}
	if o.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_CALLS must be positive, got %d", o.MaxConcurrent))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required for the postgres store"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required for the postgres store"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required for the postgres store"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// Level resolves LOG_LEVEL, falling back to debug in local/dev and info elsewhere.
func (c Config) Level() slog.Level {
	if l, ok := parseLevel(c.App.LogLevel); ok {
		return l
	}
	if c.App.Env == "local" || c.App.Env == "dev" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intOr(errs []error, key string, def int) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func durationOr(errs []error, key string, def time.Duration) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, append(errs, fmt.Errorf("%s must be a duration like 5s or 30m, got %q", key, v))
	}
	return d, errs
}

func parseLevel(v string) (slog.Level, bool) {
	switch v {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
