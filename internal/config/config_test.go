package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:       AppConfig{Env: "local", Port: 8080},
		Store:     StoreConfig{Driver: DriverSQLite},
		SQLite:    SQLiteConfig{Path: "calls.db"},
		Synthflow: SynthflowConfig{APIKey: "k", AssistantID: "a", Timeout: 30 * time.Second},
		Orchestrator: OrchestratorConfig{
			PollInterval:         5 * time.Second,
			MaxPolls:             24,
			QueueStuckPolls:      6,
			MaxConsecutiveErrors: 3,
			StaleAfter:           30 * time.Minute,
			SweepInterval:        time.Minute,
			MaxConcurrent:        50,
		},
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "APP_PORT", "STORE_DRIVER", "SYNTHFLOW_API_KEY", "SYNTHFLOW_ASSISTANT_ID", "MAX_POLLS"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestValidate_Valid(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Store.Driver = DriverPostgres
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callpilot"}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected DB_SSLMODE error, got %v", err)
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validConfig()
	c.Store.Driver = DriverPostgres
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callpilot"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_MemoryStoreRejectedInProduction(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Store.Driver = DriverMemory
	if err := c.Validate(); err == nil {
		t.Fatalf("expected memory store to be rejected in production")
	}
}

func TestValidate_StaleThresholdMustExceedPollingWindow(t *testing.T) {
	c := validConfig()
	c.Orchestrator.StaleAfter = time.Minute
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "STALE_CALL_AFTER") {
		t.Fatalf("expected stale threshold error, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SYNTHFLOW_API_KEY", "key")
	t.Setenv("SYNTHFLOW_ASSISTANT_ID", "asst")
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("LOG_LEVEL", "WARN")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Orchestrator.PollInterval != 2*time.Second || c.Orchestrator.MaxPolls != 24 {
		t.Fatalf("unexpected orchestrator config: %+v", c.Orchestrator)
	}
	if !c.RedisEnabled() || c.RedisAddr() != "redis:6379" {
		t.Fatalf("unexpected redis config: %+v", c.Redis)
	}
	if c.Level() != slog.LevelWarn {
		t.Fatalf("expected warn level, got %v", c.Level())
	}
	if c.HTTPAddr() != ":8080" {
		t.Fatalf("unexpected addr %s", c.HTTPAddr())
	}
}

func TestLoad_ReportsParseErrors(t *testing.T) {
	t.Setenv("APP_PORT", "eighty")
	t.Setenv("POLL_INTERVAL", "soon")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "APP_PORT") || !strings.Contains(err.Error(), "POLL_INTERVAL") {
		t.Fatalf("expected both parse errors, got %v", err)
	}
}

func TestLevel_DefaultsByEnv(t *testing.T) {
	if (Config{App: AppConfig{Env: "dev"}}).Level() != slog.LevelDebug {
		t.Fatalf("dev should default to debug")
	}
	if (Config{App: AppConfig{Env: "production"}}).Level() != slog.LevelInfo {
		t.Fatalf("production should default to info")
	}
}
