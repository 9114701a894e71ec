package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "mode") {
		t.Fatalf("error should mention mode: %v", err)
	}
}

func TestValidateRejectsBadAdminAddress(t *testing.T) {
	cfg := Defaults()
	cfg.Token.AdminAddress = "not-an-address"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var d duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Fatalf("duration = %v, want 90s", d.Duration)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SETTLEMENT_MODE", "sweep")
	t.Setenv("SETTLEMENT_SERVER_PORT", "9100")
	t.Setenv("SETTLEMENT_POSTGRES_RUN_MIGRATIONS", "false")
	t.Setenv("SETTLEMENT_SERVER_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Mode != "sweep" {
		t.Fatalf("mode = %q, want sweep", cfg.Mode)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Postgres.RunMigrations {
		t.Fatal("run_migrations should be overridden to false")
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors_origins = %v", cfg.Server.CORSOrigins)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "secret"
	cfg.Notify.TelegramToken = "bot-token"

	red := RedactedConfig(&cfg)

	if red.Postgres.Password != "***" || red.Server.APIKey != "***" || red.Notify.TelegramToken != "***" {
		t.Fatalf("secrets not redacted: %+v", red)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Fatal("original config mutated")
	}
	// Empty secrets stay empty rather than turning into the placeholder.
	if red.Redis.Password != "" {
		t.Fatalf("redis password = %q, want empty", red.Redis.Password)
	}
}
