package config

import (
	"testing"
	"time"
)

func TestEnvStr(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	if v := envStr("TEST_STR", "fallback"); v != "value" {
		t.Fatalf("expected value, got %s", v)
	}
	if v := envStr("TEST_STR_MISSING", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7 for invalid value, got %d", v)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if !envBool("TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("TEST_BOOL_BAD", "maybe")
	if envBool("TEST_BOOL_BAD", true) != true {
		t.Fatal("expected fallback for invalid value")
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "15s")
	if v := envDuration("TEST_DUR", time.Minute); v != 15*time.Second {
		t.Fatalf("expected 15s, got %s", v)
	}
	if v := envDuration("TEST_DUR_MISSING", time.Minute); v != time.Minute {
		t.Fatalf("expected fallback, got %s", v)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.Store != "postgres" {
		t.Fatalf("expected default store postgres, got %s", cfg.Store)
	}
}

func TestValidateRejectsUnknownStore(t *testing.T) {
	t.Setenv("KIROKU_STORE", "etcd")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown store backend")
	}
}

func TestValidateSQLiteRequiresPath(t *testing.T) {
	t.Setenv("KIROKU_STORE", "sqlite")
	t.Setenv("KIROKU_SQLITE_PATH", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error with default path: %v", err)
	}
	if cfg.SQLitePath == "" {
		t.Fatal("expected default sqlite path")
	}
}
