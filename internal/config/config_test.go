package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DSN() != "./data/amora.db" {
		t.Errorf("unexpected db config %+v", cfg.DB)
	}
	if cfg.Media.PublicBaseURL != "http://localhost:9090" {
		t.Errorf("unexpected public base url %q", cfg.Media.PublicBaseURL)
	}
	if cfg.Relay.MaxAttempts != 3 || cfg.Relay.AttemptTimeout != 10*time.Second {
		t.Errorf("unexpected relay config %+v", cfg.Relay)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"AUTH_JWT_SECRET": ""}},
		{"unknown driver", map[string]string{"AUTH_JWT_SECRET": "s", "DB_DRIVER": "mysql"}},
		{"postgres without dsn", map[string]string{"AUTH_JWT_SECRET": "s", "DB_DRIVER": "postgres"}},
		{"zero workers", map[string]string{"AUTH_JWT_SECRET": "s", "RELAY_WORKERS": "0"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_BOOL", "maybe")

	if got := getEnvInt("X_INT", 7); got != 7 {
		t.Errorf("getEnvInt: expected 7, got %d", got)
	}
	if got := getEnvDuration("X_DUR", time.Second); got != time.Second {
		t.Errorf("getEnvDuration: expected 1s, got %s", got)
	}
	if got := getEnvBool("X_BOOL", true); !got {
		t.Error("getEnvBool: expected fallback true")
	}
}

func TestLoadDBWithoutSecrets(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DB_DSN", "postgres://amora@localhost/amora")

	db, err := LoadDB()
	if err != nil {
		t.Fatalf("LoadDB failed: %v", err)
	}
	if db.Driver != "postgres" || db.Source() != "postgres://amora@localhost/amora" {
		t.Fatalf("unexpected db config %+v", db)
	}

	t.Setenv("DB_DRIVER", "mysql")
	if _, err := LoadDB(); err == nil {
		t.Fatal("expected validation error")
	}
}
