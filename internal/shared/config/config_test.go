package config

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Backend != "memory" || cfg.Audit.Backend != "memory" {
		t.Errorf("Expected memory backends, got %s/%s", cfg.Store.Backend, cfg.Audit.Backend)
	}
	if cfg.Roster.Collection != "members" || cfg.Roster.RolesCollection != "roles" {
		t.Errorf("Unexpected collections: %+v", cfg.Roster)
	}
	if cfg.Audit.ListLimit != 100 {
		t.Errorf("Expected list limit 100, got %d", cfg.Audit.ListLimit)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("Unexpected default origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Auth.IdleTimeout != 30*time.Minute || cfg.Auth.MaxSessionsPerUser != 5 {
		t.Errorf("Unexpected session limits: %+v", cfg.Auth)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("AUDIT_BACKEND", "kurrentdb")
	t.Setenv("ROSTER_RESUBSCRIBE_INTERVAL", "500ms")
	t.Setenv("KURRENTDB_INSECURE", "false")
	t.Setenv("AUDIT_LIST_LIMIT", "5000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://hub.psp.pt, ,https://admin.psp.pt")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Roster.ResubscribeInterval != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %s", cfg.Roster.ResubscribeInterval)
	}
	if cfg.KurrentDB.Insecure {
		t.Error("Expected KurrentDB TLS enabled")
	}
	if cfg.Audit.ListLimit != 100 {
		t.Errorf("Expected list limit clamped to 100, got %d", cfg.Audit.ListLimit)
	}
	if got := cfg.Server.AllowedOrigins; len(got) != 2 || got[0] != "https://hub.psp.pt" || got[1] != "https://admin.psp.pt" {
		t.Errorf("Unexpected origins: %v", got)
	}
}

func TestLoadRejectsBadBackends(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"STORE_BACKEND": "firestore"}},
		{"unknown audit", map[string]string{"AUDIT_BACKEND": "file"}},
		{"postgres audit on memory store", map[string]string{"AUDIT_BACKEND": "postgres"}},
		{"dev secret in production", map[string]string{"ENV": "production"}},
		{"wildcard origin in production", map[string]string{"ENV": "production", "JWT_SECRET": "x", "CORS_ALLOWED_ORIGINS": "*"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestAuditLocation(t *testing.T) {
	if loc := (AuditConfig{Timezone: "Europe/Lisbon"}).Location(); loc.String() != "Europe/Lisbon" {
		t.Errorf("Expected Europe/Lisbon, got %s", loc)
	}
	if loc := (AuditConfig{Timezone: "Mars/Olympus"}).Location(); loc != time.UTC {
		t.Errorf("Expected UTC fallback, got %s", loc)
	}
}
