package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxRestarts != 3 {
		t.Fatalf("MaxRestarts = %d, want 3", cfg.MaxRestarts)
	}
	if cfg.ReconcileTick != 5*time.Second {
		t.Fatalf("ReconcileTick = %v, want 5s", cfg.ReconcileTick)
	}
	if cfg.Storage != "oya.db" {
		t.Fatalf("Storage = %q, want oya.db", cfg.Storage)
	}
}

func TestLoadEnvVarOverridesDefault(t *testing.T) {
	t.Setenv("OYA_MAX_RESTARTS", "7")
	t.Setenv("OYA_RECONCILE_JITTER", "0.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxRestarts != 7 {
		t.Fatalf("MaxRestarts = %d, want 7", cfg.MaxRestarts)
	}
	if cfg.ReconcileJitter != 0.5 {
		t.Fatalf("ReconcileJitter = %v, want 0.5", cfg.ReconcileJitter)
	}
}

func TestLoadYAMLFileOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oya.yaml")
	body := "storage: /var/lib/oya/state.db\nmax_backoff: 45s\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage != "/var/lib/oya/state.db" {
		t.Fatalf("Storage = %q, want /var/lib/oya/state.db", cfg.Storage)
	}
	if cfg.MaxBackoff != 45*time.Second {
		t.Fatalf("MaxBackoff = %v, want 45s", cfg.MaxBackoff)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxRestarts != 3 {
		t.Fatalf("MaxRestarts = %d, want 3", cfg.MaxRestarts)
	}
}
