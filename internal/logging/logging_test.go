package logging

import (
	"log/slog"
	"testing"
)

func TestInitDefaultsToInfoLevel(t *testing.T) {
	t.Setenv("OYA_LOG_LEVEL", "")
	lvl := levelFromEnv()
	if lvl.Level() != slog.LevelInfo {
		t.Fatalf("level = %v, want info", lvl)
	}
}

func TestLevelFromEnvHonorsDebug(t *testing.T) {
	t.Setenv("OYA_LOG_LEVEL", "debug")
	lvl := levelFromEnv()
	if lvl.Level() != slog.LevelDebug {
		t.Fatalf("level = %v, want debug", lvl)
	}
}

func TestInitReturnsUsableLogger(t *testing.T) {
	t.Setenv("OYA_JSON_LOG", "true")
	logger := Init("oya-test")
	if logger == nil {
		t.Fatal("Init returned nil logger")
	}
}
