// Package config loads the orchestrator's tunables from environment
// variables (prefix OYA_) and an optional YAML file, the way the teacher's
// services read individual os.Getenv calls but generalized into one bound
// struct with typed durations.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of tunables enumerated for the supervision tree,
// the reconciler loop, and the worker pool's health monitor.
type Config struct {
	// Supervision tree restart policy.
	MaxRestarts       int           `mapstructure:"max_restarts"`
	RestartWindow     time.Duration `mapstructure:"restart_window"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	ShutdownGrace     time.Duration `mapstructure:"shutdown_grace"`

	// Reconciler tick loop.
	ReconcileTick   time.Duration `mapstructure:"reconcile_tick"`
	ReconcileJitter float64       `mapstructure:"reconcile_jitter"`

	// Worker pool health monitor.
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatUnhealthy  int           `mapstructure:"heartbeat_unhealthy_misses"`
	HeartbeatDeadMisses int           `mapstructure:"heartbeat_dead_misses"`

	// Storage path for the bbolt-backed checkpoint store; the timer store
	// uses the same path with a ".timers" suffix.
	Storage string `mapstructure:"storage"`
}

// defaults mirrors supervisor.DefaultConfig and the reconciler's documented
// tick/jitter defaults, so a deployment with no env vars or file still
// behaves the way the in-process defaults do.
func defaults() Config {
	return Config{
		MaxRestarts:         3,
		RestartWindow:       60 * time.Second,
		InitialBackoff:      100 * time.Millisecond,
		BackoffMultiplier:   2.0,
		MaxBackoff:          30 * time.Second,
		ShutdownGrace:       5 * time.Second,
		ReconcileTick:       5 * time.Second,
		ReconcileJitter:     0.2,
		HeartbeatInterval:   10 * time.Second,
		HeartbeatUnhealthy:  2,
		HeartbeatDeadMisses: 5,
		Storage:             "oya.db",
	}
}

// Load builds a Config from, in ascending priority: built-in defaults, an
// optional YAML file at path (ignored if path is empty or unreadable), and
// OYA_-prefixed environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OYA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := defaults()
	v.SetDefault("max_restarts", d.MaxRestarts)
	v.SetDefault("restart_window", d.RestartWindow)
	v.SetDefault("initial_backoff", d.InitialBackoff)
	v.SetDefault("backoff_multiplier", d.BackoffMultiplier)
	v.SetDefault("max_backoff", d.MaxBackoff)
	v.SetDefault("shutdown_grace", d.ShutdownGrace)
	v.SetDefault("reconcile_tick", d.ReconcileTick)
	v.SetDefault("reconcile_jitter", d.ReconcileJitter)
	v.SetDefault("heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("heartbeat_unhealthy_misses", d.HeartbeatUnhealthy)
	v.SetDefault("heartbeat_dead_misses", d.HeartbeatDeadMisses)
	v.SetDefault("storage", d.Storage)

	for _, key := range []string{
		"max_restarts", "restart_window", "initial_backoff", "backoff_multiplier",
		"max_backoff", "shutdown_grace", "reconcile_tick", "reconcile_jitter",
		"heartbeat_interval", "heartbeat_unhealthy_misses", "heartbeat_dead_misses",
		"storage",
	} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var pathErr *fs.PathError
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.As(err, &pathErr) {
				return Config{}, fmt.Errorf("read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
