package worker

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HealthMonitor periodically sweeps an AgentPool for agents that have missed
// heartbeats, escalating through two thresholds: unhealthyMissed marks an
// agent Unhealthy and gives the caller a chance to requeue its in-flight
// bead, deadMissed marks it Dead and drops it from the pool entirely.
type HealthMonitor struct {
	interval        time.Duration
	unhealthyMissed int
	deadMissed      int

	unhealthyCounter metric.Int64Counter
	deadCounter      metric.Int64Counter

	onUnhealthy func(agent *AgentHandle)
	onDead      func(agent *AgentHandle)
}

// NewHealthMonitor constructs a monitor that sweeps every interval,
// declaring an agent Unhealthy after unhealthyMissed consecutive missed
// sweeps and Dead after deadMissed. onUnhealthy, if non-nil, is invoked once
// per Unhealthy transition so the caller can requeue the agent's in-flight
// bead (typically by publishing a transient Failed event for the Reconciler
// to pick up); onDead, if non-nil, is invoked once per Dead transition,
// after the agent has already been removed from the pool.
func NewHealthMonitor(interval time.Duration, unhealthyMissed, deadMissed int, meter metric.Meter, onUnhealthy, onDead func(*AgentHandle)) *HealthMonitor {
	unhealthyCounter, _ := meter.Int64Counter("oya_worker_agents_declared_unhealthy_total")
	deadCounter, _ := meter.Int64Counter("oya_worker_agents_declared_dead_total")
	return &HealthMonitor{
		interval:         interval,
		unhealthyMissed:  unhealthyMissed,
		deadMissed:       deadMissed,
		unhealthyCounter: unhealthyCounter,
		deadCounter:      deadCounter,
		onUnhealthy:      onUnhealthy,
		onDead:           onDead,
	}
}

// Run blocks sweeping pool on the configured interval until ctx is cancelled.
func (h *HealthMonitor) Run(ctx context.Context, pool *AgentPool) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep(ctx, pool)
		}
	}
}

func (h *HealthMonitor) sweep(ctx context.Context, pool *AgentPool) {
	now := time.Now()
	for _, a := range pool.Snapshot() {
		if a.State == Dead {
			continue
		}
		if now.Sub(a.LastHeartbeat) <= h.interval {
			continue
		}
		a.missedBeats++

		switch {
		case a.missedBeats >= h.deadMissed:
			pool.mu.Lock()
			a.State = Dead
			pool.mu.Unlock()
			pool.Remove(a.ID)
			h.deadCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("agent_id", a.ID.String())))
			slog.Warn("agent declared dead", "agent_id", a.ID, "missed_beats", a.missedBeats, "last_heartbeat", a.LastHeartbeat)
			if h.onDead != nil {
				h.onDead(a)
			}
		case a.missedBeats >= h.unhealthyMissed:
			if a.State == Unhealthy {
				continue
			}
			pool.mu.Lock()
			a.State = Unhealthy
			pool.mu.Unlock()
			h.unhealthyCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("agent_id", a.ID.String())))
			slog.Warn("agent declared unhealthy", "agent_id", a.ID, "missed_beats", a.missedBeats, "last_heartbeat", a.LastHeartbeat, "current_bead", a.CurrentBead)
			if h.onUnhealthy != nil {
				h.onUnhealthy(a)
			}
		}
	}
}
