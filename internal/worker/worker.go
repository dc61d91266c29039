package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lprior-repo/oya-sub008/internal/events"
	"github.com/lprior-repo/oya-sub008/internal/ids"
)

// LifecycleState is the Worker actor's own state, distinct from the
// AgentState of the agents it dispatches to.
type LifecycleState int

const (
	WorkerIdle LifecycleState = iota
	Assigning
	Executing
	Reporting
)

func (s LifecycleState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case Assigning:
		return "assigning"
	case Executing:
		return "executing"
	case Reporting:
		return "reporting"
	default:
		return "unknown"
	}
}

// Worker executes a bead on an agent the caller has already assigned from
// the pool and reports the outcome as BeadEvents on the bus.
type Worker struct {
	pool     *AgentPool
	executor BeadExecutor
	bus      events.Bus

	state  LifecycleState
	tracer trace.Tracer

	execLatency metric.Float64Histogram
}

// NewWorker wires a Worker to its agent pool, executor, and event bus.
func NewWorker(pool *AgentPool, executor BeadExecutor, bus events.Bus, meter metric.Meter) *Worker {
	execLatency, _ := meter.Float64Histogram("oya_worker_execute_seconds")
	return &Worker{
		pool:        pool,
		executor:    executor,
		bus:         bus,
		state:       WorkerIdle,
		tracer:      otel.Tracer("oya-worker"),
		execLatency: execLatency,
	}
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() LifecycleState { return w.state }

// HandleBead drives one bead through Executing -> Reporting and
// back to Idle, terminating with a KindCompleted event carrying the result
// or a KindFailed event carrying the error. agentID is the agent HandleBead
// should execute on; the caller owns assignment and must already have
// called AssignBead.
func (w *Worker) HandleBead(ctx context.Context, bead ids.BeadID, agentID ids.AgentID, spec BeadSpec) error {
	ctx, span := w.tracer.Start(ctx, "worker.handle_bead", trace.WithAttributes(attribute.String("bead_id", bead.String())))
	defer span.End()

	w.state = Executing
	if _, err := w.bus.Publish(events.Event{
		BeadID:    bead,
		AgentID:   agentID,
		Kind:      events.KindStarted,
		Timestamp: time.Now(),
	}); err != nil {
		slog.Error("worker failed to publish started event", "bead_id", bead, "error", err)
	}

	start := time.Now()
	output, execErr := w.executor.Execute(ctx, spec)
	w.execLatency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("bead_id", bead.String())))

	w.state = Reporting
	defer func() {
		w.state = WorkerIdle
	}()

	if execErr != nil {
		_, pubErr := w.bus.Publish(events.Event{
			BeadID:    bead,
			AgentID:   agentID,
			Kind:      events.KindFailed,
			Timestamp: time.Now(),
			Error:     execErr.Error(),
		})
		if pubErr != nil {
			slog.Error("worker failed to publish failure event", "bead_id", bead, "error", pubErr)
		}
		return fmt.Errorf("execute bead %s: %w", bead, execErr)
	}

	if _, err := w.bus.Publish(events.Event{
		BeadID:    bead,
		AgentID:   agentID,
		Kind:      events.KindPhaseOutput,
		Timestamp: time.Now(),
		Output:    output,
	}); err != nil {
		slog.Error("worker failed to publish phase output", "bead_id", bead, "error", err)
	}

	if _, err := w.bus.Publish(events.Event{
		BeadID:    bead,
		AgentID:   agentID,
		Kind:      events.KindCompleted,
		Timestamp: time.Now(),
		Result:    output,
	}); err != nil {
		return fmt.Errorf("publish completion for %s: %w", bead, err)
	}
	return nil
}
