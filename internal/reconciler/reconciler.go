// Package reconciler implements the periodic desired-vs-actual diff loop:
// it compares a declared DesiredState to the AllBeads projection's actual
// state and emits compensating Actions through a pluggable ActionExecutor.
package reconciler

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lprior-repo/oya-sub008/internal/dag"
	"github.com/lprior-repo/oya-sub008/internal/ids"
	"github.com/lprior-repo/oya-sub008/internal/projection"
)

// ActionKind enumerates the Actions reconcile() can emit.
type ActionKind int

const (
	CreateBead ActionKind = iota
	StartBead
	StopBead
	RetryBead
	ScheduleBead
)

func (k ActionKind) String() string {
	switch k {
	case CreateBead:
		return "create_bead"
	case StartBead:
		return "start_bead"
	case StopBead:
		return "stop_bead"
	case RetryBead:
		return "retry_bead"
	case ScheduleBead:
		return "schedule_bead"
	default:
		return "unknown"
	}
}

// Action is one compensating step produced by reconcile.
type Action struct {
	Kind   ActionKind
	BeadID ids.BeadID
}

// DesiredEntry is the declared target for one bead.
type DesiredEntry struct {
	Required         bool
	Priority         int
	RetriesRemaining int
}

// DesiredState is the full declared target, keyed by bead.
type DesiredState map[ids.BeadID]DesiredEntry

// reconcile is the pure diff function: desired vs. actual (the AllBeads
// projection's state) produces an ordered list of Actions. Desired is
// mutated in place to decrement retries_remaining per rule 2, matching the
// stateful bookkeeping the spec assigns to the Reconciler's own DesiredState.
func reconcile(desired DesiredState, actual projection.AllBeadsState) []Action {
	var actions []Action

	beadIDs := make([]ids.BeadID, 0, len(desired))
	for id := range desired {
		beadIDs = append(beadIDs, id)
	}
	sort.Slice(beadIDs, func(i, j int) bool { return beadIDs[i] < beadIDs[j] })

	for _, id := range beadIDs {
		entry := desired[id]
		view, present := actual[id]

		if !present {
			actions = append(actions, Action{Kind: CreateBead, BeadID: id})
			continue
		}

		status := statusOf(view)

		if status == dag.Failed && entry.RetriesRemaining > 0 {
			entry.RetriesRemaining--
			desired[id] = entry
			actions = append(actions, Action{Kind: RetryBead, BeadID: id})
			continue
		}

		if status == dag.Ready {
			actions = append(actions, Action{Kind: StartBead, BeadID: id})
		}
	}

	actualIDs := make([]ids.BeadID, 0, len(actual))
	for id := range actual {
		actualIDs = append(actualIDs, id)
	}
	sort.Slice(actualIDs, func(i, j int) bool { return actualIDs[i] < actualIDs[j] })

	for _, id := range actualIDs {
		if _, wanted := desired[id]; wanted {
			continue
		}
		status := statusOf(actual[id])
		if !isTerminalKind(status) {
			actions = append(actions, Action{Kind: StopBead, BeadID: id})
		}
	}

	return actions
}

// statusOf maps a projection's last-observed event kind onto the DAG status
// vocabulary the reconcile algorithm reasons over.
func statusOf(view projection.BeadView) dag.Status {
	switch view.Status {
	case "created", "pending":
		return dag.Pending
	case "ready":
		return dag.Ready
	case "started", "running":
		return dag.Running
	case "completed":
		return dag.Completed
	case "failed":
		return dag.Failed
	case "cancelled":
		return dag.Cancelled
	default:
		return dag.Pending
	}
}

func isTerminalKind(s dag.Status) bool { return s.Terminal() }

// ActionExecutor applies an Action, typically by emitting the corresponding
// lifecycle event; the default implementation lives in the worker/scheduler
// packages, wired in at startup.
type ActionExecutor interface {
	Execute(ctx context.Context, action Action) error
}

// Reconciler owns the DesiredState and runs the reconcile loop on a jittered
// tick against a live AllBeads projection.
type Reconciler struct {
	desired  DesiredState
	actual   *projection.ManagedProjection[projection.AllBeadsState]
	executor ActionExecutor

	tickInterval time.Duration
	jitter       float64

	tracer        trace.Tracer
	actionCounter metric.Int64Counter
}

// New constructs a Reconciler over the given AllBeads projection, applying
// Actions through executor every tickInterval plus or minus up to a jitter
// fraction of tickInterval (e.g. 0.2 for +/-20%).
func New(actual *projection.ManagedProjection[projection.AllBeadsState], executor ActionExecutor, tickInterval time.Duration, jitter float64, meter metric.Meter) *Reconciler {
	actionCounter, _ := meter.Int64Counter("oya_reconciler_actions_total")
	return &Reconciler{
		desired:       make(DesiredState),
		actual:        actual,
		executor:      executor,
		tickInterval:  tickInterval,
		jitter:        jitter,
		tracer:        otel.Tracer("oya-reconciler"),
		actionCounter: actionCounter,
	}
}

// SetDesired replaces the declared target for bead.
func (r *Reconciler) SetDesired(bead ids.BeadID, entry DesiredEntry) {
	r.desired[bead] = entry
}

// RemoveDesired drops bead from the declared target set.
func (r *Reconciler) RemoveDesired(bead ids.BeadID) {
	delete(r.desired, bead)
}

// Tick runs one reconciliation pass immediately.
func (r *Reconciler) Tick(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "reconciler.tick")
	defer span.End()

	actions := reconcile(r.desired, r.actual.State())
	span.SetAttributes(attribute.Int("action_count", len(actions)))

	for _, action := range actions {
		r.actionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", action.Kind.String()),
			attribute.String("bead_id", action.BeadID.String()),
		))
		if err := r.executor.Execute(ctx, action); err != nil {
			slog.Error("reconciler action failed", "kind", action.Kind, "bead_id", action.BeadID, "error", err)
		}
	}
	return nil
}

// Run blocks ticking every tickInterval +/- jitter until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		delay := r.jitteredInterval()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
			if err := r.Tick(ctx); err != nil {
				slog.Error("reconciler tick failed", "error", err)
			}
		}
	}
}

func (r *Reconciler) jitteredInterval() time.Duration {
	if r.jitter <= 0 {
		return r.tickInterval
	}
	spread := float64(r.tickInterval) * r.jitter
	offset := (rand.Float64()*2 - 1) * spread
	d := time.Duration(float64(r.tickInterval) + offset)
	if d < 0 {
		d = 0
	}
	return d
}
