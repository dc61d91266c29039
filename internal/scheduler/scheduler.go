// Package scheduler implements the Scheduler actor: the registry of live
// WorkflowDAGs, the bridge between bead completion events and each
// workflow's ready-set, and the entry point for rehydrating a workflow's DAG
// from its event stream after a restart.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lprior-repo/oya-sub008/internal/actor"
	"github.com/lprior-repo/oya-sub008/internal/dag"
	"github.com/lprior-repo/oya-sub008/internal/events"
	"github.com/lprior-repo/oya-sub008/internal/ids"
	"github.com/lprior-repo/oya-sub008/internal/queue"
)

// ErrUnknownWorkflow is returned by any operation on a workflow id the
// Scheduler has not registered.
type ErrUnknownWorkflow struct{ WorkflowID ids.WorkflowID }

func (e *ErrUnknownWorkflow) Error() string {
	return fmt.Sprintf("scheduler: unknown workflow %s", e.WorkflowID)
}

// Scheduler owns every live WorkflowDAG and feeds each workflow's ready beads
// into a dispatch Queue as dependencies resolve.
type Scheduler struct {
	mu        sync.RWMutex
	workflows map[ids.WorkflowID]*dag.WorkflowDAG
	dispatch  *queue.Queue
	bus       events.Bus

	tracer        trace.Tracer
	readyGauge    metric.Int64Gauge
	completeCount metric.Int64Counter
}

// New constructs a Scheduler dispatching ready beads onto dispatch and
// publishing state transitions onto bus.
func New(dispatch *queue.Queue, bus events.Bus, meter metric.Meter) *Scheduler {
	readyGauge, _ := meter.Int64Gauge("oya_scheduler_ready_beads")
	completeCount, _ := meter.Int64Counter("oya_scheduler_beads_completed_total")
	return &Scheduler{
		workflows:     make(map[ids.WorkflowID]*dag.WorkflowDAG),
		dispatch:      dispatch,
		bus:           bus,
		tracer:        otel.Tracer("oya-scheduler"),
		readyGauge:    readyGauge,
		completeCount: completeCount,
	}
}

// RegisterWorkflow adds a new WorkflowDAG to the registry, emits a Created
// event for every bead it contains, and enqueues its initially-ready beads.
func (s *Scheduler) RegisterWorkflow(ctx context.Context, workflow *dag.WorkflowDAG) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.register_workflow", trace.WithAttributes(attribute.String("workflow_id", workflow.WorkflowID.String())))
	defer span.End()

	s.mu.Lock()
	s.workflows[workflow.WorkflowID] = workflow
	s.mu.Unlock()

	beadIDs, err := workflow.TopologicalOrder()
	if err != nil {
		return fmt.Errorf("order workflow %s beads: %w", workflow.WorkflowID, err)
	}
	for _, bead := range beadIDs {
		if _, err := s.bus.Publish(events.Event{
			WorkflowID: workflow.WorkflowID,
			BeadID:     bead,
			Kind:       events.KindCreated,
			Timestamp:  time.Now(),
		}); err != nil {
			return fmt.Errorf("publish created for %s: %w", bead, err)
		}
	}

	return s.enqueueReady(ctx, workflow)
}

// GetWorkflowReadyBeads returns the current ready set for workflowID.
func (s *Scheduler) GetWorkflowReadyBeads(workflowID ids.WorkflowID) ([]ids.BeadID, error) {
	wf, err := s.workflowOf(workflowID)
	if err != nil {
		return nil, err
	}
	return wf.ReadyBeads(), nil
}

// OnBeadCompleted marks bead completed within workflowID's DAG and enqueues
// any newly-ready beads it unblocks.
func (s *Scheduler) OnBeadCompleted(ctx context.Context, workflowID ids.WorkflowID, bead ids.BeadID) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.on_bead_completed", trace.WithAttributes(
		attribute.String("workflow_id", workflowID.String()),
		attribute.String("bead_id", bead.String()),
	))
	defer span.End()

	wf, err := s.workflowOf(workflowID)
	if err != nil {
		return err
	}
	if err := wf.MarkCompleted(bead); err != nil {
		return fmt.Errorf("mark %s completed: %w", bead, err)
	}
	s.completeCount.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_id", workflowID.String())))

	if _, err := s.bus.Publish(events.Event{
		WorkflowID: workflowID,
		BeadID:     bead,
		Kind:       events.KindCompleted,
		Timestamp:  time.Now(),
	}); err != nil {
		return fmt.Errorf("publish completion for %s: %w", bead, err)
	}

	return s.enqueueReady(ctx, wf)
}

// CancelWorkflow marks every non-terminal bead in workflowID Cancelled,
// emitting a Cancelled event per bead, and drops it from the ready dispatch
// path; it remains registered for introspection until explicitly removed.
func (s *Scheduler) CancelWorkflow(ctx context.Context, workflowID ids.WorkflowID) error {
	wf, err := s.workflowOf(workflowID)
	if err != nil {
		return err
	}
	var cancelled []ids.BeadID
	wf.Traverse(func(bead ids.BeadID) {
		if st, ok := wf.Status(bead); ok && !st.Terminal() {
			if err := wf.SetStatus(bead, dag.Cancelled); err == nil {
				cancelled = append(cancelled, bead)
			}
		}
	}, dag.BFS)
	for _, bead := range cancelled {
		if _, err := s.bus.Publish(events.Event{
			WorkflowID: workflowID,
			BeadID:     bead,
			Kind:       events.KindCancelled,
			Timestamp:  time.Now(),
		}); err != nil {
			return fmt.Errorf("publish cancellation for %s: %w", bead, err)
		}
	}
	return nil
}

// Rehydrate rebuilds workflowID's in-memory DAG status from its full event
// history, used after a Scheduler restart before resuming dispatch.
func (s *Scheduler) Rehydrate(ctx context.Context, workflowID ids.WorkflowID, history []events.Event) error {
	wf, err := s.workflowOf(workflowID)
	if err != nil {
		return err
	}
	for _, e := range history {
		switch e.Kind {
		case events.KindCompleted:
			wf.MarkCompleted(e.BeadID)
		case events.KindCancelled:
			_ = wf.SetStatus(e.BeadID, dag.Cancelled)
		case events.KindFailed:
			_ = wf.SetStatus(e.BeadID, dag.Failed)
		case events.KindStarted:
			_ = wf.SetStatus(e.BeadID, dag.Running)
		}
	}
	return s.enqueueReady(ctx, wf)
}

func (s *Scheduler) enqueueReady(ctx context.Context, wf *dag.WorkflowDAG) error {
	ready := wf.ReadyBeads()
	s.readyGauge.Record(ctx, int64(len(ready)), metric.WithAttributes(attribute.String("workflow_id", wf.WorkflowID.String())))
	for _, bead := range ready {
		if st, ok := wf.Status(bead); ok && st == dag.Ready {
			continue // already dispatched this tick
		}
		if err := s.dispatch.Enqueue(bead, 0); err != nil {
			return fmt.Errorf("enqueue bead %s: %w", bead, err)
		}
		_ = wf.SetStatus(bead, dag.Ready)
		if _, err := s.bus.Publish(events.Event{
			WorkflowID: wf.WorkflowID,
			BeadID:     bead,
			Kind:       events.KindStateTransition,
			Timestamp:  time.Now(),
			From:       dag.Pending.String(),
			To:         dag.Ready.String(),
		}); err != nil {
			return fmt.Errorf("publish ready transition for %s: %w", bead, err)
		}
	}
	return nil
}

func (s *Scheduler) workflowOf(workflowID ids.WorkflowID) (*dag.WorkflowDAG, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, &ErrUnknownWorkflow{WorkflowID: workflowID}
	}
	return wf, nil
}

// Handler adapts the Scheduler to the actor.Handler contract so it can be
// supervised like any other tier-2 actor; msg must be one of the message
// types declared in messages.go.
func (s *Scheduler) Handler() actor.Handler {
	return func(ctx context.Context, msg any) (any, error) {
		switch m := msg.(type) {
		case RegisterWorkflow:
			return nil, s.RegisterWorkflow(ctx, m.Workflow)
		case GetWorkflowReadyBeads:
			return s.GetWorkflowReadyBeads(m.WorkflowID)
		case OnBeadCompleted:
			return nil, s.OnBeadCompleted(ctx, m.WorkflowID, m.BeadID)
		case CancelWorkflow:
			return nil, s.CancelWorkflow(ctx, m.WorkflowID)
		case Rehydrate:
			return nil, s.Rehydrate(ctx, m.WorkflowID, m.History)
		default:
			return nil, fmt.Errorf("scheduler: unrecognized message %T", msg)
		}
	}
}
