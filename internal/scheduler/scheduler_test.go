package scheduler

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/lprior-repo/oya-sub008/internal/dag"
	"github.com/lprior-repo/oya-sub008/internal/events"
	"github.com/lprior-repo/oya-sub008/internal/ids"
	"github.com/lprior-repo/oya-sub008/internal/queue"
)

func newTestScheduler(t *testing.T) (*Scheduler, *queue.Queue) {
	t.Helper()
	q := queue.New(queue.FIFO, 0)
	bus := events.NewInProcessBus(events.NewInMemoryStore())
	meter := otel.GetMeterProvider().Meter("test")
	return New(q, bus, meter), q
}

func newTestSchedulerWithBus(t *testing.T) (*Scheduler, *queue.Queue, events.Bus) {
	t.Helper()
	q := queue.New(queue.FIFO, 0)
	bus := events.NewInProcessBus(events.NewInMemoryStore())
	meter := otel.GetMeterProvider().Meter("test")
	return New(q, bus, meter), q, bus
}

func TestRegisterWorkflowEmitsCreatedAndReadyTransitionEvents(t *testing.T) {
	q := queue.New(queue.FIFO, 0)
	bus := events.NewInProcessBus(events.NewInMemoryStore())
	meter := otel.GetMeterProvider().Meter("test")
	sched := New(q, bus, meter)

	createdSub := bus.Subscribe(events.Pattern{Kind: events.KindCreated})
	defer createdSub.Cancel()
	transitionSub := bus.Subscribe(events.Pattern{Kind: events.KindStateTransition})
	defer transitionSub.Cancel()

	wfID := ids.NewWorkflowID()
	wf := dag.New(wfID)
	a, b := ids.NewBeadID(), ids.NewBeadID()
	_ = wf.AddNode(a)
	_ = wf.AddNode(b)
	_ = wf.AddDependency(a, b, dag.BlockingDependency)

	if err := sched.RegisterWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	seen := make(map[ids.BeadID]bool)
	for i := 0; i < 2; i++ {
		select {
		case e := <-createdSub.C():
			seen[e.BeadID] = true
		default:
			t.Fatalf("expected 2 created events, got %d", i)
		}
	}
	if !seen[a] || !seen[b] {
		t.Fatalf("created events = %v, want both beads", seen)
	}

	select {
	case e := <-transitionSub.C():
		if e.BeadID != a || e.To != dag.Ready.String() {
			t.Fatalf("transition = %+v, want bead %v to ready", e, a)
		}
	default:
		t.Fatal("expected a state_transition event for the initially-ready bead")
	}
}

func TestCancelWorkflowEmitsPerBeadCancelledEvents(t *testing.T) {
	sched, _, bus := newTestSchedulerWithBus(t)

	wfID := ids.NewWorkflowID()
	wf := dag.New(wfID)
	a, b := ids.NewBeadID(), ids.NewBeadID()
	_ = wf.AddNode(a)
	_ = wf.AddNode(b)
	_ = wf.AddDependency(a, b, dag.BlockingDependency)

	if err := sched.RegisterWorkflow(context.Background(), wf); err != nil {
		t.Fatal(err)
	}

	sub := bus.Subscribe(events.Pattern{Kind: events.KindCancelled})
	defer sub.Cancel()

	if err := sched.CancelWorkflow(context.Background(), wfID); err != nil {
		t.Fatalf("CancelWorkflow: %v", err)
	}

	seen := make(map[ids.BeadID]bool)
	for i := 0; i < 2; i++ {
		select {
		case e := <-sub.C():
			if e.BeadID.IsZero() {
				t.Fatal("cancelled event has zero bead id")
			}
			seen[e.BeadID] = true
		default:
			t.Fatalf("expected 2 cancelled events, got %d", i)
		}
	}
	if !seen[a] || !seen[b] {
		t.Fatalf("cancelled events = %v, want both beads", seen)
	}
}

func TestRegisterWorkflowEnqueuesInitialReadyBeads(t *testing.T) {
	sched, q := newTestScheduler(t)

	wfID := ids.NewWorkflowID()
	wf := dag.New(wfID)
	a, b := ids.NewBeadID(), ids.NewBeadID()
	if err := wf.AddNode(a); err != nil {
		t.Fatal(err)
	}
	if err := wf.AddNode(b); err != nil {
		t.Fatal(err)
	}
	if err := wf.AddDependency(a, b, dag.BlockingDependency); err != nil {
		t.Fatal(err)
	}

	if err := sched.RegisterWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1 (only root bead ready)", q.Len())
	}
	got, ok := q.Dequeue()
	if !ok || got != a {
		t.Fatalf("dequeued = %v, want %v", got, a)
	}
}

func TestOnBeadCompletedUnblocksSuccessor(t *testing.T) {
	sched, q := newTestScheduler(t)

	wfID := ids.NewWorkflowID()
	wf := dag.New(wfID)
	a, b := ids.NewBeadID(), ids.NewBeadID()
	_ = wf.AddNode(a)
	_ = wf.AddNode(b)
	_ = wf.AddDependency(a, b, dag.BlockingDependency)

	if err := sched.RegisterWorkflow(context.Background(), wf); err != nil {
		t.Fatal(err)
	}
	q.Dequeue() // drain a

	if err := sched.OnBeadCompleted(context.Background(), wfID, a); err != nil {
		t.Fatalf("OnBeadCompleted: %v", err)
	}

	got, ok := q.Dequeue()
	if !ok || got != b {
		t.Fatalf("dequeued after completion = %v, want %v", got, b)
	}
}

func TestGetWorkflowReadyBeadsUnknownWorkflow(t *testing.T) {
	sched, _ := newTestScheduler(t)
	_, err := sched.GetWorkflowReadyBeads(ids.NewWorkflowID())
	if _, ok := err.(*ErrUnknownWorkflow); !ok {
		t.Fatalf("err = %v, want *ErrUnknownWorkflow", err)
	}
}

func TestRehydrateReplaysCompletionsBeforeResumingDispatch(t *testing.T) {
	sched, q := newTestScheduler(t)

	wfID := ids.NewWorkflowID()
	wf := dag.New(wfID)
	a, b := ids.NewBeadID(), ids.NewBeadID()
	_ = wf.AddNode(a)
	_ = wf.AddNode(b)
	_ = wf.AddDependency(a, b, dag.BlockingDependency)

	sched.mu.Lock()
	sched.workflows[wfID] = wf
	sched.mu.Unlock()

	history := []events.Event{{WorkflowID: wfID, BeadID: a, Kind: events.KindCompleted}}
	if err := sched.Rehydrate(context.Background(), wfID, history); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}

	got, ok := q.Dequeue()
	if !ok || got != b {
		t.Fatalf("dequeued after rehydrate = %v, want %v", got, b)
	}
}
