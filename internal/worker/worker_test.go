package worker

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/lprior-repo/oya-sub008/internal/events"
	"github.com/lprior-repo/oya-sub008/internal/ids"
)

type fakeExecutor struct {
	output map[string]any
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, spec BeadSpec) (map[string]any, error) {
	return f.output, f.err
}

func newTestBus() *events.InProcessBus {
	return events.NewInProcessBus(events.NewInMemoryStore())
}

func TestWorkerHandleBeadPublishesStartedThenCompleted(t *testing.T) {
	pool := NewAgentPool(FIFOPolicy{}, nil)
	pool.RegisterAgent(&AgentHandle{ID: ids.NewAgentID()})

	bus := newTestBus()
	startedSub := bus.Subscribe(events.Pattern{Kind: events.KindStarted})
	defer startedSub.Cancel()
	completedSub := bus.Subscribe(events.Pattern{Kind: events.KindCompleted})
	defer completedSub.Cancel()

	meter := otel.GetMeterProvider().Meter("test")
	w := NewWorker(pool, &fakeExecutor{output: map[string]any{"ok": true}}, bus, meter)

	bead := ids.NewBeadID()
	agentID, err := pool.AssignBead(bead)
	if err != nil {
		t.Fatalf("AssignBead: %v", err)
	}
	if err := w.HandleBead(context.Background(), bead, agentID, BeadSpec{BeadID: bead.String(), URL: "http://example.invalid"}); err != nil {
		t.Fatalf("HandleBead: %v", err)
	}
	pool.CompleteBead(agentID)

	select {
	case e := <-startedSub.C():
		if e.BeadID != bead || e.AgentID != agentID {
			t.Fatalf("started event = %+v, want bead %v agent %v", e, bead, agentID)
		}
	default:
		t.Fatal("expected a started event to be published")
	}

	select {
	case e := <-completedSub.C():
		if e.BeadID != bead {
			t.Fatalf("completed event bead id = %v, want %v", e.BeadID, bead)
		}
		if e.Result["ok"] != true {
			t.Fatalf("completed event result = %v, want ok=true", e.Result)
		}
	default:
		t.Fatal("expected a completed event to be published")
	}

	if w.State() != WorkerIdle {
		t.Fatalf("worker state after completion = %v, want idle", w.State())
	}
	if got, ok := pool.Get(agentID); !ok || got.State != Idle {
		t.Fatalf("agent state after completed bead = %v, want idle", got)
	}
}

func TestWorkerHandleBeadPublishesFailureOnExecutorError(t *testing.T) {
	pool := NewAgentPool(FIFOPolicy{}, nil)
	agentID := ids.NewAgentID()
	pool.RegisterAgent(&AgentHandle{ID: agentID})

	bus := newTestBus()
	sub := bus.Subscribe(events.Pattern{Kind: events.KindFailed})
	defer sub.Cancel()

	meter := otel.GetMeterProvider().Meter("test")
	w := NewWorker(pool, &fakeExecutor{err: errors.New("boom")}, bus, meter)

	bead := ids.NewBeadID()
	assigned, err := pool.AssignBead(bead)
	if err != nil {
		t.Fatalf("AssignBead: %v", err)
	}
	if assigned != agentID {
		t.Fatalf("assigned = %v, want %v", assigned, agentID)
	}
	if err := w.HandleBead(context.Background(), bead, agentID, BeadSpec{BeadID: bead.String()}); err == nil {
		t.Fatal("expected HandleBead to return the executor error")
	}
	pool.CompleteBead(agentID)

	select {
	case e := <-sub.C():
		if e.Error != "boom" {
			t.Fatalf("failure event error = %q, want boom", e.Error)
		}
	default:
		t.Fatal("expected a failed event to be published")
	}

	if got, ok := pool.Get(agentID); !ok || got.State != Idle {
		t.Fatalf("agent state after failed bead = %v, want idle", got)
	}
}

func TestAssignBeadReturnsNoCapacityWhenAllBusy(t *testing.T) {
	pool := NewAgentPool(FIFOPolicy{}, nil)
	a := ids.NewAgentID()
	pool.RegisterAgent(&AgentHandle{ID: a})
	if _, err := pool.AssignBead(ids.NewBeadID()); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	if _, err := pool.AssignBead(ids.NewBeadID()); !errors.Is(err, ErrNoCapacity) {
		t.Fatalf("second assign = %v, want ErrNoCapacity", err)
	}
}
