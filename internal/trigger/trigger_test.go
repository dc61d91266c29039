package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/lprior-repo/oya-sub008/internal/dag"
	"github.com/lprior-repo/oya-sub008/internal/ids"
)

type recordingSubmitter struct {
	mu        sync.Mutex
	submitted []*dag.WorkflowDAG
}

func (r *recordingSubmitter) RegisterWorkflow(ctx context.Context, workflow *dag.WorkflowDAG) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, workflow)
	return nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.submitted)
}

func singleBeadBuilder() *dag.WorkflowDAG {
	wf := dag.New(ids.NewWorkflowID())
	_ = wf.AddNode(ids.NewBeadID())
	return wf
}

func TestDispatchFiresMatchingEventSchedule(t *testing.T) {
	sub := &recordingSubmitter{}
	tr := New(sub, otel.GetMeterProvider().Meter("test"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tr.Stop(ctx)
	})

	if err := tr.Add(&Config{
		Name:        "on-deploy",
		EventType:   "deploy.completed",
		EventFilter: map[string]any{"env": "prod"},
		Enabled:     true,
		Builder:     singleBeadBuilder,
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tr.Dispatch(context.Background(), "deploy.completed", map[string]any{"env": "staging"})
	time.Sleep(20 * time.Millisecond)
	if got := sub.count(); got != 0 {
		t.Fatalf("submitted = %d for non-matching filter, want 0", got)
	}

	tr.Dispatch(context.Background(), "deploy.completed", map[string]any{"env": "prod"})
	deadline := time.Now().Add(time.Second)
	for sub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := sub.count(); got != 1 {
		t.Fatalf("submitted = %d, want 1", got)
	}
}

func TestDispatchIgnoresUnknownEventType(t *testing.T) {
	sub := &recordingSubmitter{}
	tr := New(sub, otel.GetMeterProvider().Meter("test"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tr.Stop(ctx)
	})

	tr.Dispatch(context.Background(), "nothing.registered", nil)
	time.Sleep(10 * time.Millisecond)
	if got := sub.count(); got != 0 {
		t.Fatalf("submitted = %d, want 0", got)
	}
}

func TestAddRejectsScheduleWithNeitherCronNorEvent(t *testing.T) {
	sub := &recordingSubmitter{}
	tr := New(sub, otel.GetMeterProvider().Meter("test"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tr.Stop(ctx)
	})

	err := tr.Add(&Config{Name: "broken", Enabled: true, Builder: singleBeadBuilder})
	if err == nil {
		t.Fatal("expected error for schedule with neither CronExpr nor EventType")
	}
}

func TestCronScheduleFiresOnTick(t *testing.T) {
	sub := &recordingSubmitter{}
	tr := New(sub, otel.GetMeterProvider().Meter("test"))

	if err := tr.Add(&Config{
		Name:     "every-second",
		CronExpr: "* * * * * *",
		Enabled:  true,
		Builder:  singleBeadBuilder,
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	tr.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tr.Stop(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if got := sub.count(); got == 0 {
		t.Fatal("cron schedule never fired within 2s")
	}
}
