// Package trigger re-submits workflow specs to the Scheduler on a cron
// schedule or in response to an incoming named event, a thin layer over
// github.com/robfig/cron/v3 carried forward from the teacher's own
// Scheduler/ScheduleConfig/EventHandler trio.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lprior-repo/oya-sub008/internal/dag"
	"github.com/lprior-repo/oya-sub008/internal/resilience"
)

// Builder produces the workflow spec to submit when a schedule fires. Each
// firing gets a fresh DAG instance, since a WorkflowDAG's Status table is
// mutated in place as its beads run.
type Builder func() *dag.WorkflowDAG

// Submitter is the subset of the Scheduler's surface triggers need.
type Submitter interface {
	RegisterWorkflow(ctx context.Context, workflow *dag.WorkflowDAG) error
}

// Config describes when and how to (re)submit a workflow.
type Config struct {
	Name        string
	CronExpr    string // e.g. "0 */5 * * * *"; empty means event-driven only
	EventType   string // empty means cron-driven only
	EventFilter map[string]any
	Enabled     bool
	Builder     Builder
}

type eventHandler struct {
	mu        sync.Mutex
	schedules []*Config
}

// Trigger owns the cron scheduler and the event-type -> schedule index,
// calling into a Submitter (the Scheduler) whenever a schedule fires.
type Trigger struct {
	cron      *cron.Cron
	submitter Submitter
	limiter   *resilience.HybridRateLimiter

	mu       sync.RWMutex
	handlers map[string]*eventHandler
	entries  map[string]cron.EntryID

	tracer      trace.Tracer
	runCounter  metric.Int64Counter
	failCounter metric.Int64Counter
}

// New constructs a Trigger bound to submitter. Call Start to begin the cron
// loop; it is inert (cron jobs registered but not ticking) until then. Every
// firing is admitted through a hybrid rate limiter (burst tolerance via
// token bucket, sustained smoothing via a leaky-bucket queue) so a storm of
// cron ticks or matching events cannot flood the Scheduler with
// RegisterWorkflow calls faster than it can enqueue ready beads.
func New(submitter Submitter, meter metric.Meter) *Trigger {
	runCounter, _ := meter.Int64Counter("oya_trigger_runs_total")
	failCounter, _ := meter.Int64Counter("oya_trigger_failures_total")
	return &Trigger{
		cron:        cron.New(cron.WithSeconds()),
		submitter:   submitter,
		limiter:     resilience.NewHybridRateLimiter(50, 10, 200, 50*time.Millisecond),
		handlers:    make(map[string]*eventHandler),
		entries:     make(map[string]cron.EntryID),
		tracer:      otel.Tracer("oya-trigger"),
		runCounter:  runCounter,
		failCounter: failCounter,
	}
}

// Start begins the cron loop in the background.
func (t *Trigger) Start() { t.cron.Start() }

// Stop waits up to the context deadline for in-flight cron jobs to finish
// and shuts down the admission limiter's background workers.
func (t *Trigger) Stop(ctx context.Context) error {
	stopCtx := t.cron.Stop()
	defer t.limiter.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Add registers cfg. A cron-driven schedule is armed immediately; an
// event-driven schedule is indexed under its EventType and fires only when
// Dispatch is called for a matching event.
func (t *Trigger) Add(cfg *Config) error {
	if !cfg.Enabled {
		return nil
	}
	switch {
	case cfg.CronExpr != "":
		entryID, err := t.cron.AddFunc(cfg.CronExpr, func() {
			t.fire(context.Background(), cfg)
		})
		if err != nil {
			return fmt.Errorf("add cron schedule %s: %w", cfg.Name, err)
		}
		t.mu.Lock()
		t.entries[cfg.Name] = entryID
		t.mu.Unlock()
	case cfg.EventType != "":
		t.mu.Lock()
		h, ok := t.handlers[cfg.EventType]
		if !ok {
			h = &eventHandler{}
			t.handlers[cfg.EventType] = h
		}
		t.mu.Unlock()
		h.mu.Lock()
		h.schedules = append(h.schedules, cfg)
		h.mu.Unlock()
	default:
		return fmt.Errorf("schedule %s: either CronExpr or EventType must be set", cfg.Name)
	}
	return nil
}

// Remove unregisters a cron entry for name, if one exists. Event-driven
// schedules are not removed: once added they stay registered for the
// Trigger's lifetime. The cron library has no remove-by-name primitive, only
// remove-by-EntryID, which Add already tracks.
func (t *Trigger) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.entries[name]; ok {
		t.cron.Remove(id)
		delete(t.entries, name)
	}
}

// Dispatch matches an incoming named event against every schedule
// registered for eventType and fires it, subject to EventFilter.
func (t *Trigger) Dispatch(ctx context.Context, eventType string, payload map[string]any) {
	ctx, span := t.tracer.Start(ctx, "trigger.dispatch",
		trace.WithAttributes(attribute.String("event_type", eventType)))
	defer span.End()

	t.mu.RLock()
	h, ok := t.handlers[eventType]
	t.mu.RUnlock()
	if !ok {
		return
	}

	h.mu.Lock()
	matched := make([]*Config, 0, len(h.schedules))
	for _, cfg := range h.schedules {
		if matchesFilter(payload, cfg.EventFilter) {
			matched = append(matched, cfg)
		}
	}
	h.mu.Unlock()

	for _, cfg := range matched {
		go t.fire(context.Background(), cfg)
	}
}

func (t *Trigger) fire(ctx context.Context, cfg *Config) {
	ctx, span := t.tracer.Start(ctx, "trigger.fire",
		trace.WithAttributes(attribute.String("workflow", cfg.Name)))
	defer span.End()

	if err := t.limiter.AllowOrWait(ctx); err != nil {
		t.failCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", cfg.Name), attribute.String("reason", "rate_limited")))
		span.RecordError(err)
		return
	}

	workflow := cfg.Builder()
	if err := t.submitter.RegisterWorkflow(ctx, workflow); err != nil {
		t.failCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", cfg.Name)))
		span.RecordError(err)
		return
	}
	t.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", cfg.Name)))
}

func matchesFilter(payload, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for k, want := range filter {
		got, ok := payload[k]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}
