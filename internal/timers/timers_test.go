package timers

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/lprior-repo/oya-sub008/internal/ids"
)

type fakePersistence struct {
	mu    sync.Mutex
	saved map[ids.TimerID]*DurableTimer
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{saved: make(map[ids.TimerID]*DurableTimer)}
}

func (f *fakePersistence) Save(t *DurableTimer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.saved[t.ID] = &cp
	return nil
}

func (f *fakePersistence) Delete(id ids.TimerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, id)
	return nil
}

func (f *fakePersistence) LoadPending() ([]*DurableTimer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*DurableTimer
	for _, t := range f.saved {
		if t.Status == TimerPending {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func TestSchedulerFiresDueTimer(t *testing.T) {
	persist := newFakePersistence()
	fired := make(chan *DurableTimer, 1)
	meter := otel.GetMeterProvider().Meter("test")
	sched := New(persist, func(ctx context.Context, tm *DurableTimer) { fired <- tm }, meter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	if _, err := sched.Schedule(time.Now().Add(10*time.Millisecond), map[string]any{"k": "v"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	select {
	case tm := <-fired:
		if tm.Status != Fired {
			t.Fatalf("fired timer status = %v, want Fired", tm.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire within 2s")
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	persist := newFakePersistence()
	fired := make(chan *DurableTimer, 1)
	meter := otel.GetMeterProvider().Meter("test")
	sched := New(persist, func(ctx context.Context, tm *DurableTimer) { fired <- tm }, meter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	tm, err := sched.Schedule(time.Now().Add(50*time.Millisecond), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := sched.Cancel(tm.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRestoreFiresOverdueTimersImmediately(t *testing.T) {
	persist := newFakePersistence()
	overdue := &DurableTimer{ID: ids.NewTimerID(), FireAt: time.Now().Add(-time.Hour), Status: TimerPending}
	persist.saved[overdue.ID] = overdue

	fired := make(chan *DurableTimer, 1)
	meter := otel.GetMeterProvider().Meter("test")
	sched := New(persist, func(ctx context.Context, tm *DurableTimer) { fired <- tm }, meter)

	if err := sched.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	select {
	case tm := <-fired:
		if tm.ID != overdue.ID {
			t.Fatalf("fired = %v, want %v", tm.ID, overdue.ID)
		}
	default:
		t.Fatal("expected overdue timer to fire synchronously during Restore")
	}
}
