package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lprior-repo/oya-sub008/internal/ids"
)

// Checkpoint is a compressed snapshot of a workflow's folded state as of
// LastEventID; restoring it and replaying events with EventID > LastEventID
// must be equivalent to full replay from genesis.
type Checkpoint struct {
	CheckpointID ids.CheckpointID
	WorkflowID   ids.WorkflowID
	Frame        []byte
	LastEventID  ids.EventID
	CreatedAt    time.Time
}

var bucketCheckpoints = []byte("checkpoints")

// Store persists Checkpoints keyed by WorkflowID, retaining only the most
// recent one per workflow (older ones are superseded, not versioned).
type Store struct {
	db *bbolt.DB

	level zstd.EncoderLevel

	writeLatency metric.Float64Histogram
	readLatency  metric.Float64Histogram
}

// Open opens (creating if absent) a bbolt-backed checkpoint store at path.
func Open(path string, level zstd.EncoderLevel, meter metric.Meter) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCheckpoints)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint bucket: %w", err)
	}

	writeLatency, _ := meter.Float64Histogram("oya_checkpoint_write_seconds")
	readLatency, _ := meter.Float64Histogram("oya_checkpoint_read_seconds")
	return &Store{db: db, level: level, writeLatency: writeLatency, readLatency: readLatency}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Create serializes state, compresses it into a framed checkpoint, and
// persists it, replacing any prior checkpoint for workflowID.
func (s *Store) Create(ctx context.Context, workflowID ids.WorkflowID, lastEventID ids.EventID, state any) (*Checkpoint, error) {
	start := time.Now()
	defer func() {
		s.writeLatency.Record(ctx, time.Since(start).Seconds())
	}()

	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	frame, err := encodeFrame(raw, s.level)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	cp := &Checkpoint{
		CheckpointID: ids.NewCheckpointID(),
		WorkflowID:   workflowID,
		Frame:        frame,
		LastEventID:  lastEventID,
		CreatedAt:    time.Now(),
	}

	payload, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint record: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).Put([]byte(workflowID.String()), payload)
	})
	if err != nil {
		return nil, fmt.Errorf("write checkpoint: %w", err)
	}
	return cp, nil
}

// Latest returns the most recent checkpoint for workflowID, or false if none exists.
func (s *Store) Latest(ctx context.Context, workflowID ids.WorkflowID) (*Checkpoint, bool, error) {
	start := time.Now()
	defer func() {
		s.readLatency.Record(ctx, time.Since(start).Seconds())
	}()

	var cp *Checkpoint
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCheckpoints).Get([]byte(workflowID.String()))
		if data == nil {
			return nil
		}
		cp = &Checkpoint{}
		return json.Unmarshal(data, cp)
	})
	if err != nil {
		return nil, false, fmt.Errorf("read checkpoint: %w", err)
	}
	if cp == nil {
		return nil, false, nil
	}
	return cp, true, nil
}

// Restore decompresses and deserializes a checkpoint's frame into out.
func Restore(cp *Checkpoint, out any) error {
	raw, err := decodeFrame(cp.Frame)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ErrCorrupt{Cause: err}
	}
	return nil
}

// Strategy selects when AutoCheckpointTimer fires.
type Strategy int

const (
	// EveryNEvents fires once EventCount new events have been observed.
	EveryNEvents Strategy = iota
	// EveryDuration fires on a fixed wall-clock interval.
	EveryDuration
)

// AutoCheckpointTimer triggers a checkpoint callback per a configured Strategy.
type AutoCheckpointTimer struct {
	strategy    Strategy
	eventCount  int
	interval    time.Duration
	onTrigger   func(ctx context.Context)
	eventsSince int
	mu          sync.Mutex

	counter metric.Int64Counter
}

// NewEventCountTimer triggers onTrigger every n events (call Observe per event).
func NewEventCountTimer(n int, onTrigger func(ctx context.Context), meter metric.Meter) *AutoCheckpointTimer {
	counter, _ := meter.Int64Counter("oya_checkpoint_triggers_total")
	return &AutoCheckpointTimer{strategy: EveryNEvents, eventCount: n, onTrigger: onTrigger, counter: counter}
}

// NewDurationTimer triggers onTrigger every interval; call Run to start it.
func NewDurationTimer(interval time.Duration, onTrigger func(ctx context.Context), meter metric.Meter) *AutoCheckpointTimer {
	counter, _ := meter.Int64Counter("oya_checkpoint_triggers_total")
	return &AutoCheckpointTimer{strategy: EveryDuration, interval: interval, onTrigger: onTrigger, counter: counter}
}

// Observe registers one new event for an EveryNEvents timer, firing onTrigger
// once the configured count is reached.
func (t *AutoCheckpointTimer) Observe(ctx context.Context) {
	if t.strategy != EveryNEvents {
		return
	}
	t.mu.Lock()
	t.eventsSince++
	fire := t.eventsSince >= t.eventCount
	if fire {
		t.eventsSince = 0
	}
	t.mu.Unlock()

	if fire {
		t.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", "every_n_events")))
		t.onTrigger(ctx)
	}
}

// Run blocks firing onTrigger every interval until ctx is cancelled; only
// meaningful for an EveryDuration timer.
func (t *AutoCheckpointTimer) Run(ctx context.Context) {
	if t.strategy != EveryDuration {
		return
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", "every_duration")))
			t.onTrigger(ctx)
		}
	}
}
