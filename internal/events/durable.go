package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lprior-repo/oya-sub008/internal/ids"
)

var (
	bucketEventsByBead = []byte("events_by_bead")
	bucketEventsByID   = []byte("events_by_id")
)

// DurableStore persists events to an embedded bbolt database, the way the
// rest of this orchestrator persists everything that must survive restart.
// A bbolt bucket per bead holds that bead's stream in EventID-ordered keys;
// a global bucket keyed by EventID supports ReadRange/Query without a full
// per-bead scan.
type DurableStore struct {
	db *bbolt.DB

	mu      sync.RWMutex
	hotBead map[ids.BeadID][]Event // memory cache mirroring the bbolt per-bead bucket

	writeLatency metric.Float64Histogram
	readLatency  metric.Float64Histogram
}

// Config controls how a DurableStore connects to its backing file.
type Config struct {
	Path string
}

// Connect opens (creating if absent) the embedded key-value engine and
// performs schema initialization, per the EventStore Durable variant contract.
func Connect(cfg Config, meter metric.Meter) (*DurableStore, error) {
	db, err := bbolt.Open(cfg.Path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, &ErrStorageUnavailable{Cause: err}
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketEventsByBead, bucketEventsByID} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("events: init schema: %w", err)
	}

	writeLatency, _ := meter.Float64Histogram("oya_events_write_ms")
	readLatency, _ := meter.Float64Histogram("oya_events_read_ms")

	s := &DurableStore{
		db:           db,
		hotBead:      make(map[ids.BeadID][]Event),
		writeLatency: writeLatency,
		readLatency:  readLatency,
	}
	if err := s.warmCache(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *DurableStore) Close() error { return s.db.Close() }

func (s *DurableStore) warmCache() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEventsByBead)
		return bucket.ForEach(func(beadKey, _ []byte) error {
			sub := bucket.Bucket(beadKey)
			if sub == nil {
				return nil
			}
			var list []Event
			err := sub.ForEach(func(_, v []byte) error {
				var e Event
				if err := json.Unmarshal(v, &e); err != nil {
					return nil
				}
				list = append(list, e)
				return nil
			})
			if err != nil {
				return err
			}
			s.hotBead[ids.BeadID(beadKey)] = list
			return nil
		})
	})
}

func (s *DurableStore) Append(e Event) (ids.EventID, error) {
	start := time.Now()
	payload, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	if len(payload) > MaxEventSize {
		return "", &ErrPayloadTooLarge{Size: len(payload)}
	}
	if e.EventID.IsZero() {
		e.EventID = ids.NewEventID()
	}
	payload, _ = json.Marshal(e) // re-marshal with the assigned EventID

	err = s.db.Update(func(tx *bbolt.Tx) error {
		byBead := tx.Bucket(bucketEventsByBead)
		sub, err := byBead.CreateBucketIfNotExists([]byte(e.BeadID))
		if err != nil {
			return err
		}
		if err := sub.Put([]byte(e.EventID), payload); err != nil {
			return err
		}
		byID := tx.Bucket(bucketEventsByID)
		return byID.Put([]byte(e.EventID), payload)
	})
	if err != nil {
		return "", &ErrStorageUnavailable{Cause: err}
	}

	s.mu.Lock()
	prev := s.hotBead[e.BeadID]
	next := make([]Event, len(prev)+1)
	copy(next, prev)
	next[len(prev)] = e
	s.hotBead[e.BeadID] = next
	s.mu.Unlock()

	s.writeLatency.Record(context.Background(), float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("op", "append")))
	return e.EventID, nil
}

func (s *DurableStore) ReadForBead(bead ids.BeadID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hotBead[bead], nil
}

func (s *DurableStore) ReadRange(from, to ids.EventID) ([]Event, error) {
	start := time.Now()
	defer func() {
		s.readLatency.Record(context.Background(), float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("op", "range")))
	}()

	out := make([]Event, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketEventsByID).Cursor()
		for k, v := cursor.Seek([]byte(from)); k != nil; k, v = cursor.Next() {
			if !to.IsZero() && ids.EventID(k) > to {
				break
			}
			var e Event
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, &ErrStorageUnavailable{Cause: err}
	}
	return out, nil
}

func (s *DurableStore) Query(pattern Pattern) ([]Event, error) {
	all, err := s.ReadRange("", "")
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if pattern.matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}
