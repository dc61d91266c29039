package timers

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/lprior-repo/oya-sub008/internal/ids"
)

var bucketTimers = []byte("timers")

// BoltPersistence is the default TimerPersistence collaborator, storing each
// timer as a JSON record keyed by its id.
type BoltPersistence struct {
	db *bbolt.DB
}

// OpenBoltPersistence opens (creating if absent) a bbolt-backed timer store.
func OpenBoltPersistence(path string) (*BoltPersistence, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open timers db: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTimers)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create timers bucket: %w", err)
	}
	return &BoltPersistence{db: db}, nil
}

// Close closes the underlying database.
func (p *BoltPersistence) Close() error { return p.db.Close() }

func (p *BoltPersistence) Save(t *DurableTimer) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal timer: %w", err)
	}
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTimers).Put([]byte(t.ID.String()), data)
	})
}

func (p *BoltPersistence) Delete(id ids.TimerID) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTimers).Delete([]byte(id.String()))
	})
}

func (p *BoltPersistence) LoadPending() ([]*DurableTimer, error) {
	var out []*DurableTimer
	err := p.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTimers).ForEach(func(k, v []byte) error {
			var t DurableTimer
			if err := json.Unmarshal(v, &t); err != nil {
				return nil // skip corrupt entries rather than failing the whole load
			}
			if t.Status == TimerPending {
				out = append(out, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load pending timers: %w", err)
	}
	return out, nil
}
