package checkpoint

import (
	"sync"

	"github.com/lprior-repo/oya-sub008/internal/events"
	"github.com/lprior-repo/oya-sub008/internal/ids"
)

// ReplayTracker records how far a replay has progressed so it can resume
// after an interruption instead of restarting from genesis.
type ReplayTracker struct {
	mu       sync.Mutex
	progress map[ids.WorkflowID]ids.EventID
}

// NewReplayTracker constructs an empty tracker.
func NewReplayTracker() *ReplayTracker {
	return &ReplayTracker{progress: make(map[ids.WorkflowID]ids.EventID)}
}

// Progress returns the last EventID successfully replayed for workflowID.
func (t *ReplayTracker) Progress(workflowID ids.WorkflowID) ids.EventID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress[workflowID]
}

// Advance records that workflowID has been replayed through eventID.
func (t *ReplayTracker) Advance(workflowID ids.WorkflowID, eventID ids.EventID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if eventID > t.progress[workflowID] {
		t.progress[workflowID] = eventID
	}
}

// Sink receives one event during Replay; it is the caller's projection(s) or
// actor rehydration entry point.
type Sink func(e events.Event)

// Replay feeds store's events for workflowID in EventID order into sink,
// starting after whichever is later of the tracker's recorded progress and
// fromEventID, and advances the tracker after each event.
func Replay(store *events.InMemoryStore, tracker *ReplayTracker, workflowID ids.WorkflowID, fromEventID ids.EventID, sink Sink) {
	start := fromEventID
	if progress := tracker.Progress(workflowID); progress > start {
		start = progress
	}

	for _, e := range store.AllSince(start) {
		if e.WorkflowID != workflowID {
			continue
		}
		sink(e)
		tracker.Advance(workflowID, e.EventID)
	}
}
