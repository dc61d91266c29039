// Package events implements the append-only, per-bead event log and its
// pub/sub fan-out: the durability and notification backbone the Scheduler,
// projections and Reconciler all rehydrate from.
package events

import (
	"time"

	"github.com/lprior-repo/oya-sub008/internal/ids"
)

// Kind tags the variant of a BeadEvent.
type Kind string

const (
	KindCreated         Kind = "created"
	KindStarted         Kind = "started"
	KindPhaseOutput     Kind = "phase_output"
	KindCompleted       Kind = "completed"
	KindFailed          Kind = "failed"
	KindCancelled       Kind = "cancelled"
	KindStateTransition Kind = "state_transition"
)

// Event is the immutable fact appended to a bead's stream. Payload fields
// not relevant to a given Kind are left zero; unknown fields on decode are
// ignored for forward-compatibility per the wire contract.
type Event struct {
	EventID    ids.EventID `json:"event_id"`
	WorkflowID ids.WorkflowID `json:"workflow_id"`
	BeadID     ids.BeadID  `json:"bead_id"`
	Kind       Kind        `json:"kind"`
	Timestamp  time.Time   `json:"timestamp"`

	// Created
	SpecName       string `json:"spec_name,omitempty"`
	SpecComplexity string `json:"spec_complexity,omitempty"`

	// Started
	AgentID ids.AgentID `json:"agent_id,omitempty"`

	// PhaseOutput
	PhaseID ids.PhaseID     `json:"phase_id,omitempty"`
	Output  map[string]any  `json:"output,omitempty"`

	// Completed
	Result map[string]any `json:"result,omitempty"`

	// Failed
	Error string `json:"error,omitempty"`

	// StateTransition
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// MaxEventSize is the default single-event serialized size cap (1 MiB).
const MaxEventSize = 1 << 20

// ErrPayloadTooLarge is returned by Store.Append when an event's serialized
// form exceeds MaxEventSize.
type ErrPayloadTooLarge struct{ Size int }

func (e *ErrPayloadTooLarge) Error() string { return "events: payload too large" }

// ErrConflict signals a concurrent write to a single-writer bead stream.
type ErrConflict struct{ BeadID ids.BeadID }

func (e *ErrConflict) Error() string { return "events: conflict on bead " + e.BeadID.String() }

// ErrStorageUnavailable signals the durable backend cannot currently serve requests.
type ErrStorageUnavailable struct{ Cause error }

func (e *ErrStorageUnavailable) Error() string { return "events: storage unavailable: " + e.Cause.Error() }
func (e *ErrStorageUnavailable) Unwrap() error { return e.Cause }

// Pattern selects events for Store.Query by kind, bead, and/or time range.
// Zero-valued fields are wildcards.
type Pattern struct {
	Kind      Kind
	BeadID    ids.BeadID
	Since     time.Time
	Until     time.Time
}

func (p Pattern) matches(e Event) bool {
	if p.Kind != "" && e.Kind != p.Kind {
		return false
	}
	if !p.BeadID.IsZero() && e.BeadID != p.BeadID {
		return false
	}
	if !p.Since.IsZero() && e.Timestamp.Before(p.Since) {
		return false
	}
	if !p.Until.IsZero() && e.Timestamp.After(p.Until) {
		return false
	}
	return true
}
