// Package ids mints the time-sortable identifiers used throughout the
// orchestrator: workflow, bead, event, phase, agent, checkpoint, message,
// channel, timer and object ids are all ULIDs so that lexicographic order
// matches creation order.
package ids

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"
)

// entropy is shared and mutex-guarded: ulid.MonotonicEntropy is not safe for
// concurrent use on its own.
var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// ID is a time-sortable 128-bit identifier, rendered as a 26-character
// Crockford base32 string.
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether id is the empty value.
func (id ID) IsZero() bool { return id == "" }

func newULID() ID {
	mu.Lock()
	defer mu.Unlock()
	return ID(ulid.MustNew(ulid.Now(), entropy).String())
}

// WorkflowID identifies one workflow submission.
type WorkflowID = ID

// BeadID identifies one unit of work.
type BeadID = ID

// EventID identifies one appended event. Minted EventIDs come from a
// monotonic ULID source, so they increase within one process while the wall
// clock does not step back; the event stores do not check append order, and
// a caller-supplied EventID is stored as given.
type EventID = ID

// PhaseID identifies one phase of bead output.
type PhaseID = ID

// AgentID identifies one worker agent.
type AgentID = ID

// CheckpointID identifies one checkpoint.
type CheckpointID = ID

// MessageID identifies one durable message envelope.
type MessageID = ID

// ChannelID identifies one durable channel.
type ChannelID = ID

// TimerID identifies one durable timer.
type TimerID = ID

// ObjectID identifies one virtual object.
type ObjectID = ID

// NewWorkflowID mints a fresh WorkflowID.
func NewWorkflowID() WorkflowID { return newULID() }

// NewBeadID mints a fresh BeadID.
func NewBeadID() BeadID { return newULID() }

// NewEventID mints a fresh EventID.
func NewEventID() EventID { return newULID() }

// NewPhaseID mints a fresh PhaseID.
func NewPhaseID() PhaseID { return newULID() }

// NewAgentID mints a fresh AgentID.
func NewAgentID() AgentID { return newULID() }

// NewCheckpointID mints a fresh CheckpointID.
func NewCheckpointID() CheckpointID { return newULID() }

// NewMessageID mints a fresh MessageID.
func NewMessageID() MessageID { return newULID() }

// NewChannelID mints a fresh ChannelID.
func NewChannelID() ChannelID { return newULID() }

// NewTimerID mints a fresh TimerID.
func NewTimerID() TimerID { return newULID() }

// NewObjectID mints a fresh ObjectID.
func NewObjectID() ObjectID { return newULID() }
