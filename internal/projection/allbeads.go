package projection

import (
	"github.com/lprior-repo/oya-sub008/internal/events"
	"github.com/lprior-repo/oya-sub008/internal/ids"
)

// BeadView is one bead's materialized state within the AllBeads projection.
type BeadView struct {
	Status      events.Kind
	SpecName    string
	LastEventID ids.EventID
}

// AllBeadsState maps BeadId to its current view; this is the mandatory
// projection the Reconciler diffs its DesiredState against.
type AllBeadsState map[ids.BeadID]BeadView

// AllBeads folds the event stream into a BeadId -> (status, spec, last_event_id) view.
type AllBeads struct{}

func (AllBeads) Initial() AllBeadsState { return make(AllBeadsState) }

func (AllBeads) Apply(state AllBeadsState, e events.Event) AllBeadsState {
	v := state[e.BeadID]
	switch e.Kind {
	case events.KindStateTransition:
		// The transition target carries the real dag.Status vocabulary
		// ("ready", "running", ...); folding e.Kind itself would collapse
		// every transition to the single literal "state_transition".
		v.Status = events.Kind(e.To)
	case events.KindStarted:
		v.Status = "running"
	case events.KindPhaseOutput:
		v.Status = "running"
	default:
		v.Status = e.Kind
	}
	if e.SpecName != "" {
		v.SpecName = e.SpecName
	}
	v.LastEventID = e.EventID
	state[e.BeadID] = v
	return state
}
