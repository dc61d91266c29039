package scheduler

import (
	"github.com/lprior-repo/oya-sub008/internal/dag"
	"github.com/lprior-repo/oya-sub008/internal/events"
	"github.com/lprior-repo/oya-sub008/internal/ids"
)

// RegisterWorkflow registers a newly built WorkflowDAG.
type RegisterWorkflow struct{ Workflow *dag.WorkflowDAG }

// GetWorkflowReadyBeads queries the current ready set of a workflow.
type GetWorkflowReadyBeads struct{ WorkflowID ids.WorkflowID }

// OnBeadCompleted reports a bead's completion to its owning workflow.
type OnBeadCompleted struct {
	WorkflowID ids.WorkflowID
	BeadID     ids.BeadID
}

// CancelWorkflow cancels every non-terminal bead in a workflow.
type CancelWorkflow struct{ WorkflowID ids.WorkflowID }

// Rehydrate replays a workflow's full event history to rebuild its DAG
// status after a restart.
type Rehydrate struct {
	WorkflowID ids.WorkflowID
	History    []events.Event
}
