package dag

import "github.com/lprior-repo/oya-sub008/internal/ids"

type pendingEdge struct {
	from, to ids.BeadID
	typ      EdgeType
}

// Builder accumulates node and edge additions in an uncommitted buffer; Build
// applies them all inside a single validation pass, aborting entirely on the
// first error so the underlying DAG is never partially mutated.
type Builder struct {
	dag   *WorkflowDAG
	nodes []ids.BeadID
	edges []pendingEdge
}

// NewBuilder returns a builder that will apply its buffer to dag on Build.
func NewBuilder(d *WorkflowDAG) *Builder {
	return &Builder{dag: d}
}

// AddNode queues a node addition.
func (b *Builder) AddNode(id ids.BeadID) *Builder {
	b.nodes = append(b.nodes, id)
	return b
}

// AddDependency queues an edge addition.
func (b *Builder) AddDependency(from, to ids.BeadID, typ EdgeType) *Builder {
	b.edges = append(b.edges, pendingEdge{from: from, to: to, typ: typ})
	return b
}

// Build validates and applies the buffered additions to a scratch copy of
// the DAG's structure; if every addition succeeds, it commits them to the
// real DAG, otherwise it returns the first error and leaves the DAG unchanged.
func (b *Builder) Build() error {
	scratch := New(b.dag.WorkflowID)
	for id, n := range b.dag.nodes {
		scratch.nodes[id] = &node{id: n.id, status: n.status, createdAt: n.createdAt, updatedAt: n.updatedAt}
		scratch.outBlocking[id] = copySet(b.dag.outBlocking[id])
		scratch.inBlocking[id] = copySet(b.dag.inBlocking[id])
		scratch.outSoft[id] = copySet(b.dag.outSoft[id])
		scratch.inSoft[id] = copySet(b.dag.inSoft[id])
	}

	for _, id := range b.nodes {
		if err := scratch.AddNode(id); err != nil {
			return err
		}
	}
	for _, e := range b.edges {
		if err := scratch.AddDependency(e.from, e.to, e.typ); err != nil {
			return err
		}
	}

	// Commit: replace the original DAG's maps with the validated scratch state.
	b.dag.nodes = scratch.nodes
	b.dag.outBlocking = scratch.outBlocking
	b.dag.inBlocking = scratch.inBlocking
	b.dag.outSoft = scratch.outSoft
	b.dag.inSoft = scratch.inSoft
	return nil
}

func copySet(m map[ids.BeadID]struct{}) map[ids.BeadID]struct{} {
	out := make(map[ids.BeadID]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}
