// Package dag implements the per-workflow bead dependency graph: typed
// edges, cycle-safe mutation, readiness queries and deterministic traversal.
package dag

import (
	"fmt"
	"sort"
	"time"

	"github.com/lprior-repo/oya-sub008/internal/ids"
)

// EdgeType distinguishes edges that gate readiness from ordering hints.
type EdgeType int

const (
	// BlockingDependency must complete before the successor becomes ready.
	BlockingDependency EdgeType = iota
	// SoftDependency is an ordering preference only; it never gates readiness.
	SoftDependency
)

func (t EdgeType) String() string {
	if t == SoftDependency {
		return "soft"
	}
	return "blocking"
}

// Status is a bead's lifecycle state within a DAG.
type Status int

const (
	Pending Status = iota
	Ready
	Running
	Completed
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s accepts no further mutation except idempotent replays.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

type edge struct {
	from, to ids.BeadID
	typ      EdgeType
}

type node struct {
	id        ids.BeadID
	status    Status
	createdAt time.Time
	updatedAt time.Time
}

// Error is the typed error taxonomy for WorkflowDAG operations; operations
// never partially mutate on failure.
type Error struct {
	Kind    string
	Bead    ids.BeadID
	Cycle   []ids.BeadID
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("dag: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("dag: %s: %s", e.Kind, e.Bead)
}

func errNodeExists(id ids.BeadID) error  { return &Error{Kind: "NodeAlreadyExists", Bead: id} }
func errNodeNotFound(id ids.BeadID) error { return &Error{Kind: "NodeNotFound", Bead: id} }
func errSelfLoop(id ids.BeadID) error    { return &Error{Kind: "SelfLoop", Bead: id} }
func errEdgeExists(from, to ids.BeadID) error {
	return &Error{Kind: "EdgeAlreadyExists", Message: fmt.Sprintf("%s->%s", from, to)}
}
func errCycle(cycle []ids.BeadID) error { return &Error{Kind: "CycleDetected", Cycle: cycle} }

// WorkflowDAG is the per-workflow dependency graph of beads.
type WorkflowDAG struct {
	WorkflowID ids.WorkflowID

	nodes map[ids.BeadID]*node
	// outBlocking/inBlocking index BlockingDependency edges for O(1) readiness checks.
	outBlocking map[ids.BeadID]map[ids.BeadID]struct{}
	inBlocking  map[ids.BeadID]map[ids.BeadID]struct{}
	outSoft     map[ids.BeadID]map[ids.BeadID]struct{}
	inSoft      map[ids.BeadID]map[ids.BeadID]struct{}
}

// New constructs an empty DAG for the given workflow.
func New(workflowID ids.WorkflowID) *WorkflowDAG {
	return &WorkflowDAG{
		WorkflowID:  workflowID,
		nodes:       make(map[ids.BeadID]*node),
		outBlocking: make(map[ids.BeadID]map[ids.BeadID]struct{}),
		inBlocking:  make(map[ids.BeadID]map[ids.BeadID]struct{}),
		outSoft:     make(map[ids.BeadID]map[ids.BeadID]struct{}),
		inSoft:      make(map[ids.BeadID]map[ids.BeadID]struct{}),
	}
}

// AddNode registers a new bead id in the Pending state.
func (d *WorkflowDAG) AddNode(id ids.BeadID) error {
	if _, exists := d.nodes[id]; exists {
		return errNodeExists(id)
	}
	now := time.Now()
	d.nodes[id] = &node{id: id, status: Pending, createdAt: now, updatedAt: now}
	d.outBlocking[id] = make(map[ids.BeadID]struct{})
	d.inBlocking[id] = make(map[ids.BeadID]struct{})
	d.outSoft[id] = make(map[ids.BeadID]struct{})
	d.inSoft[id] = make(map[ids.BeadID]struct{})
	return nil
}

// AddDependency adds a directed edge from -> to of the given type. Adding a
// BlockingDependency edge that would close a cycle is rejected and the graph
// is left unchanged; the full cycle is reported.
func (d *WorkflowDAG) AddDependency(from, to ids.BeadID, typ EdgeType) error {
	if from == to {
		return errSelfLoop(from)
	}
	if _, ok := d.nodes[from]; !ok {
		return errNodeNotFound(from)
	}
	if _, ok := d.nodes[to]; !ok {
		return errNodeNotFound(to)
	}

	out, in := d.outBlocking, d.inBlocking
	if typ == SoftDependency {
		out, in = d.outSoft, d.inSoft
	}
	if _, dup := out[from][to]; dup {
		return errEdgeExists(from, to)
	}

	if typ == BlockingDependency {
		if cycle := d.findCycleWith(from, to); cycle != nil {
			return errCycle(cycle)
		}
	}

	out[from][to] = struct{}{}
	in[to][from] = struct{}{}
	return nil
}

// findCycleWith returns the cycle node list if adding edge from->to would
// close a cycle over BlockingDependency edges, or nil if it would not. It
// runs a DFS from `to` looking for a path back to `from`; if found, that
// path plus the new edge is the cycle, reported with its first node repeated
// at the end (e.g. [A B C A]).
func (d *WorkflowDAG) findCycleWith(from, to ids.BeadID) []ids.BeadID {
	type color int
	const (
		white color = iota
		grey
		black
	)
	colors := make(map[ids.BeadID]color, len(d.nodes))
	parent := make(map[ids.BeadID]ids.BeadID, len(d.nodes))

	var dfs func(ids.BeadID) []ids.BeadID
	dfs = func(u ids.BeadID) []ids.BeadID {
		colors[u] = grey
		for v := range d.outBlocking[u] {
			if v == from {
				// path back to `from`: path(to..u) + from, closed by the new edge to `to`
				return append(d.reconstructCycle(parent, u, to, from), to)
			}
			switch colors[v] {
			case white:
				parent[v] = u
				if cyc := dfs(v); cyc != nil {
					return cyc
				}
			case grey:
				// existing cycle unrelated to the new edge; should not happen
				// since the graph was acyclic before this call, but guard anyway.
				return d.reconstructCycle(parent, u, to, v)
			}
		}
		colors[u] = black
		return nil
	}

	parent[to] = from
	return dfs(to)
}

func (d *WorkflowDAG) reconstructCycle(parent map[ids.BeadID]ids.BeadID, tail, start, target ids.BeadID) []ids.BeadID {
	path := []ids.BeadID{tail}
	cur := tail
	for cur != start {
		p, ok := parent[cur]
		if !ok {
			break
		}
		path = append(path, p)
		cur = p
	}
	// path is tail..start in reverse; reverse it to get start..tail
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	path = append(path, target)
	return path
}

// RemoveNode deletes a bead and all incident edges.
func (d *WorkflowDAG) RemoveNode(id ids.BeadID) error {
	if _, ok := d.nodes[id]; !ok {
		return errNodeNotFound(id)
	}
	for other := range d.outBlocking[id] {
		delete(d.inBlocking[other], id)
	}
	for other := range d.inBlocking[id] {
		delete(d.outBlocking[other], id)
	}
	for other := range d.outSoft[id] {
		delete(d.inSoft[other], id)
	}
	for other := range d.inSoft[id] {
		delete(d.outSoft[other], id)
	}
	delete(d.outBlocking, id)
	delete(d.inBlocking, id)
	delete(d.outSoft, id)
	delete(d.inSoft, id)
	delete(d.nodes, id)
	return nil
}

// MarkCompleted records a bead as Completed; idempotent.
func (d *WorkflowDAG) MarkCompleted(id ids.BeadID) error {
	n, ok := d.nodes[id]
	if !ok {
		return errNodeNotFound(id)
	}
	if n.status == Completed {
		return nil
	}
	n.status = Completed
	n.updatedAt = time.Now()
	return nil
}

// SetStatus transitions a bead's status; terminal states reject further
// mutation except idempotent replays of the same terminal value.
func (d *WorkflowDAG) SetStatus(id ids.BeadID, status Status) error {
	n, ok := d.nodes[id]
	if !ok {
		return errNodeNotFound(id)
	}
	if n.status.Terminal() && n.status != status {
		return &Error{Kind: "Validation", Bead: id, Message: "cannot mutate terminal bead"}
	}
	n.status = status
	n.updatedAt = time.Now()
	return nil
}

// Status returns a bead's current status.
func (d *WorkflowDAG) Status(id ids.BeadID) (Status, bool) {
	n, ok := d.nodes[id]
	if !ok {
		return 0, false
	}
	return n.status, true
}

// isBlockedReady reports whether every incoming BlockingDependency predecessor is Completed.
func (d *WorkflowDAG) isBlockedReady(id ids.BeadID) bool {
	for pred := range d.inBlocking[id] {
		if d.nodes[pred].status != Completed {
			return false
		}
	}
	return true
}

// ReadyBeads returns Pending beads whose blocking predecessors are all
// Completed, ascending BeadId order.
func (d *WorkflowDAG) ReadyBeads() []ids.BeadID {
	out := make([]ids.BeadID, 0)
	for id, n := range d.nodes {
		if n.status == Pending && d.isBlockedReady(id) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TopologicalOrder returns a deterministic order respecting all
// BlockingDependency edges; within a layer (equal in-degree rank), ordered
// by BeadId. Uses Kahn's algorithm, emitting one sorted layer of the
// frontier at a time.
func (d *WorkflowDAG) TopologicalOrder() ([]ids.BeadID, error) {
	indeg := make(map[ids.BeadID]int, len(d.nodes))
	for id := range d.nodes {
		indeg[id] = len(d.inBlocking[id])
	}

	frontier := make([]ids.BeadID, 0)
	for id, deg := range indeg {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Slice(frontier, func(i, j int) bool { return frontier[i] < frontier[j] })

	order := make([]ids.BeadID, 0, len(d.nodes))
	for len(frontier) > 0 {
		// emit the whole current layer, collecting the next one
		next := make([]ids.BeadID, 0)
		for _, id := range frontier {
			order = append(order, id)
			for succ := range d.outBlocking[id] {
				indeg[succ]--
				if indeg[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		frontier = next
	}

	if len(order) != len(d.nodes) {
		return nil, &Error{Kind: "CycleDetected", Message: "topological sort did not cover all nodes"}
	}
	return order, nil
}

func mergeSorted(a, b []ids.BeadID) []ids.BeadID {
	out := make([]ids.BeadID, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// TraversalOrder selects the visitation order for Traverse.
type TraversalOrder int

const (
	Pre TraversalOrder = iota
	Post
	BFS
	DFS
)

// Visitor is invoked once per node during Traverse.
type Visitor func(ids.BeadID)

// Traverse walks the graph's BlockingDependency edges from its roots
// (in-degree zero nodes, ascending order) in the requested order.
func (d *WorkflowDAG) Traverse(visit Visitor, order TraversalOrder) {
	roots := make([]ids.BeadID, 0)
	for id := range d.nodes {
		if len(d.inBlocking[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	visited := make(map[ids.BeadID]bool, len(d.nodes))

	switch order {
	case BFS:
		queue := append([]ids.BeadID{}, roots...)
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if visited[id] {
				continue
			}
			visited[id] = true
			visit(id)
			children := sortedKeys(d.outBlocking[id])
			queue = append(queue, children...)
		}
	case Post:
		var dfsPost func(ids.BeadID)
		dfsPost = func(id ids.BeadID) {
			if visited[id] {
				return
			}
			visited[id] = true
			for _, c := range sortedKeys(d.outBlocking[id]) {
				dfsPost(c)
			}
			visit(id)
		}
		for _, r := range roots {
			dfsPost(r)
		}
	default: // Pre, DFS
		var dfsPre func(ids.BeadID)
		dfsPre = func(id ids.BeadID) {
			if visited[id] {
				return
			}
			visited[id] = true
			visit(id)
			for _, c := range sortedKeys(d.outBlocking[id]) {
				dfsPre(c)
			}
		}
		for _, r := range roots {
			dfsPre(r)
		}
	}
}

func sortedKeys(m map[ids.BeadID]struct{}) []ids.BeadID {
	out := make([]ids.BeadID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NodeCount returns the number of beads currently in the graph.
func (d *WorkflowDAG) NodeCount() int { return len(d.nodes) }
