package dag

import (
	"testing"

	"github.com/lprior-repo/oya-sub008/internal/ids"
)

func TestLinearWorkflowReadiness(t *testing.T) {
	wf := ids.NewWorkflowID()
	g := New(wf)
	a, b, c := ids.NewBeadID(), ids.NewBeadID(), ids.NewBeadID()
	for _, id := range []ids.BeadID{a, b, c} {
		if err := g.AddNode(id); err != nil {
			t.Fatalf("AddNode(%s): %v", id, err)
		}
	}
	if err := g.AddDependency(a, b, BlockingDependency); err != nil {
		t.Fatalf("AddDependency a->b: %v", err)
	}
	if err := g.AddDependency(b, c, BlockingDependency); err != nil {
		t.Fatalf("AddDependency b->c: %v", err)
	}

	if got := g.ReadyBeads(); len(got) != 1 || got[0] != a {
		t.Fatalf("ready after create = %v, want [%s]", got, a)
	}
	if err := g.MarkCompleted(a); err != nil {
		t.Fatalf("MarkCompleted(a): %v", err)
	}
	if got := g.ReadyBeads(); len(got) != 1 || got[0] != b {
		t.Fatalf("ready after complete(a) = %v, want [%s]", got, b)
	}
	if err := g.MarkCompleted(b); err != nil {
		t.Fatalf("MarkCompleted(b): %v", err)
	}
	if got := g.ReadyBeads(); len(got) != 1 || got[0] != c {
		t.Fatalf("ready after complete(b) = %v, want [%s]", got, c)
	}
	if err := g.MarkCompleted(c); err != nil {
		t.Fatalf("MarkCompleted(c): %v", err)
	}
	if got := g.ReadyBeads(); len(got) != 0 {
		t.Fatalf("ready after complete(c) = %v, want empty", got)
	}
}

func TestDiamondReadinessTieBreak(t *testing.T) {
	g := New(ids.NewWorkflowID())
	// deliberately construct ids so b < c lexicographically for the tie-break check
	a := ids.BeadID("01AAAAAAAAAAAAAAAAAAAAAAAA")
	b := ids.BeadID("01BBBBBBBBBBBBBBBBBBBBBBBB")
	c := ids.BeadID("01CCCCCCCCCCCCCCCCCCCCCCCC")
	d := ids.BeadID("01DDDDDDDDDDDDDDDDDDDDDDDD")
	for _, id := range []ids.BeadID{a, b, c, d} {
		if err := g.AddNode(id); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	mustAdd := func(from, to ids.BeadID) {
		if err := g.AddDependency(from, to, BlockingDependency); err != nil {
			t.Fatalf("AddDependency(%s,%s): %v", from, to, err)
		}
	}
	mustAdd(a, b)
	mustAdd(a, c)
	mustAdd(b, d)
	mustAdd(c, d)

	if got := g.ReadyBeads(); len(got) != 1 || got[0] != a {
		t.Fatalf("initial ready = %v, want [%s]", got, a)
	}
	if err := g.MarkCompleted(a); err != nil {
		t.Fatal(err)
	}
	got := g.ReadyBeads()
	if len(got) != 2 || got[0] != b || got[1] != c {
		t.Fatalf("ready after complete(a) = %v, want [%s %s]", got, b, c)
	}
	if err := g.MarkCompleted(b); err != nil {
		t.Fatal(err)
	}
	if err := g.MarkCompleted(c); err != nil {
		t.Fatal(err)
	}
	if got := g.ReadyBeads(); len(got) != 1 || got[0] != d {
		t.Fatalf("ready after both complete = %v, want [%s]", got, d)
	}
}

func TestSelfLoopRejected(t *testing.T) {
	g := New(ids.NewWorkflowID())
	x := ids.NewBeadID()
	if err := g.AddNode(x); err != nil {
		t.Fatal(err)
	}
	err := g.AddDependency(x, x, BlockingDependency)
	derr, ok := err.(*Error)
	if !ok || derr.Kind != "SelfLoop" {
		t.Fatalf("AddDependency(x,x) err = %v, want SelfLoop", err)
	}
	if g.NodeCount() != 1 {
		t.Fatalf("graph mutated after rejected self-loop")
	}
}

func TestCycleDetected(t *testing.T) {
	g := New(ids.NewWorkflowID())
	a, b, c := ids.NewBeadID(), ids.NewBeadID(), ids.NewBeadID()
	for _, id := range []ids.BeadID{a, b, c} {
		if err := g.AddNode(id); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.AddDependency(a, b, BlockingDependency); err != nil {
		t.Fatal(err)
	}
	if err := g.AddDependency(b, c, BlockingDependency); err != nil {
		t.Fatal(err)
	}
	err := g.AddDependency(c, a, BlockingDependency)
	derr, ok := err.(*Error)
	if !ok || derr.Kind != "CycleDetected" {
		t.Fatalf("AddDependency(c,a) err = %v, want CycleDetected", err)
	}
	if len(derr.Cycle) == 0 {
		t.Fatalf("CycleDetected error carries no cycle path")
	}
	// edge must not have been applied
	if _, ok := g.outBlocking[c][a]; ok {
		t.Fatalf("cyclic edge was applied despite rejection")
	}
}

func TestTopologicalOrderRespectsEdges(t *testing.T) {
	g := New(ids.NewWorkflowID())
	a, b, c := ids.NewBeadID(), ids.NewBeadID(), ids.NewBeadID()
	for _, id := range []ids.BeadID{a, b, c} {
		if err := g.AddNode(id); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.AddDependency(a, b, BlockingDependency); err != nil {
		t.Fatal(err)
	}
	if err := g.AddDependency(b, c, BlockingDependency); err != nil {
		t.Fatal(err)
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}
	pos := map[ids.BeadID]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos[a] >= pos[b] || pos[b] >= pos[c] {
		t.Fatalf("order %v does not respect a->b->c", order)
	}
}

func TestBuilderAbortsOnError(t *testing.T) {
	g := New(ids.NewWorkflowID())
	x := ids.NewBeadID()
	if err := g.AddNode(x); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder(g)
	y := ids.NewBeadID()
	b.AddNode(y).AddDependency(y, y, BlockingDependency) // self-loop: must abort whole build

	if err := b.Build(); err == nil {
		t.Fatalf("Build() succeeded despite invalid self-loop")
	}
	if g.NodeCount() != 1 {
		t.Fatalf("Build() partially applied on failure: node count = %d, want 1", g.NodeCount())
	}
}
