package projection

import (
	"testing"

	"github.com/lprior-repo/oya-sub008/internal/events"
	"github.com/lprior-repo/oya-sub008/internal/ids"
)

func TestAllBeadsCatchUpIdempotent(t *testing.T) {
	store := events.NewInMemoryStore()
	bead := ids.NewBeadID()
	if _, err := store.Append(events.Event{BeadID: bead, Kind: events.KindCreated, SpecName: "demo"}); err != nil {
		t.Fatalf("append created: %v", err)
	}
	if _, err := store.Append(events.Event{BeadID: bead, Kind: events.KindCompleted}); err != nil {
		t.Fatalf("append completed: %v", err)
	}

	mp := NewManaged[AllBeadsState](AllBeads{})
	mp.CatchUp(store)
	first := mp.State()[bead]
	if first.Status != events.KindCompleted || first.SpecName != "demo" {
		t.Fatalf("unexpected view after first catch-up: %+v", first)
	}

	// Re-running CatchUp with no new events must be a no-op.
	mp.CatchUp(store)
	second := mp.State()[bead]
	if second != first {
		t.Fatalf("catch-up was not idempotent: %+v != %+v", second, first)
	}
}

func TestAllBeadsFoldsStateTransitionTargetNotKind(t *testing.T) {
	store := events.NewInMemoryStore()
	bead := ids.NewBeadID()
	if _, err := store.Append(events.Event{BeadID: bead, Kind: events.KindCreated}); err != nil {
		t.Fatalf("append created: %v", err)
	}
	if _, err := store.Append(events.Event{BeadID: bead, Kind: events.KindStateTransition, From: "pending", To: "ready"}); err != nil {
		t.Fatalf("append state transition: %v", err)
	}

	mp := NewManaged[AllBeadsState](AllBeads{})
	mp.CatchUp(store)
	view := mp.State()[bead]
	if view.Status != "ready" {
		t.Fatalf("status = %q, want %q", view.Status, "ready")
	}
}

func TestAllBeadsFoldsStartedIntoRunning(t *testing.T) {
	store := events.NewInMemoryStore()
	bead := ids.NewBeadID()
	if _, err := store.Append(events.Event{BeadID: bead, Kind: events.KindStarted}); err != nil {
		t.Fatalf("append started: %v", err)
	}

	mp := NewManaged[AllBeadsState](AllBeads{})
	mp.CatchUp(store)
	view := mp.State()[bead]
	if view.Status != "running" {
		t.Fatalf("status = %q, want %q", view.Status, "running")
	}
}
