package queue

import (
	"testing"

	"github.com/lprior-repo/oya-sub008/internal/ids"
)

func TestFIFOOrder(t *testing.T) {
	q := New(FIFO, 0)
	a, b := ids.NewBeadID(), ids.NewBeadID()
	if err := q.Enqueue(a, 0); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(b, 0); err != nil {
		t.Fatal(err)
	}
	got, ok := q.Dequeue()
	if !ok || got != a {
		t.Fatalf("first dequeue = %v, want %v", got, a)
	}
	got, ok = q.Dequeue()
	if !ok || got != b {
		t.Fatalf("second dequeue = %v, want %v", got, b)
	}
}

func TestPriorityTieBreakByEnqueueOrder(t *testing.T) {
	q := New(Priority, 0)
	a, b := ids.NewBeadID(), ids.NewBeadID()
	if err := q.Enqueue(a, 5); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(b, 5); err != nil {
		t.Fatal(err)
	}
	got, _ := q.Dequeue()
	if got != a {
		t.Fatalf("tie-break dequeue = %v, want %v (enqueued first)", got, a)
	}
}

func TestBackpressureWhenFull(t *testing.T) {
	q := New(FIFO, 1)
	if err := q.Enqueue(ids.NewBeadID(), 0); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ids.NewBeadID(), 0); err != ErrBackpressure {
		t.Fatalf("Enqueue on full queue = %v, want ErrBackpressure", err)
	}
}
