package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/otel"

	"github.com/lprior-repo/oya-sub008/internal/events"
	"github.com/lprior-repo/oya-sub008/internal/ids"
)

type demoState struct {
	Counter int    `json:"counter"`
	Label   string `json:"label"`
}

func TestFrameRoundTrip(t *testing.T) {
	raw := []byte(`{"counter":42,"label":"hello"}`)
	frame, err := encodeFrame(raw, zstd.SpeedDefault)
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	if len(frame) < 12 {
		t.Fatalf("frame too short: %d bytes", len(frame))
	}
	got, err := decodeFrame(frame)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if string(got) != string(raw) {
		t.Fatalf("round-trip mismatch: got %q want %q", got, raw)
	}
}

func TestDecodeFrameRejectsBadMagic(t *testing.T) {
	bad := make([]byte, 20)
	if _, err := decodeFrame(bad); err != ErrBadMagic {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestDecodeFrameRejectsUnsupportedVersion(t *testing.T) {
	frame, err := encodeFrame([]byte("x"), zstd.SpeedDefault)
	if err != nil {
		t.Fatal(err)
	}
	frame[8] = 0xFF // corrupt the version field
	_, err = decodeFrame(frame)
	if _, ok := err.(*ErrUnsupportedVersion); !ok {
		t.Fatalf("err = %v, want *ErrUnsupportedVersion", err)
	}
}

func TestCreateAndRestoreRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "checkpoints.db")
	meter := otel.GetMeterProvider().Meter("test")
	store, err := Open(dbPath, zstd.SpeedDefault, meter)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	defer os.Remove(dbPath)

	workflowID := ids.NewWorkflowID()
	state := demoState{Counter: 7, Label: "checkpoint"}

	cp, err := store.Create(context.Background(), workflowID, ids.NewEventID(), state)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	latest, ok, err := store.Latest(context.Background(), workflowID)
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	if latest.CheckpointID != cp.CheckpointID {
		t.Fatalf("latest checkpoint id = %v, want %v", latest.CheckpointID, cp.CheckpointID)
	}

	var restored demoState
	if err := Restore(latest, &restored); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored != state {
		t.Fatalf("restored = %+v, want %+v", restored, state)
	}
}

func TestReplayTrackerResumesFromProgress(t *testing.T) {
	store := events.NewInMemoryStore()
	wfID := ids.NewWorkflowID()
	bead := ids.NewBeadID()

	id1, _ := store.Append(events.Event{WorkflowID: wfID, BeadID: bead, Kind: events.KindCreated})
	id2, _ := store.Append(events.Event{WorkflowID: wfID, BeadID: bead, Kind: events.KindStarted})

	tracker := NewReplayTracker()
	tracker.Advance(wfID, id1)

	var seen []ids.EventID
	Replay(store, tracker, wfID, "", func(e events.Event) { seen = append(seen, e.EventID) })

	if len(seen) != 1 || seen[0] != id2 {
		t.Fatalf("seen = %v, want only %v (already past %v)", seen, id2, id1)
	}
}
