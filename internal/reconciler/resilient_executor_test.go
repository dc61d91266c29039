package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"
)

type flakyActionExecutor struct {
	failUntil int
	calls     []Action
}

func (f *flakyActionExecutor) Execute(ctx context.Context, action Action) error {
	f.calls = append(f.calls, action)
	if len(f.calls) <= f.failUntil {
		return errors.New("transient")
	}
	return nil
}

func TestResilientExecutorRetriesTransientFailure(t *testing.T) {
	inner := &flakyActionExecutor{failUntil: 2}
	exec := NewResilientExecutor(inner, 3, time.Millisecond)

	action := Action{Kind: CreateBead}
	if err := exec.Execute(context.Background(), action); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(inner.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(inner.calls))
	}
}

func TestResilientExecutorGivesUpAfterExhaustingRetries(t *testing.T) {
	inner := &flakyActionExecutor{failUntil: 1000}
	exec := NewResilientExecutor(inner, 2, time.Millisecond)

	err := exec.Execute(context.Background(), Action{Kind: StartBead})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if len(inner.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(inner.calls))
	}
}
