package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/lprior-repo/oya-sub008/internal/actor"
)

func TestMeltdownAfterMaxRestartsPlusOne(t *testing.T) {
	root := actor.NewCancellationToken()
	cfg := DefaultConfig()
	cfg.MaxRestarts = 3
	cfg.Window = 60 * time.Second
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond

	meter := otel.GetMeterProvider().Meter("test")
	sup := New("test-sup", cfg, root, meter)

	var starts int32
	spec := ChildSpec{
		Name: "flaky",
		Start: func(ctx context.Context, token *actor.CancellationToken) error {
			atomic.AddInt32(&starts, 1)
			return nil
		},
	}

	if err := sup.Spawn(context.Background(), spec); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	// Simulate MaxRestarts+1 = 4 failures within the window.
	for i := 0; i < cfg.MaxRestarts+1; i++ {
		sup.ReportFailure(context.Background(), "flaky", errors.New("boom"))
	}

	if got := sup.State(); got != Meltdown {
		t.Fatalf("state after %d failures = %s, want meltdown", cfg.MaxRestarts+1, got)
	}
}

func TestBackoffMonotonicUpToMax(t *testing.T) {
	max := 1 * time.Second
	prev := time.Duration(0)
	for n := 0; n < 10; n++ {
		d := Backoff(n, 10*time.Millisecond, 2.0, max)
		if d > max {
			t.Fatalf("Backoff(%d) = %v exceeds max %v", n, d, max)
		}
		// jitter adds under 20% and the multiplier doubles the base, so a
		// delay never drops below the previous one; once capped it stays at max.
		if d < prev {
			t.Fatalf("Backoff(%d) = %v is below Backoff(%d) = %v", n, d, n-1, prev)
		}
		prev = d
	}
}
