package worker

import (
	"context"
	"errors"
	"time"

	"github.com/lprior-repo/oya-sub008/internal/resilience"
)

// ErrCircuitOpen is returned when a ResilientExecutor's breaker is open and
// the underlying executor is not invoked at all.
var ErrCircuitOpen = errors.New("worker: circuit breaker open")

// ResilientExecutor wraps a BeadExecutor with a circuit breaker and bounded
// retry, so a failing downstream dependency degrades into fast failures
// instead of piling up blocked workers.
type ResilientExecutor struct {
	inner   BeadExecutor
	breaker *resilience.CircuitBreaker
	retries int
	backoff time.Duration
}

// NewResilientExecutor wraps inner with an adaptive circuit breaker (a 30s
// rolling window of 6 buckets; opens once at least 5 recorded Executes fail
// at the breaker's failure-rate threshold or higher, half-opens after 10s,
// closes after 3 successful probes) and calls inner at most retries times
// per Execute, the first attempt included, with exponential backoff starting
// at backoff between attempts.
func NewResilientExecutor(inner BeadExecutor, retries int, backoff time.Duration) *ResilientExecutor {
	return &ResilientExecutor{
		inner:   inner,
		breaker: resilience.NewCircuitBreakerAdaptive(30*time.Second, 6, 5, 0.5, 10*time.Second, 3),
		retries: retries,
		backoff: backoff,
	}
}

func (e *ResilientExecutor) Execute(ctx context.Context, spec BeadSpec) (map[string]any, error) {
	if !e.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	out, err := resilience.Retry(ctx, e.retries, e.backoff, func() (map[string]any, error) {
		return e.inner.Execute(ctx, spec)
	})
	e.breaker.RecordResult(err == nil)
	return out, err
}
