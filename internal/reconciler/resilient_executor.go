package reconciler

import (
	"context"
	"time"

	"github.com/lprior-repo/oya-sub008/internal/resilience"
)

// ResilientExecutor wraps an ActionExecutor with bounded retry, so a
// transient failure executing a single Action (e.g. a dispatch queue push
// that races a restart) does not leave the reconciler permanently out of
// sync with a bead it believed it had already acted on.
type ResilientExecutor struct {
	inner   ActionExecutor
	retries int
	backoff time.Duration
}

// NewResilientExecutor wraps inner, calling its Execute at most retries times
// in total (the first attempt included) with exponential backoff starting at
// backoff between attempts.
func NewResilientExecutor(inner ActionExecutor, retries int, backoff time.Duration) *ResilientExecutor {
	return &ResilientExecutor{inner: inner, retries: retries, backoff: backoff}
}

func (e *ResilientExecutor) Execute(ctx context.Context, action Action) error {
	_, err := resilience.Retry(ctx, e.retries, e.backoff, func() (struct{}, error) {
		return struct{}{}, e.inner.Execute(ctx, action)
	})
	return err
}
