// Package actor provides the single-threaded, message-passing actor runtime
// that the Scheduler, Queue, Worker and Reconciler are built on: one
// goroutine per actor draining a bounded mailbox in FIFO order per sender.
package actor

import (
	"context"
	"errors"
	"time"
)

// ErrMailboxFull is returned by Cast/Call when an actor's mailbox is at capacity.
var ErrMailboxFull = errors.New("actor: mailbox full")

// ErrRequestTimeout is returned by Call when the reply does not arrive within the deadline.
var ErrRequestTimeout = errors.New("actor: request timeout")

// ErrStopped is returned when sending to an actor that has already stopped.
var ErrStopped = errors.New("actor: stopped")

// envelope carries a cast message, or a call message plus its one-shot reply port.
type envelope struct {
	msg   any
	reply chan any // nil for casts
}

// Handler processes one message and optionally returns a reply value (used
// only for call envelopes; ignored for casts).
type Handler func(ctx context.Context, msg any) (reply any, err error)

// Ref is a handle to a running actor's mailbox.
type Ref struct {
	mailbox chan envelope
	done    chan struct{}
}

// Cast sends a fire-and-forget message. Returns ErrMailboxFull if the
// mailbox is at capacity, ErrStopped if the actor has exited.
func (r *Ref) Cast(msg any) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}
	select {
	case r.mailbox <- envelope{msg: msg}:
		return nil
	default:
		return ErrMailboxFull
	}
}

// call result pairing a reply value with an error, sent back over the reply channel.
type result struct {
	val any
	err error
}

// Call sends a request and blocks for a reply or until timeout elapses.
func (r *Ref) Call(ctx context.Context, msg any, timeout time.Duration) (any, error) {
	reply := make(chan any, 1)
	select {
	case <-r.done:
		return nil, ErrStopped
	default:
	}
	select {
	case r.mailbox <- envelope{msg: msg, reply: reply}:
	default:
		return nil, ErrMailboxFull
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case v := <-reply:
		res := v.(result)
		return res.val, res.err
	case <-ctx.Done():
		return nil, ErrRequestTimeout
	case <-r.done:
		return nil, ErrStopped
	}
}

// Actor is a single-threaded cooperative message loop. CancellationToken is
// checked on each iteration: a message already dequeued always completes,
// but the next message is never dequeued after cancellation.
type Actor struct {
	ref     *Ref
	handle  Handler
	cancel  *CancellationToken
}

// Spawn starts an actor goroutine with a bounded mailbox of the given
// capacity, running handle for each dequeued message until ctx/token cancels.
func Spawn(ctx context.Context, capacity int, token *CancellationToken, handle Handler) *Ref {
	ref := &Ref{mailbox: make(chan envelope, capacity), done: make(chan struct{})}
	a := &Actor{ref: ref, handle: handle, cancel: token}
	go a.loop(ctx)
	return ref
}

func (a *Actor) loop(ctx context.Context) {
	defer close(a.ref.done)
	for {
		if a.cancel != nil && a.cancel.Cancelled() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-a.cancel.doneChan():
			return
		case env := <-a.ref.mailbox:
			val, err := a.handle(ctx, env.msg)
			if env.reply != nil {
				env.reply <- result{val: val, err: err}
			}
		}
	}
}
