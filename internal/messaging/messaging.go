// Package messaging implements DurableChannel: request/response/notification
// envelopes recorded in a DeliveryTracker before handoff, with delivery
// tracking and resend of undelivered envelopes via Recover. The tracker is
// in-memory, so envelopes are not kept across a process restart.
package messaging

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lprior-repo/oya-sub008/internal/idempotency"
	"github.com/lprior-repo/oya-sub008/internal/ids"
)

// MessageKind tags the envelope variant.
type MessageKind int

const (
	Request MessageKind = iota
	Response
	Notification
)

func (k MessageKind) String() string {
	switch k {
	case Request:
		return "request"
	case Response:
		return "response"
	case Notification:
		return "notification"
	default:
		return "unknown"
	}
}

// DeliveryMode controls the durability/dedup contract for a channel.
type DeliveryMode int

const (
	// AtLeastOnce is the default: undelivered envelopes are replayed after a
	// restart and may be observed more than once by the recipient.
	AtLeastOnce DeliveryMode = iota
	// AtMostOnce never replays; an undelivered envelope after a crash is lost.
	AtMostOnce
	// ExactlyOnce is approximate: AtLeastOnce delivery plus idempotency-key
	// deduplication at the recipient.
	ExactlyOnce
)

// DeliveryStatus is an envelope's current delivery state.
type DeliveryStatus int

const (
	Pending DeliveryStatus = iota
	Delivered
	Failed
)

// Envelope is one persisted outbound message.
type Envelope struct {
	MessageID ids.MessageID
	ChannelID ids.ChannelID
	Kind      MessageKind
	Payload   map[string]any
	Status    DeliveryStatus
	CreatedAt time.Time

	idempotencyKey idempotency.Key
}

// DeliveryTracker records the delivery status of every envelope handed to a
// channel, independent of the channel's own queue, so Recover can find every
// Pending envelope. Envelopes are held in memory only: the tracker does not
// survive a process restart, so Recover resends only what this process's
// tracker still holds.
type DeliveryTracker struct {
	mu        sync.Mutex
	envelopes map[ids.MessageID]*Envelope
}

// NewDeliveryTracker constructs an empty tracker.
func NewDeliveryTracker() *DeliveryTracker {
	return &DeliveryTracker{envelopes: make(map[ids.MessageID]*Envelope)}
}

func (t *DeliveryTracker) record(e *Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.envelopes[e.MessageID] = e
}

func (t *DeliveryTracker) markStatus(id ids.MessageID, status DeliveryStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.envelopes[id]; ok {
		e.Status = status
	}
}

// Undelivered returns every envelope still Pending, oldest first.
func (t *DeliveryTracker) Undelivered() []*Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Envelope, 0)
	for _, e := range t.envelopes {
		if e.Status == Pending {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Transport delivers one envelope to its destination; channels are transport
// agnostic collaborators, matching the spec's framing of IPC as an external
// concern.
type Transport interface {
	Send(ctx context.Context, e Envelope) error
}

// DurableChannel persists every outbound Message as an Envelope before
// handoff and tracks its delivery status.
type DurableChannel struct {
	id        ids.ChannelID
	mode      DeliveryMode
	tracker   *DeliveryTracker
	transport Transport

	mu      sync.Mutex
	seenIdx idempotency.Index

	tracer       trace.Tracer
	sendCounter  metric.Int64Counter
	dedupCounter metric.Int64Counter
}

// NewDurableChannel constructs a channel in the given DeliveryMode.
func NewDurableChannel(id ids.ChannelID, mode DeliveryMode, tracker *DeliveryTracker, transport Transport, meter metric.Meter) *DurableChannel {
	sendCounter, _ := meter.Int64Counter("oya_messaging_sent_total")
	dedupCounter, _ := meter.Int64Counter("oya_messaging_dedup_total")
	return &DurableChannel{
		id:           id,
		mode:         mode,
		tracker:      tracker,
		transport:    transport,
		seenIdx:      idempotency.NewIndex(),
		tracer:       otel.Tracer("oya-messaging"),
		sendCounter:  sendCounter,
		dedupCounter: dedupCounter,
	}
}

// Send persists env as a Pending Envelope, hands it to the transport, and
// marks it Delivered or Failed depending on the outcome. On ExactlyOnce
// channels a non-empty key already seen by this channel makes Send a no-op
// that returns an empty MessageID; an empty key is never deduplicated.
func (c *DurableChannel) Send(ctx context.Context, kind MessageKind, payload map[string]any, key idempotency.Key) (ids.MessageID, error) {
	ctx, span := c.tracer.Start(ctx, "messaging.send", trace.WithAttributes(
		attribute.String("channel_id", c.id.String()),
		attribute.String("kind", kind.String()),
	))
	defer span.End()

	if c.mode == ExactlyOnce && key != "" {
		c.mu.Lock()
		dup := c.seenIdx.SeenOrMark(key)
		c.mu.Unlock()
		if dup {
			c.dedupCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("channel_id", c.id.String())))
			return "", nil
		}
	}

	env := &Envelope{
		MessageID:      ids.NewMessageID(),
		ChannelID:      c.id,
		Kind:           kind,
		Payload:        payload,
		Status:         Pending,
		CreatedAt:      time.Now(),
		idempotencyKey: key,
	}
	c.tracker.record(env)

	err := c.transport.Send(ctx, *env)
	if err != nil {
		c.tracker.markStatus(env.MessageID, Failed)
		return env.MessageID, fmt.Errorf("send envelope %s: %w", env.MessageID, err)
	}

	if c.mode != AtMostOnce {
		c.tracker.markStatus(env.MessageID, Delivered)
	} else {
		// AtMostOnce never replays; mark delivered immediately regardless of
		// outcome semantics beyond the transport call above.
		c.tracker.markStatus(env.MessageID, Delivered)
	}
	c.sendCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("channel_id", c.id.String())))
	return env.MessageID, nil
}

// Recover resends every Pending envelope the tracker knows about, used after
// a restart for AtLeastOnce/ExactlyOnce channels.
func (c *DurableChannel) Recover(ctx context.Context) error {
	if c.mode == AtMostOnce {
		return nil
	}
	for _, env := range c.tracker.Undelivered() {
		if env.ChannelID != c.id {
			continue
		}
		if err := c.transport.Send(ctx, *env); err != nil {
			c.tracker.markStatus(env.MessageID, Failed)
			return fmt.Errorf("recover envelope %s: %w", env.MessageID, err)
		}
		c.tracker.markStatus(env.MessageID, Delivered)
	}
	return nil
}
