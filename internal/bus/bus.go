package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	nats "github.com/nats-io/nats.go"

	"github.com/lprior-repo/oya-sub008/internal/events"
	"github.com/lprior-repo/oya-sub008/internal/ids"
)

// NatsBus wraps an in-process events.Bus and additionally fans published
// events out over NATS, so subscribers in other processes observe the same
// stream. Local delivery still goes through the wrapped bus directly for
// lowest latency; the NATS round-trip only matters for remote subscribers.
type NatsBus struct {
	local   *events.InProcessBus
	nc      *nats.Conn
	subject string
}

// NewNatsBus connects to the given NATS URL and wraps local as the
// in-process fan-out target for this process's own subscribers.
func NewNatsBus(local *events.InProcessBus, natsURL, subject string) (*NatsBus, error) {
	nc, err := nats.Connect(natsURL, nats.Name("oya-orchestrator"))
	if err != nil {
		return nil, fmt.Errorf("bus: connect nats: %w", err)
	}
	return &NatsBus{local: local, nc: nc, subject: subject}, nil
}

// Close drains the NATS connection.
func (b *NatsBus) Close() { b.nc.Close() }

func (b *NatsBus) Publish(e events.Event) (ids.EventID, error) {
	id, err := b.local.Publish(e)
	if err != nil {
		return "", err
	}
	e.EventID = id
	payload, err := json.Marshal(e)
	if err != nil {
		return id, nil // local publish already succeeded; remote fan-out is best-effort
	}
	if err := publishRaw(context.Background(), b.nc, b.subject, payload); err != nil {
		slog.Warn("bus: nats publish failed", "subject", b.subject, "error", err)
	}
	return id, nil
}

func (b *NatsBus) Subscribe(pattern events.Pattern) *events.Subscription {
	return b.local.Subscribe(pattern)
}

// RemoteIngest subscribes to this process's NATS subject and hands each
// inbound event to sink. It neither publishes into local nor appends to a
// store; what happens to the event is up to sink.
func (b *NatsBus) RemoteIngest(sink func(events.Event)) error {
	_, err := subscribeRaw(b.nc, b.subject, func(ctx context.Context, m *nats.Msg) {
		var e events.Event
		if err := json.Unmarshal(m.Data, &e); err != nil {
			slog.Warn("bus: discarding malformed event", "error", err)
			return
		}
		sink(e)
	})
	return err
}
