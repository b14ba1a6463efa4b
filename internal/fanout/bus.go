// Package fanout relays room events between coordinator instances over the
// shared store's pub/sub channels.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gridwire/gridwire/internal/store"
	"go.uber.org/zap"
)

// envelope wraps a room event with the publishing instance's id. The origin
// tag is internal wiring and is never forwarded to clients.
type envelope struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// Bus publishes locally-originated events and re-broadcasts events received
// from other instances. Local connections are notified synchronously by the
// session handler before publishing, so the bus drops its own publications
// when the transport echoes them back.
type Bus struct {
	store      store.Store
	instanceID string
	log        *zap.Logger
}

// NewBus wires a bus for one instance.
func NewBus(st store.Store, instanceID string, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{store: st, instanceID: instanceID, log: log}
}

// InstanceID returns the origin tag this bus publishes under.
func (b *Bus) InstanceID() string {
	return b.instanceID
}

// Publish sends an already-encoded room event to the room channel.
func (b *Bus) Publish(ctx context.Context, roomID string, event []byte) error {
	payload, err := json.Marshal(envelope{Origin: b.instanceID, Event: event})
	if err != nil {
		return fmt.Errorf("marshal fanout envelope: %w", err)
	}
	if err := b.store.Publish(ctx, roomID, payload); err != nil {
		return fmt.Errorf("publish room %s: %w", roomID, err)
	}
	return nil
}

// Run subscribes to all room channels and invokes deliver for every remote
// event until ctx is cancelled. Deliver receives the bare event with the
// origin tag stripped.
func (b *Bus) Run(ctx context.Context, deliver func(roomID string, event []byte)) error {
	events, err := b.store.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe fanout: %w", err)
	}
	b.log.Info("fanout bus subscribed", zap.String("instance_id", b.instanceID))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal(ev.Payload, &env); err != nil {
				b.log.Warn("dropping malformed fanout envelope",
					zap.String("room_id", ev.RoomID), zap.Error(err))
				continue
			}
			if env.Origin == b.instanceID {
				// Our own publication echoed back; local connections
				// were already notified.
				continue
			}
			deliver(ev.RoomID, env.Event)
		}
	}
}
