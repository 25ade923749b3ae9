// Package fanout is the durable publish/subscribe channel used to hand chat
// notifications to receivers that are not connected to the publishing process.
//
// It is backed by Redis Streams: a topic is a stream, a subscription is a
// consumer group on it. Entries stay pending until acknowledged, and pending
// entries that sit idle are claimed again, which gives at-least-once delivery.
package fanout

import (
	"context"
	"errors"
)

var (
	// ErrRejected means the channel refused the payload outright. Retrying
	// the same publish cannot succeed.
	ErrRejected = errors.New("fanout: publish rejected")
	// ErrUnavailable means the broker could not be reached after the
	// client's own retries.
	ErrUnavailable = errors.New("fanout: broker unavailable")
)

// Delivery is one entry received on a subscription.
type Delivery struct {
	ID   string
	Data []byte
	ack  func(ctx context.Context) error
}

func NewDelivery(id string, data []byte, ack func(ctx context.Context) error) Delivery {
	return Delivery{ID: id, Data: data, ack: ack}
}

// Ack confirms processing. Until it succeeds the entry will be redelivered.
func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}
