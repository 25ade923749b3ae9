package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chat-relay/internal/fanout"

	"github.com/rs/zerolog"
)

// Subscriber is the consuming side of the durable fan-out channel.
type Subscriber interface {
	Subscribe(ctx context.Context, subscription string) (<-chan fanout.Delivery, error)
}

// Consumer turns fan-out envelopes into stored notifications and pushes them
// to receivers that happen to be connected to this process.
type Consumer struct {
	store        Store
	subscriber   Subscriber
	registry     *Registry
	subscription string
	log          zerolog.Logger
}

func NewConsumer(store Store, subscriber Subscriber, registry *Registry, subscription string, log zerolog.Logger) *Consumer {
	return &Consumer{
		store:        store,
		subscriber:   subscriber,
		registry:     registry,
		subscription: subscription,
		log:          log.With().Str("component", "consumer").Str("subscription", subscription).Logger(),
	}
}

// Run processes deliveries until ctx is cancelled or the subscription ends.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.subscriber.Subscribe(ctx, c.subscription)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.subscription, err)
	}
	c.log.Info().Msg("notification consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := c.Handle(ctx, d); err != nil {
				c.log.Error().Err(err).Str("entry_id", d.ID).Msg("envelope left unacknowledged for redelivery")
			}
		}
	}
}

// Handle processes one delivery. It acknowledges only after the notification
// is stored; any returned error leaves the delivery pending so the channel
// redelivers it. A delivery whose notification already exists is acked and
// not pushed a second time.
func (c *Consumer) Handle(ctx context.Context, d fanout.Delivery) error {
	log := c.log.With().Str("entry_id", d.ID).Logger()

	var env Envelope
	if err := json.Unmarshal(d.Data, &env); err != nil || env.ReceiverID == "" {
		// Redelivering a payload that can never decode would loop forever.
		log.Warn().Err(err).Msg("dropping undecodable envelope")
		if ackErr := d.Ack(ctx); ackErr != nil {
			return fmt.Errorf("ack: %w", ackErr)
		}
		return nil
	}

	n := &Notification{
		SenderID:   env.SenderID,
		ReceiverID: env.ReceiverID,
		Content:    env.Content,
		Image:      env.Image,
		CreatedAt:  env.Timestamp,
		SourceRef:  d.ID,
	}
	err := c.store.SaveNotification(ctx, n)
	duplicate := errors.Is(err, ErrDuplicate)
	if err != nil && !duplicate {
		return fmt.Errorf("%w: save notification: %w", ErrPersistence, err)
	}

	if err := d.Ack(ctx); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	if duplicate {
		log.Debug().Msg("envelope already processed")
		return nil
	}

	c.pushLocal(log, env)
	return nil
}

func (c *Consumer) pushLocal(log zerolog.Logger, env Envelope) {
	conn, ok := c.registry.Lookup(env.ReceiverID)
	if !ok {
		return
	}

	payload, err := json.Marshal(ReceiveMessage{
		Type:      FrameReceiveMessage,
		SenderID:  env.SenderID,
		Content:   env.Content,
		Image:     env.Image,
		Timestamp: env.Timestamp,
	})
	if err != nil {
		log.Error().Err(err).Msg("encode receiveMessage frame")
		return
	}
	if err := conn.Send(payload); err != nil {
		log.Warn().Err(err).Str("receiver_id", env.ReceiverID).Msg("local push failed")
	}
}
