package fanout

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const payloadField = "data"

type Options struct {
	// Topic is the stream subscriptions read from.
	Topic string
	// Consumer names this process inside the consumer group.
	Consumer      string
	Block         time.Duration
	ClaimMinIdle  time.Duration
	ClaimInterval time.Duration
	BatchSize     int64
	// MaxLen caps the stream length (approximate trimming). Zero disables it.
	MaxLen int64
}

func (o Options) withDefaults() Options {
	if o.Consumer == "" {
		host, _ := os.Hostname()
		o.Consumer = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	if o.Block <= 0 {
		o.Block = 5 * time.Second
	}
	if o.ClaimMinIdle <= 0 {
		o.ClaimMinIdle = 30 * time.Second
	}
	if o.ClaimInterval <= 0 {
		o.ClaimInterval = o.ClaimMinIdle / 2
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 16
	}
	return o
}

type RedisChannel struct {
	rdb  *redis.Client
	opts Options
	log  zerolog.Logger
}

func NewRedisChannel(rdb *redis.Client, opts Options, log zerolog.Logger) *RedisChannel {
	return &RedisChannel{
		rdb:  rdb,
		opts: opts.withDefaults(),
		log:  log.With().Str("component", "fanout").Logger(),
	}
}

// Publish appends data to the topic stream and returns the entry id.
// Network failures are retried by the redis client (MaxRetries with backoff);
// what comes back after that is ErrUnavailable. Errors returned by the
// server itself are ErrRejected.
func (c *RedisChannel) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	if topic == "" || len(data) == 0 {
		return "", fmt.Errorf("%w: empty topic or payload", ErrRejected)
	}

	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: c.opts.MaxLen,
		Approx: c.opts.MaxLen > 0,
		Values: map[string]any{payloadField: data},
	}).Result()
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

func classify(err error) error {
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Subscribe joins (creating if needed) the consumer group named subscription
// and streams its entries until ctx is cancelled. The returned channel is
// closed when the reader stops.
func (c *RedisChannel) Subscribe(ctx context.Context, subscription string) (<-chan Delivery, error) {
	if err := c.ensureGroup(ctx, subscription); err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go c.loop(ctx, subscription, out)
	return out, nil
}

func (c *RedisChannel) ensureGroup(ctx context.Context, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.opts.Topic, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, c.opts.Topic, err)
	}
	return nil
}

func (c *RedisChannel) loop(ctx context.Context, group string, out chan<- Delivery) {
	defer close(out)

	var lastClaim time.Time
	for ctx.Err() == nil {
		if time.Since(lastClaim) >= c.opts.ClaimInterval {
			lastClaim = time.Now()
			claimed, err := c.claim(ctx, group)
			if err != nil && ctx.Err() == nil {
				c.log.Warn().Err(err).Str("group", group).Msg("claim pending entries failed")
			}
			if !c.emit(ctx, group, claimed, out) {
				return
			}
		}

		msgs, err := c.read(ctx, group)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error().Err(err).Str("group", group).Msg("read from stream failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if !c.emit(ctx, group, msgs, out) {
			return
		}
	}
}

func (c *RedisChannel) read(ctx context.Context, group string) ([]redis.XMessage, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: c.opts.Consumer,
		Streams:  []string{c.opts.Topic, ">"},
		Count:    c.opts.BatchSize,
		Block:    c.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// claim takes over entries that were delivered but not acknowledged within
// ClaimMinIdle, whichever consumer originally received them.
func (c *RedisChannel) claim(ctx context.Context, group string) ([]redis.XMessage, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.opts.Topic,
		Group:    group,
		Consumer: c.opts.Consumer,
		MinIdle:  c.opts.ClaimMinIdle,
		Start:    "0-0",
		Count:    c.opts.BatchSize,
	}).Result()
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *RedisChannel) emit(ctx context.Context, group string, msgs []redis.XMessage, out chan<- Delivery) bool {
	for _, msg := range msgs {
		select {
		case out <- c.delivery(group, msg):
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (c *RedisChannel) delivery(group string, msg redis.XMessage) Delivery {
	var data []byte
	switch v := msg.Values[payloadField].(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	}

	id := msg.ID
	return NewDelivery(id, data, func(ctx context.Context) error {
		return c.rdb.XAck(ctx, c.opts.Topic, group, id).Err()
	})
}
