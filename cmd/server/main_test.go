package main

import (
	"testing"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/fanout"

	"github.com/stretchr/testify/require"
)

func TestFanoutOptions(t *testing.T) {
	got := fanoutOptions(config.FanoutConfig{
		Topic:         "notifications-topic",
		Subscription:  "chat-notifications-sub",
		Block:         5 * time.Second,
		ClaimMinIdle:  30 * time.Second,
		ClaimInterval: 15 * time.Second,
		BatchSize:     16,
		MaxLen:        100000,
	})

	require.Equal(t, fanout.Options{
		Topic:         "notifications-topic",
		Block:         5 * time.Second,
		ClaimMinIdle:  30 * time.Second,
		ClaimInterval: 15 * time.Second,
		BatchSize:     16,
		MaxLen:        100000,
	}, got)
}
