package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	defaultChannelPrefix = "artvista:artwork:"
	subscriptionBuffer   = 64
)

// RedisBus publishes events on a per-artwork Redis pub/sub channel and lets
// websocket handlers subscribe to them.
type RedisBus struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBus wraps an existing client. An empty prefix uses the default.
func NewRedisBus(client redis.UniversalClient, prefix string) *RedisBus {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisBus{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel for an artwork.
func (b *RedisBus) Channel(artworkID string) string {
	return b.prefix + artworkID
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.Channel(ev.ArtworkID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (b *RedisBus) Close() error { return nil }

// Subscribe waits for the subscription to be confirmed before returning so
// that events published afterwards are not missed.
func (b *RedisBus) Subscribe(ctx context.Context, artworkID string) (Subscription, error) {
	pubSub := b.client.Subscribe(ctx, b.Channel(artworkID))
	if _, err := pubSub.Receive(ctx); err != nil {
		_ = pubSub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	sub := &redisSubscription{
		pubSub: pubSub,
		out:    make(chan Event, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	pubSub    *redis.PubSub
	out       chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.pubSub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			slog.Warn("drop malformed event", "channel", msg.Channel, "err", err)
			continue
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Events() <-chan Event { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubSub.Close()
	})
	return err
}
