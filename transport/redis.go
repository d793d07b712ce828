// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/luxfi/bus"
)

// RedisConn links a bus to a pair of redis pub/sub channels: frames are
// published on outbox and received from inbox.
type RedisConn struct {
	client *redis.Client
	pubsub *redis.PubSub
	outbox string
	bus    *bus.Bus

	closed  atomic.Bool
	receive sync.Once
}

func (r *RedisConn) Send(data []byte, _ any) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := r.client.Publish(context.Background(), r.outbox, data).Err(); err != nil {
		return fmt.Errorf("publishing to redis: %w", err)
	}
	return nil
}

func (r *RedisConn) Receive() {
	r.receive.Do(func() { go r.readLoop() })
}

// Close unsubscribes. The redis client stays open.
func (r *RedisConn) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.pubsub.Close()
}

func (r *RedisConn) readLoop() {
	for msg := range r.pubsub.Channel() {
		r.bus.OnMessage([]byte(msg.Payload))
	}
	if !r.closed.Load() {
		r.bus.Disconnected(r)
	}
}

// Redis returns a factory subscribing to inbox and publishing to outbox on
// client. The two ends of a link use swapped channel names.
func Redis(client *redis.Client, inbox, outbox string) bus.Factory {
	return func(ctx context.Context, b *bus.Bus) (bus.Conn, error) {
		ps := client.Subscribe(ctx, inbox)
		if _, err := ps.Receive(ctx); err != nil {
			ps.Close()
			return nil, fmt.Errorf("subscribing to %s: %w", inbox, err)
		}
		b.Logger().Debug("redis link open",
			zap.String("inbox", inbox),
			zap.String("outbox", outbox),
		)
		return &RedisConn{
			client: client,
			pubsub: ps,
			outbox: outbox,
			bus:    b,
		}, nil
	}
}

// redisFromURL parses redis://[:password@]host:port[/db]?inbox=a&outbox=b.
func redisFromURL(u *url.URL) (*redis.Client, string, string, error) {
	q := u.Query()
	inbox, outbox := q.Get("inbox"), q.Get("outbox")
	if inbox == "" || outbox == "" {
		return nil, "", "", fmt.Errorf("redis url %q needs inbox and outbox", u.Redacted())
	}
	q.Del("inbox")
	q.Del("outbox")
	stripped := *u
	stripped.RawQuery = q.Encode()

	opts, err := redis.ParseURL(stripped.String())
	if err != nil {
		return nil, "", "", fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), inbox, outbox, nil
}
