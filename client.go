// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Client is the single-link role: it owns one bus for its whole lifetime,
// across restarts, and may reconnect by itself when the link is lost.
type Client struct {
	*Bus

	requests     *requestRegistry
	events       *eventRegistry
	sayHello     bool
	restartDelay time.Duration
}

// NewClient returns a client that opens its link through factory on Start.
func NewClient(factory Factory, opts ...Option) *Client {
	o := newOptions(opts)
	c := &Client{
		requests:     newRequestRegistry(),
		events:       newEventRegistry(),
		sayHello:     o.sayHello,
		restartDelay: o.restartDelay,
	}
	c.Bus = newBus(factory, o, c.requests, c.events)
	c.Bus.afterStart = c.afterStart
	c.Bus.onLost = c.onLost
	return c
}

// OnRequest registers fn for application requests under key. md is attached
// to every reply fn produces.
func (c *Client) OnRequest(key string, fn RequestFunc, md ...Metadata) {
	c.requests.Set(key, RequestHandler{Callback: fn, Metadata: firstMetadata(md)})
}

// OnEvent registers fn for application events under key.
func (c *Client) OnEvent(key string, fn EventFunc) {
	c.events.Set(key, fn)
}

// MaybeRestart waits the restart delay and restarts the bus, unless the
// delay is zero or the bus is stopped explicitly meanwhile. It blocks until
// the restart completes or ctx is done.
func (c *Client) MaybeRestart(ctx context.Context) error {
	if c.restartDelay <= 0 || c.Stopped() {
		return nil
	}
	select {
	case <-c.clock.After(c.restartDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	c.log.Info("restarting", zap.Duration("delay", c.restartDelay))
	return c.resume(ctx)
}

func (c *Client) afterStart(_ context.Context, b *Bus) {
	if !c.sayHello {
		return
	}
	if err := b.Hello(); err != nil {
		b.log.Warn("hello failed", zap.Error(err))
	}
}

func (c *Client) onLost(b *Bus) {
	if c.restartDelay <= 0 {
		return
	}
	go func() {
		for {
			err := c.MaybeRestart(context.Background())
			if err == nil {
				return
			}
			b.log.Warn("restart failed", zap.Error(err))
		}
	}()
}
