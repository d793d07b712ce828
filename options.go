// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"time"

	"go.uber.org/zap"

	"github.com/luxfi/bus/clock"
)

// DefaultTimeout bounds how long a request handler may take before the
// caller receives TimeoutPayload.
const DefaultTimeout = 2500 * time.Millisecond

// Option configures a Client or a Server.
type Option func(*options)

type options struct {
	serializer   Serializer
	timeout      time.Duration
	log          *zap.Logger
	clock        clock.Clock
	hooks        Hooks
	sayHello     bool
	restartDelay time.Duration
	metrics      *Metrics
	onHello      func(*Bus)
}

func newOptions(opts []Option) options {
	o := options{
		serializer: JSON,
		timeout:    DefaultTimeout,
		log:        zap.NewNop(),
		clock:      clock.Real(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithSerializer sets the envelope serializer. Defaults to JSON.
func WithSerializer(s Serializer) Option {
	return func(o *options) { o.serializer = s }
}

// WithTimeout sets the response deadline applied to inbound requests.
// Zero disables the deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithHooks sets callbacks run when a bus starts and stops.
func WithHooks(h Hooks) Option {
	return func(o *options) { o.hooks = h }
}

// WithHello makes every start send the initialize event to the peer.
func WithHello(enabled bool) Option {
	return func(o *options) { o.sayHello = enabled }
}

// WithHelloHandler observes the peer's initialize event.
func WithHelloHandler(fn func(*Bus)) Option {
	return func(o *options) { o.onHello = fn }
}

// WithRestartDelay enables reconnects for clients: after the transport
// reports a lost link, the client waits d and restarts. Zero disables it.
func WithRestartDelay(d time.Duration) Option {
	return func(o *options) { o.restartDelay = d }
}

// WithMetrics records traffic into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}
