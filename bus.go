// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luxfi/bus/clock"
)

// Reserved internal keys. They live in per-bus registries that application
// handlers cannot reach.
const (
	KeyInitialize = "initialize"
	KeyTerminate  = "terminate"
	KeyPing       = "ping"
)

// Receiver is implemented by conns whose inbound delivery must wait until
// the bus has installed them. Start calls Receive once per link.
type Receiver interface {
	Receive()
}

// Bus is one end of a connection. It owns the link obtained from its
// factory, the request/response state of both channels and its lifecycle
// flags. Handler registries may be shared with other buses.
type Bus struct {
	id         string
	factory    Factory
	serializer Serializer
	hooks      Hooks
	log        *zap.Logger
	clock      clock.Clock
	timeout    time.Duration
	metrics    *Metrics
	onHello    func(*Bus)

	app      *reqrsp
	internal *reqrsp

	appEvents      eventDispatcher
	internalEvents eventDispatcher

	// set by the owning role
	afterStart func(ctx context.Context, b *Bus)
	onLost     func(b *Bus)

	mu       sync.Mutex
	conn     Conn
	starting bool
	started  bool
	stopped  bool
	dying    bool

	extraMu sync.RWMutex
	extra   map[string]any
}

func newBus(factory Factory, o options, requests *requestRegistry, events *eventRegistry) *Bus {
	id := uuid.NewString()
	b := &Bus{
		id:         id,
		factory:    factory,
		serializer: o.serializer,
		hooks:      o.hooks,
		log:        o.log.With(zap.String("bus", id)),
		clock:      o.clock,
		timeout:    o.timeout,
		metrics:    o.metrics,
		onHello:    o.onHello,
		extra:      make(map[string]any),
	}

	internalRequests := newRequestRegistry()
	internalRequests.Set(KeyPing, RequestHandler{
		Callback: func(context.Context, any, *Bus) (any, error) { return nil, nil },
	})
	internalEvents := newEventRegistry()
	internalEvents.Set(KeyInitialize, func(_ any, b *Bus) {
		b.log.Debug("peer said hello")
		if b.onHello != nil {
			b.onHello(b)
		}
	})
	internalEvents.Set(KeyTerminate, func(_ any, b *Bus) {
		b.log.Info("peer is terminating")
		if err := b.Stop(); err != nil {
			b.log.Warn("stop after terminate failed", zap.Error(err))
		}
	})

	b.app = newReqRsp(b, ChannelApplication, newRequestDispatcher(requests, b.log, b.metrics))
	b.internal = newReqRsp(b, ChannelInternal, newRequestDispatcher(internalRequests, b.log, b.metrics))
	b.appEvents = newEventDispatcher(events, ChannelApplication, b.log, b.metrics)
	b.internalEvents = newEventDispatcher(internalEvents, ChannelInternal, b.log, b.metrics)
	return b
}

// ID returns the bus's unique identifier.
func (b *Bus) ID() string { return b.id }

// Logger returns the bus's logger.
func (b *Bus) Logger() *zap.Logger { return b.log }

// Started reports whether the bus holds a live link.
func (b *Bus) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// Stopped reports whether Stop was called and no Start has followed.
func (b *Bus) Stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

// Start opens the link through the factory and registers the bus with its
// hooks. Starting a started bus is logged and ignored.
func (b *Bus) Start(ctx context.Context) error {
	return b.start(ctx, false)
}

// start opens the link. A resuming start backs off when the bus has been
// stopped explicitly, before or while the factory runs.
func (b *Bus) start(ctx context.Context, resume bool) error {
	b.mu.Lock()
	if resume && b.stopped {
		b.mu.Unlock()
		return nil
	}
	if b.started || b.starting {
		b.mu.Unlock()
		b.log.Warn("bus already started")
		return nil
	}
	if b.factory == nil {
		b.mu.Unlock()
		return ErrNoFactory
	}
	b.starting = true
	b.mu.Unlock()

	conn, err := b.factory(ctx, b)

	b.mu.Lock()
	b.starting = false
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("bus: start: %w", err)
	}
	if resume && b.stopped {
		b.mu.Unlock()
		if err := conn.Close(); err != nil {
			b.log.Debug("closing link opened after stop", zap.Error(err))
		}
		return nil
	}
	b.conn = conn
	b.started = true
	b.stopped = false
	b.dying = false
	b.mu.Unlock()

	if b.hooks.Register != nil {
		if err := b.hooks.Register(b); err != nil {
			b.log.Warn("register hook failed", zap.Error(err))
		}
	}
	if r, ok := conn.(Receiver); ok {
		r.Receive()
	}
	b.log.Debug("bus started")
	if b.afterStart != nil {
		b.afterStart(ctx, b)
	}
	return nil
}

// Stop closes the link, unregisters the bus and fails every pending request
// with ErrStopped. It also suppresses reconnects until the next Start.
func (b *Bus) Stop() error {
	return b.halt(true)
}

func (b *Bus) halt(explicit bool) error {
	b.mu.Lock()
	conn := b.conn
	wasStarted := b.started
	b.conn = nil
	b.started = false
	if explicit {
		b.stopped = true
	}
	b.dying = false
	b.mu.Unlock()

	b.app.abandon(ErrStopped)
	b.internal.abandon(ErrStopped)

	if !wasStarted {
		return nil
	}
	if b.hooks.Unregister != nil {
		if err := b.hooks.Unregister(b); err != nil {
			b.log.Warn("unregister hook failed", zap.Error(err))
		}
	}
	b.log.Debug("bus stopped")
	if conn != nil {
		if err := conn.Close(); err != nil {
			return fmt.Errorf("bus: close: %w", err)
		}
	}
	return nil
}

// Restart stops and starts the bus. A failing stop is logged and does not
// prevent the start.
func (b *Bus) Restart(ctx context.Context) error {
	if err := b.halt(false); err != nil {
		b.log.Warn("stop during restart failed", zap.Error(err))
	}
	return b.Start(ctx)
}

// resume restarts a lost link unless the bus is stopped explicitly at any
// point before the new link is installed.
func (b *Bus) resume(ctx context.Context) error {
	if err := b.halt(false); err != nil {
		b.log.Warn("stop during restart failed", zap.Error(err))
	}
	return b.start(ctx, true)
}

// Disconnected is called by transports when the link c has been lost.
// Reports about a link the bus no longer holds are ignored.
func (b *Bus) Disconnected(c Conn) {
	b.mu.Lock()
	current := b.started && b.conn == c
	b.mu.Unlock()
	if !current {
		return
	}
	b.log.Info("link lost")
	if b.onLost != nil {
		b.onLost(b)
	}
}

// OnMessage decodes one inbound frame and routes it. Transports call it in
// arrival order. Undecodable frames are logged and dropped.
func (b *Bus) OnMessage(data []byte) {
	env, err := b.serializer.Deserialize(data)
	if err != nil {
		b.log.Warn("dropping undecodable frame",
			zap.Int("size", len(data)),
			zap.Error(err),
		)
		return
	}
	b.metrics.received(env.Type)

	switch env.Type {
	case MsgRequestInternal:
		b.internal.onRequest(env)
	case MsgRequest:
		b.app.onRequest(env)
	case MsgResponseInternal:
		b.internal.onResponse(env)
	case MsgResponse:
		b.app.onResponse(env)
	case MsgEventInternal:
		b.internalEvents(env.Key, env.Data, b)
	case MsgEvent:
		b.appEvents(env.Key, env.Data, b)
	default:
		b.log.Warn("dropping unknown message type", zap.Stringer("type", env.Type))
	}
}

// Request sends an application request and waits for its response. A
// failure answer is returned as *RemoteError. Only the first md is used.
func (b *Bus) Request(ctx context.Context, key string, data any, md ...Metadata) (any, error) {
	return b.app.request(ctx, key, data, firstMetadata(md))
}

// Event sends an application event. Only the first md is used.
func (b *Bus) Event(key string, data any, md ...Metadata) error {
	return b.send(eventEnvelope(ChannelApplication, key, data), firstMetadata(md))
}

// Hello tells the peer this side is ready.
func (b *Bus) Hello() error {
	return b.send(eventEnvelope(ChannelInternal, KeyInitialize, nil), Metadata{})
}

// Ping measures one internal round trip.
func (b *Bus) Ping(ctx context.Context) (time.Duration, error) {
	start := b.clock.Now()
	if _, err := b.internal.request(ctx, KeyPing, nil, Metadata{}); err != nil {
		return 0, err
	}
	return b.clock.Now().Sub(start), nil
}

// WillDie notifies the peer that this side is about to go away so that it
// can stop without waiting for the transport to fail. Only the first call
// per start sends anything.
func (b *Bus) WillDie() error {
	b.mu.Lock()
	if b.dying {
		b.mu.Unlock()
		return nil
	}
	b.dying = true
	b.mu.Unlock()

	if err := b.send(eventEnvelope(ChannelInternal, KeyTerminate, nil), Metadata{}); err != nil {
		b.mu.Lock()
		b.dying = false
		b.mu.Unlock()
		return err
	}
	return nil
}

// SetExtra stores collaborator state on the bus.
func (b *Bus) SetExtra(key string, v any) {
	b.extraMu.Lock()
	b.extra[key] = v
	b.extraMu.Unlock()
}

// Extra returns collaborator state stored with SetExtra.
func (b *Bus) Extra(key string) (any, bool) {
	b.extraMu.RLock()
	defer b.extraMu.RUnlock()
	v, ok := b.extra[key]
	return v, ok
}

func (b *Bus) send(env Envelope, md Metadata) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrNotStarted
	}

	data, err := b.serializer.Serialize(env, md.Serialize)
	if err != nil {
		return fmt.Errorf("bus: serialize %s: %w", env.Type, err)
	}
	if err := conn.Send(data, md.Transport); err != nil {
		return fmt.Errorf("bus: send %s: %w", env.Type, err)
	}
	b.metrics.sent(env.Type)
	return nil
}
