// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server is the multi-link role: every accepted connection gets its own
// bus, and all of them share the server's handlers, serializer and timeout.
type Server struct {
	opts     options
	requests *requestRegistry
	events   *eventRegistry
	log      *zap.Logger

	mu      sync.RWMutex
	tracked map[*Bus]struct{}
}

// NewServer returns a server with no connections.
func NewServer(opts ...Option) *Server {
	s := &Server{
		opts:     newOptions(opts),
		requests: newRequestRegistry(),
		events:   newEventRegistry(),
		tracked:  make(map[*Bus]struct{}),
	}
	s.log = s.opts.log.Named("server")
	return s
}

// Logger returns the server's logger. Transports accepting connections for
// the server log through it.
func (s *Server) Logger() *zap.Logger { return s.log }

// OnRequest registers fn for application requests under key on every
// connection, present and future.
func (s *Server) OnRequest(key string, fn RequestFunc, md ...Metadata) {
	s.requests.Set(key, RequestHandler{Callback: fn, Metadata: firstMetadata(md)})
}

// OnEvent registers fn for application events under key on every
// connection, present and future.
func (s *Server) OnEvent(key string, fn EventFunc) {
	s.events.Set(key, fn)
}

// Connect builds a bus for a new peer. onReady, when non-nil, runs before
// the factory so the caller can attach state to the bus. The returned bus
// is started and tracked until it stops.
func (s *Server) Connect(ctx context.Context, factory Factory, onReady func(*Bus)) (*Bus, error) {
	o := s.opts
	o.hooks = s.composeHooks(s.opts.hooks)
	b := newBus(factory, o, s.requests, s.events)
	b.onLost = func(b *Bus) {
		if err := b.Stop(); err != nil {
			b.log.Debug("stop after link loss failed", zap.Error(err))
		}
	}

	if onReady != nil {
		onReady(b)
	}
	if err := b.Start(ctx); err != nil {
		return nil, err
	}
	if s.opts.sayHello {
		if err := b.Hello(); err != nil {
			b.log.Warn("hello failed", zap.Error(err))
		}
	}
	return b, nil
}

// composeHooks runs the server's own bookkeeping first, then the external
// hooks. External failures are logged and never reach the bookkeeping.
func (s *Server) composeHooks(external Hooks) Hooks {
	return Hooks{
		Register: func(b *Bus) error {
			s.track(b)
			if external.Register != nil {
				if err := external.Register(b); err != nil {
					s.log.Warn("register hook failed", zap.String("bus", b.ID()), zap.Error(err))
				}
			}
			return nil
		},
		Unregister: func(b *Bus) error {
			s.untrack(b)
			if external.Unregister != nil {
				if err := external.Unregister(b); err != nil {
					s.log.Warn("unregister hook failed", zap.String("bus", b.ID()), zap.Error(err))
				}
			}
			return nil
		},
	}
}

func (s *Server) track(b *Bus) {
	s.mu.Lock()
	_, dup := s.tracked[b]
	s.tracked[b] = struct{}{}
	s.mu.Unlock()
	if !dup {
		s.opts.metrics.connectionsAdd(1)
	}
}

func (s *Server) untrack(b *Bus) {
	s.mu.Lock()
	_, ok := s.tracked[b]
	delete(s.tracked, b)
	s.mu.Unlock()
	if ok {
		s.opts.metrics.connectionsAdd(-1)
	}
}

// Connections returns a snapshot of the tracked buses.
func (s *Server) Connections() []*Bus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Bus, 0, len(s.tracked))
	for b := range s.tracked {
		out = append(out, b)
	}
	return out
}

// Len returns the number of tracked buses.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracked)
}

// WillDie sends the terminate notice to every tracked connection.
func (s *Server) WillDie() error {
	var errs []error
	for _, b := range s.Connections() {
		if err := b.WillDie(); err != nil {
			errs = append(errs, fmt.Errorf("bus %s: %w", b.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Close notifies every peer and stops all tracked buses concurrently.
func (s *Server) Close(ctx context.Context) error {
	notifyErr := s.WillDie()

	g, _ := errgroup.WithContext(ctx)
	for _, b := range s.Connections() {
		g.Go(b.Stop)
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			s.log.Debug("stopping connections failed", zap.Error(err))
		}
		return errors.Join(notifyErr, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}
