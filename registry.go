// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Registry maps keys to handlers. Values pass through a hook on the way in;
// setting a key twice replaces the earlier value.
type Registry[In, V any] struct {
	mu    sync.RWMutex
	items map[string]V
	hook  func(In) V
}

// NewRegistry returns a registry storing values as given.
func NewRegistry[V any]() *Registry[V, V] {
	return NewHookRegistry(func(v V) V { return v })
}

// NewHookRegistry returns a registry that stores hook(v) for every Set.
func NewHookRegistry[In, V any](hook func(In) V) *Registry[In, V] {
	return &Registry[In, V]{
		items: make(map[string]V),
		hook:  hook,
	}
}

// Get returns the value stored under key.
func (r *Registry[In, V]) Get(key string) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[key]
	return v, ok
}

// Set stores hook(v) under key.
func (r *Registry[In, V]) Set(key string, v In) {
	stored := r.hook(v)
	r.mu.Lock()
	r.items[key] = stored
	r.mu.Unlock()
}

// Len returns the number of registered keys.
func (r *Registry[In, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// RequestFunc answers a request. ctx is cancelled once the request has been
// answered or its response deadline has passed.
type RequestFunc func(ctx context.Context, data any, b *Bus) (any, error)

// EventFunc handles an event.
type EventFunc func(data any, b *Bus)

// RequestHandler is what a request registry is fed with: the callback and
// the metadata attached to every reply it produces.
type RequestHandler struct {
	Callback RequestFunc
	Metadata Metadata
}

// requestHandler is the stored form of a RequestHandler.
type requestHandler func(data any, rc *RequestContext)

type (
	requestRegistry = Registry[RequestHandler, requestHandler]
	eventRegistry   = Registry[EventFunc, EventFunc]
)

func newRequestRegistry() *requestRegistry {
	return NewHookRegistry(wrapRequest)
}

func newEventRegistry() *eventRegistry {
	return NewRegistry[EventFunc]()
}

// wrapRequest turns a callback into a handler that answers its request
// context exactly once, whatever the callback does.
func wrapRequest(h RequestHandler) requestHandler {
	return func(data any, rc *RequestContext) {
		result, err := invoke(h.Callback, rc, data)
		var resp *Response
		switch {
		case err != nil && errors.As(err, &resp):
			if resp == nil {
				err = rc.Error(nil, h.Metadata)
			} else {
				err = rc.Error(resp.Value, h.Metadata.Merge(resp.Metadata))
			}
		case err != nil:
			err = rc.Error(err, h.Metadata)
		default:
			if r, ok := result.(*Response); ok {
				if r == nil {
					err = rc.Answer(nil, h.Metadata)
				} else {
					err = rc.Answer(r.Value, h.Metadata.Merge(r.Metadata))
				}
			} else {
				err = rc.Answer(result, h.Metadata)
			}
		}
		if err != nil {
			rc.bus.log.Debug("reply not delivered",
				zap.Uint64("request", rc.id),
				zap.Error(err),
			)
		}
	}
}

func invoke(fn RequestFunc, rc *RequestContext, data any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			rc.bus.metrics.panicked(rc.channel, KindRequest)
			err = fmt.Errorf("bus: request handler panicked: %v", r)
		}
	}()
	return fn(rc.Context(), data, rc.bus)
}

type requestDispatcher func(key string, data any, rc *RequestContext)

// newRequestDispatcher routes a request to its handler. Unknown keys are
// logged and dropped; the request context's deadline answers the caller.
func newRequestDispatcher(reg *requestRegistry, log *zap.Logger, m *Metrics) requestDispatcher {
	return func(key string, data any, rc *RequestContext) {
		h, ok := reg.Get(key)
		if !ok {
			m.unhandled(rc.channel, KindRequest)
			log.Warn("no request handler",
				zap.String("key", key),
				zap.Stringer("channel", rc.channel),
				zap.Uint64("request", rc.id),
			)
			return
		}
		h(data, rc)
	}
}

type eventDispatcher func(key string, data any, b *Bus)

func newEventDispatcher(reg *eventRegistry, ch Channel, log *zap.Logger, m *Metrics) eventDispatcher {
	return func(key string, data any, b *Bus) {
		h, ok := reg.Get(key)
		if !ok {
			m.unhandled(ch, KindEvent)
			log.Warn("no event handler",
				zap.String("key", key),
				zap.Stringer("channel", ch),
			)
			return
		}
		notify(h, key, ch, data, b, log, m)
	}
}

// notify runs an event handler on the transport's read goroutine. A panic
// is logged and the link keeps routing.
func notify(h EventFunc, key string, ch Channel, data any, b *Bus, log *zap.Logger, m *Metrics) {
	defer func() {
		if r := recover(); r != nil {
			m.panicked(ch, KindEvent)
			log.Error("event handler panicked",
				zap.String("key", key),
				zap.Stringer("channel", ch),
				zap.Any("panic", r),
			)
		}
	}()
	h(data, b)
}
