// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// outcome settles one pending request.
type outcome struct {
	ok   bool
	data any
	err  error
}

// reqrsp pairs outgoing requests with their responses and turns inbound
// requests into request contexts. There is one per channel per bus.
type reqrsp struct {
	bus      *Bus
	channel  Channel
	seq      *Sequence
	dispatch requestDispatcher

	mu      sync.Mutex
	pending map[uint64]chan outcome
}

func newReqRsp(b *Bus, ch Channel, dispatch requestDispatcher) *reqrsp {
	return &reqrsp{
		bus:      b,
		channel:  ch,
		seq:      NewSequence(0),
		dispatch: dispatch,
		pending:  make(map[uint64]chan outcome),
	}
}

// request sends key/data and waits for the matching response. There is no
// deadline on this side beyond ctx: the remote request context answers with
// TimeoutPayload if its handler stalls.
func (r *reqrsp) request(ctx context.Context, key string, data any, md Metadata) (any, error) {
	id := r.seq.Next()
	done := make(chan outcome, 1)

	r.mu.Lock()
	r.pending[id] = done
	r.mu.Unlock()
	r.bus.metrics.pendingAdd(1)

	if err := r.bus.send(requestEnvelope(r.channel, id, key, data), md); err != nil {
		r.forget(id)
		return nil, err
	}

	select {
	case res := <-done:
		switch {
		case res.err != nil:
			return nil, res.err
		case !res.ok:
			return nil, &RemoteError{Value: res.data}
		}
		return res.data, nil
	case <-ctx.Done():
		r.forget(id)
		return nil, ctx.Err()
	}
}

func (r *reqrsp) forget(id uint64) {
	r.mu.Lock()
	_, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()
	if ok {
		r.bus.metrics.pendingAdd(-1)
	}
}

// onResponse settles the pending request named by env.ID. Responses nobody
// waits for are logged and dropped.
func (r *reqrsp) onResponse(env Envelope) {
	r.mu.Lock()
	done, ok := r.pending[env.ID]
	delete(r.pending, env.ID)
	r.mu.Unlock()

	if !ok {
		r.bus.metrics.unmatched(r.channel)
		r.bus.log.Warn("no pending request for response",
			zap.Uint64("request", env.ID),
			zap.Stringer("channel", r.channel),
		)
		return
	}
	r.bus.metrics.pendingAdd(-1)
	done <- outcome{ok: env.OK, data: env.Data}
}

// onRequest hands an inbound request to its handler on a new goroutine so
// that a handler waiting on another request cannot stall the transport.
func (r *reqrsp) onRequest(env Envelope) {
	rc := newRequestContext(r.bus, r.channel, env.ID, r.bus.timeout)
	go r.dispatch(env.Key, env.Data, rc)
}

// abandon fails every pending request with err.
func (r *reqrsp) abandon(err error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[uint64]chan outcome)
	r.mu.Unlock()

	for _, done := range pending {
		done <- outcome{err: err}
	}
	r.bus.metrics.pendingAdd(-float64(len(pending)))
}
