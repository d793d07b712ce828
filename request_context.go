// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luxfi/bus/clock"
)

// RequestContext answers one inbound request. Exactly one answer is ever
// transmitted: the first Answer or Error wins, later calls return
// ErrDoubleAnswer. If a timeout is configured and nobody answers in time,
// the context answers with the failure TimeoutPayload.
type RequestContext struct {
	id      uint64
	channel Channel
	bus     *Bus
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	answered bool
	timer    *clock.Timer
}

func newRequestContext(b *Bus, ch Channel, id uint64, timeout time.Duration) *RequestContext {
	ctx, cancel := context.WithCancel(context.Background())
	rc := &RequestContext{
		id:      id,
		channel: ch,
		bus:     b,
		ctx:     ctx,
		cancel:  cancel,
	}
	if timeout > 0 {
		rc.mu.Lock()
		rc.timer = b.clock.AfterFunc(timeout, rc.expire)
		rc.mu.Unlock()
	}
	return rc
}

// ID returns the correlation id being answered.
func (rc *RequestContext) ID() uint64 { return rc.id }

// Bus returns the bus the request arrived on.
func (rc *RequestContext) Bus() *Bus { return rc.bus }

// Context is cancelled once the request is answered.
func (rc *RequestContext) Context() context.Context { return rc.ctx }

// Answered reports whether a reply has been sent or attempted.
func (rc *RequestContext) Answered() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.answered
}

// Answer replies with a success.
func (rc *RequestContext) Answer(data any, md Metadata) error {
	return rc.reply(true, data, md)
}

// Error replies with a failure. A Go error is logged and sent as its
// message.
func (rc *RequestContext) Error(data any, md Metadata) error {
	if err, ok := data.(error); ok {
		rc.bus.log.Error("request handler failed",
			zap.Uint64("request", rc.id),
			zap.Stringer("channel", rc.channel),
			zap.Error(err),
		)
		data = err.Error()
	}
	return rc.reply(false, data, md)
}

func (rc *RequestContext) reply(ok bool, data any, md Metadata) error {
	rc.mu.Lock()
	if rc.answered {
		rc.mu.Unlock()
		return fmt.Errorf("%w: request %d", ErrDoubleAnswer, rc.id)
	}
	rc.answered = true
	if rc.timer != nil {
		rc.timer.Stop()
		rc.timer = nil
	}
	rc.mu.Unlock()

	defer rc.cancel()
	return rc.bus.send(responseEnvelope(rc.channel, ok, rc.id, data), md)
}

func (rc *RequestContext) expire() {
	err := rc.reply(false, TimeoutPayload, Metadata{})
	if errors.Is(err, ErrDoubleAnswer) {
		return
	}
	rc.bus.metrics.timeout(rc.channel)
	rc.bus.log.Debug("request deadline passed",
		zap.Uint64("request", rc.id),
		zap.Stringer("channel", rc.channel),
		zap.Error(err),
	)
}
