// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Router accepts handler registrations. Client and Server implement it.
type Router interface {
	OnRequest(key string, fn RequestFunc, md ...Metadata)
	OnEvent(key string, fn EventFunc)
}

// Peer sends traffic to one remote side. *Bus and *Client implement it.
type Peer interface {
	Request(ctx context.Context, key string, data any, md ...Metadata) (any, error)
	Event(key string, data any, md ...Metadata) error
}

// PassThroughEvent re-emits every key event arriving at source on dest.
func PassThroughEvent(source Router, dest Peer, key string) {
	source.OnEvent(key, func(data any, b *Bus) {
		if err := dest.Event(key, data); err != nil {
			b.log.Warn("event relay failed", zap.String("key", key), zap.Error(err))
		}
	})
}

// PassThroughRequest answers every key request arriving at source with
// dest's answer to the same request. A failure from dest is relayed as the
// same failure value.
func PassThroughRequest(source Router, dest Peer, key string) {
	source.OnRequest(key, func(ctx context.Context, data any, _ *Bus) (any, error) {
		v, err := dest.Request(ctx, key, data)
		var remote *RemoteError
		if errors.As(err, &remote) {
			return nil, Fail(remote.Value)
		}
		return v, err
	})
}
