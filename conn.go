// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import "context"

// Conn is the live link a transport hands to a bus. Implementations must be
// comparable (pointer types are) so that stale disconnect reports can be
// told apart from the current link.
type Conn interface {
	// Send transmits one serialized envelope. opts is the Transport half
	// of the envelope's Metadata.
	Send(data []byte, opts any) error

	// Close tears the link down. It is called at most once per link and
	// must not wait for the transport's reader to deliver pending data.
	Close() error
}

// Factory opens the transport for b. Inbound frames are delivered with
// b.OnMessage and a lost link is reported with b.Disconnected.
type Factory func(ctx context.Context, b *Bus) (Conn, error)

// Hooks observe buses entering and leaving the started state.
type Hooks struct {
	Register   func(*Bus) error
	Unregister func(*Bus) error
}

// ConnFunc adapts a pair of functions to Conn.
type ConnFunc struct {
	SendFunc  func(data []byte, opts any) error
	CloseFunc func() error
}

func (c *ConnFunc) Send(data []byte, opts any) error { return c.SendFunc(data, opts) }

func (c *ConnFunc) Close() error {
	if c.CloseFunc == nil {
		return nil
	}
	return c.CloseFunc()
}
