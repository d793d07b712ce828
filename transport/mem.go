// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/akutz/memconn"

	"github.com/luxfi/bus"
)

// memNetwork is memconn's buffered in-process network.
const memNetwork = "memu"

// Mem returns a factory for a peer listening on the in-process address name.
func Mem(name string) bus.Factory {
	return StreamFactory(func(context.Context) (net.Conn, error) {
		conn, err := memconn.Dial(memNetwork, name)
		if err != nil {
			return nil, fmt.Errorf("mem dial %s: %w", name, err)
		}
		return conn, nil
	})
}

// ListenMem listens on the in-process address name.
func ListenMem(name string) (net.Listener, error) {
	ln, err := memconn.Listen(memNetwork, name)
	if err != nil {
		return nil, fmt.Errorf("mem listen %s: %w", name, err)
	}
	return ln, nil
}
