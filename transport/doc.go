// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport provides bus factories and acceptors.
//
// # Schemes
//
//	tcp://host:port          length-prefixed frames over TCP (default)
//	unix:///path/to.sock     the same over a unix socket
//	mem://name               the same over an in-process memconn listener
//	ws://host:port/path      one websocket message per frame
//	wss://host:port/path     dial only
//	grpc://host:port         bidi stream bus.Link/Pipe with a raw codec
//	redis://host:port/0?inbox=a&outbox=b
//	                         pub/sub channel pair, one peer per pair
//
// Dial resolves an address into a bus.Factory for a client; Serve accepts
// peers for a bus.Server. Pipe links two buses inside one process without
// any network.
//
// Every conn here implements bus.Receiver: inbound frames are delivered
// only once the bus has installed the conn. A read failure on a live conn
// is reported with bus.Bus.Disconnected.
package transport
