// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bus is a symmetric request/response and event bus that runs over
// any transport able to move opaque frames in both directions.
//
// # Roles
//
// Both ends of a link are buses; neither is privileged by the protocol. A
// Client owns one long-lived bus and may reconnect it. A Server creates one
// bus per accepted peer, all sharing the server's handlers.
//
//	c := bus.NewClient(transport.TCP("localhost:9000"),
//	    bus.WithHello(true),
//	    bus.WithRestartDelay(time.Second),
//	)
//	c.OnEvent("price", func(data any, b *bus.Bus) { ... })
//	if err := c.Start(ctx); err != nil {
//	    return err
//	}
//	v, err := c.Request(ctx, "echo", 42)
//
//	s := bus.NewServer()
//	s.OnRequest("echo", func(ctx context.Context, data any, b *bus.Bus) (any, error) {
//	    return data, nil
//	})
//	transport.Serve(ctx, "tcp://:9000", s)
//
// # Wire format
//
// Every frame is one envelope [type, payload], encoded by a Serializer:
//
//	0 internal request   [id, [key, data]]
//	1 request            [id, [key, data]]
//	2 internal response  [ok, id, data]
//	3 response           [ok, id, data]
//	4 event              [key, data]
//	5 internal event     [key, data]
//
// The internal channel carries the bus's own traffic (initialize,
// terminate, ping) in registries application code cannot reach, so
// application keys never collide with it. On the wire internal keys are
// numbers: ping is request 0, initialize and terminate are events 0 and 1.
// Application keys are strings. Each channel has its own correlation ids.
//
// # Answers
//
// Every inbound request gets exactly one answer. A handler's result answers
// with success; a returned error answers with failure, carrying the error's
// message, or a *Response's value when the error is one. Unknown keys are
// not answered at all; the request's deadline (WithTimeout) answers the
// caller with TimeoutPayload instead.
//
// # Architecture
//
//   - envelope.go: message types and the [type, payload] shape
//   - serializer.go, cbor.go, compress.go: envelope encodings
//   - registry.go: key to handler maps and dispatch
//   - request_context.go: exactly-once answers and the response deadline
//   - reqrsp.go: correlation of requests and responses per channel
//   - bus.go: lifecycle and routing of one link
//   - client.go, server.go: the two roles
//   - passthrough.go: relaying keys between buses
//
// Transports live in the transport package, the JSON-RPC gateway in
// jsonrpc and the busctl command in cmd/busctl.
package bus
