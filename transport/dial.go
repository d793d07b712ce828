// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/luxfi/bus"
)

var (
	ErrUnknownScheme = errors.New("transport: unknown scheme")
	ErrCannotServe   = errors.New("transport: scheme cannot serve")
)

// Parse parses a transport address. A bare host:port means tcp.
func Parse(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = DefaultScheme + "://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("transport: parse %q: %w", raw, err)
	}
	return u, nil
}

// Dial resolves raw into a factory for a client bus.
//
//	f, err := transport.Dial("ws://localhost:8080/bus")
//	...
//	c := bus.NewClient(f)
func Dial(raw string) (bus.Factory, error) {
	u, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	s, ok := lookup(u.Scheme)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, u.Scheme)
	}
	return s.dial(u)
}

// Serve accepts peers at raw and connects them to srv until ctx is done.
func Serve(ctx context.Context, raw string, srv *bus.Server) error {
	u, err := Parse(raw)
	if err != nil {
		return err
	}
	s, ok := lookup(u.Scheme)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScheme, u.Scheme)
	}
	if s.serve == nil {
		return fmt.Errorf("%w: %s", ErrCannotServe, u.Scheme)
	}
	return s.serve(ctx, u, srv)
}

func dialTCP(u *url.URL) (bus.Factory, error) { return TCP(u.Host), nil }

func serveTCP(ctx context.Context, u *url.URL, s *bus.Server) error {
	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return fmt.Errorf("tcp listen %s: %w", u.Host, err)
	}
	return ServeListener(ctx, ln, s)
}

func dialUnix(u *url.URL) (bus.Factory, error) { return Unix(u.Path), nil }

func serveUnix(ctx context.Context, u *url.URL, s *bus.Server) error {
	ln, err := net.Listen("unix", u.Path)
	if err != nil {
		return fmt.Errorf("unix listen %s: %w", u.Path, err)
	}
	return ServeListener(ctx, ln, s)
}

func dialMem(u *url.URL) (bus.Factory, error) { return Mem(u.Host), nil }

func serveMem(ctx context.Context, u *url.URL, s *bus.Server) error {
	ln, err := ListenMem(u.Host)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, s)
}

func dialWS(u *url.URL) (bus.Factory, error) { return WebSocket(u.String(), nil), nil }

func serveWS(ctx context.Context, u *url.URL, s *bus.Server) error {
	return ServeWebSocket(ctx, u.Host, u.Path, s)
}

func dialGRPC(u *url.URL) (bus.Factory, error) { return GRPC(u.Host), nil }

func serveGRPC(ctx context.Context, u *url.URL, s *bus.Server) error {
	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", u.Host, err)
	}
	return ServeGRPC(ctx, ln, s)
}

func dialRedis(u *url.URL) (bus.Factory, error) {
	client, inbox, outbox, err := redisFromURL(u)
	if err != nil {
		return nil, err
	}
	return Redis(client, inbox, outbox), nil
}

// serveRedis connects a single peer over the channel pair and holds it
// until ctx is done.
func serveRedis(ctx context.Context, u *url.URL, s *bus.Server) error {
	client, inbox, outbox, err := redisFromURL(u)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	b, err := s.Connect(ctx, Redis(client, inbox, outbox), nil)
	if err != nil {
		return err
	}
	s.Logger().Info("serving redis", zap.String("inbox", inbox), zap.String("outbox", outbox))
	<-ctx.Done()
	return b.Stop()
}
