// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package jsonrpc exposes a bus over JSON-RPC 2.0 on HTTP, for callers that
// cannot speak a bus transport, and provides a client for it.
package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"

	"github.com/luxfi/bus"
)

// ServiceName prefixes every method: Bus.Request, Bus.Event, Bus.Ping.
const ServiceName = "Bus"

// Error codes beyond the JSON-RPC 2.0 set.
const (
	// CodeRemote means the peer answered with a failure; Data holds it.
	CodeRemote json2.ErrorCode = -32000
	// CodeTimeout means the peer did not answer before its deadline.
	CodeTimeout json2.ErrorCode = -32001
	// CodeUnavailable means the bus has no live link.
	CodeUnavailable json2.ErrorCode = -32002
)

// Target is the bus side of the gateway. *bus.Client and *bus.Bus satisfy
// it.
type Target interface {
	Request(ctx context.Context, key string, data any, md ...bus.Metadata) (any, error)
	Event(key string, data any, md ...bus.Metadata) error
	Ping(ctx context.Context) (time.Duration, error)
}

type RequestArgs struct {
	Key  string `json:"key"`
	Data any    `json:"data"`
}

type RequestReply struct {
	Data any `json:"data"`
}

type EventArgs struct {
	Key  string `json:"key"`
	Data any    `json:"data"`
}

type EventReply struct{}

type PingArgs struct{}

type PingReply struct {
	RTT time.Duration `json:"rtt"`
}

// Service relays JSON-RPC calls into a bus.
type Service struct {
	target Target
	log    *zap.Logger
}

// Request forwards a request and returns the peer's answer.
func (s *Service) Request(r *http.Request, args *RequestArgs, reply *RequestReply) error {
	v, err := s.target.Request(r.Context(), args.Key, args.Data)
	if err != nil {
		return s.rpcError("request", args.Key, err)
	}
	reply.Data = v
	return nil
}

// Event forwards an event.
func (s *Service) Event(_ *http.Request, args *EventArgs, _ *EventReply) error {
	if err := s.target.Event(args.Key, args.Data); err != nil {
		return s.rpcError("event", args.Key, err)
	}
	return nil
}

// Ping measures a round trip to the peer.
func (s *Service) Ping(r *http.Request, _ *PingArgs, reply *PingReply) error {
	rtt, err := s.target.Ping(r.Context())
	if err != nil {
		return s.rpcError("ping", "", err)
	}
	reply.RTT = rtt
	return nil
}

func (s *Service) rpcError(op, key string, err error) error {
	s.log.Debug("gateway call failed",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
	var remote *bus.RemoteError
	switch {
	case bus.IsTimeout(err):
		return &json2.Error{Code: CodeTimeout, Message: bus.TimeoutPayload}
	case errors.As(err, &remote):
		return &json2.Error{Code: CodeRemote, Message: fmt.Sprint(remote.Value), Data: remote.Value}
	case errors.Is(err, bus.ErrNotStarted), errors.Is(err, bus.ErrStopped):
		return &json2.Error{Code: CodeUnavailable, Message: err.Error()}
	}
	return &json2.Error{Code: json2.E_SERVER, Message: err.Error()}
}

// NewHandler returns an HTTP handler serving the Bus service for target.
func NewHandler(target Target, log *zap.Logger) (http.Handler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	server := rpc.NewServer()
	codec := json2.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	if err := server.RegisterService(&Service{target: target, log: log}, ServiceName); err != nil {
		return nil, fmt.Errorf("registering %s service: %w", ServiceName, err)
	}
	return server, nil
}
