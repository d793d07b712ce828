// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jsonrpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/rpc/v2/json2"

	"github.com/luxfi/bus"
	"github.com/luxfi/bus/transport"
)

func newGateway(t *testing.T, opts ...bus.Option) (*Client, chan any) {
	t.Helper()
	ctx := context.Background()

	backend := bus.NewServer(opts...)
	backend.OnRequest("echo", func(_ context.Context, data any, _ *bus.Bus) (any, error) {
		return data, nil
	})
	backend.OnRequest("fail", func(context.Context, any, *bus.Bus) (any, error) {
		return nil, bus.Fail(map[string]any{"reason": "boom"})
	})
	events := make(chan any, 1)
	backend.OnEvent("note", func(data any, _ *bus.Bus) { events <- data })

	clientEnd, serverEnd := transport.Pipe()
	if _, err := backend.Connect(ctx, serverEnd, nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c := bus.NewClient(clientEnd, opts...)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { c.Stop() })

	h, err := NewHandler(c, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	gw, err := NewClient(ts.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return gw, events
}

func TestGatewayRequest(t *testing.T) {
	gw, _ := newGateway(t)
	got, err := gw.Request(context.Background(), "echo", "through http")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got != "through http" {
		t.Errorf("got %v, want %q", got, "through http")
	}
}

func TestGatewayRemoteFailure(t *testing.T) {
	gw, _ := newGateway(t)
	_, err := gw.Request(context.Background(), "fail", nil)

	var rpcErr *json2.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("got %v, want *json2.Error", err)
	}
	if rpcErr.Code != CodeRemote {
		t.Errorf("code = %d, want %d", rpcErr.Code, CodeRemote)
	}
	data, ok := rpcErr.Data.(map[string]any)
	if !ok || data["reason"] != "boom" {
		t.Errorf("data = %#v", rpcErr.Data)
	}
}

func TestGatewayTimeout(t *testing.T) {
	gw, _ := newGateway(t, bus.WithTimeout(20*time.Millisecond))
	_, err := gw.Request(context.Background(), "unknown-key", nil)

	var rpcErr *json2.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeTimeout {
		t.Fatalf("got %v, want timeout error", err)
	}
}

func TestGatewayEventAndPing(t *testing.T) {
	gw, events := newGateway(t)
	ctx := context.Background()

	if err := gw.Event(ctx, "note", "hi"); err != nil {
		t.Fatalf("Event: %v", err)
	}
	select {
	case v := <-events:
		if v != "hi" {
			t.Errorf("got %v, want hi", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event not delivered")
	}

	if _, err := gw.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestCallSendsHeadersAndQuery(t *testing.T) {
	var (
		gotHeader string
		gotQuery  string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("peer")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","result":{"data":1},"id":1}`))
	}))
	defer ts.Close()

	u, _ := url.Parse(ts.URL)
	var reply RequestReply
	err := Call(context.Background(), u, "Bus.Request", &RequestArgs{Key: "k"}, &reply,
		WithHeader("Authorization", "Bearer token"),
		WithQueryParam("peer", "alpha"),
	)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotHeader != "Bearer token" || gotQuery != "alpha" {
		t.Errorf("header %q query %q", gotHeader, gotQuery)
	}
	if reply.Data != float64(1) {
		t.Errorf("data = %v", reply.Data)
	}
}

func TestCallStatusError(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	u, _ := url.Parse(ts.URL)
	if err := Call(context.Background(), u, "Bus.Ping", &PingArgs{}, &PingReply{}); err == nil {
		t.Fatal("expected an error for a 502")
	}
	if hits.Load() != 1 {
		t.Errorf("gateway hit %d times, want 1", hits.Load())
	}
}

func TestCallRetriesUnavailableBus(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if hits.Add(1) == 1 {
			w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32002,"message":"bus: not started"},"id":1}`))
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","result":{"rtt":5},"id":1}`))
	}))
	defer ts.Close()

	u, _ := url.Parse(ts.URL)
	var reply PingReply
	if err := Call(context.Background(), u, "Bus.Ping", &PingArgs{}, &reply); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if hits.Load() != 2 || reply.RTT != 5 {
		t.Errorf("hits %d rtt %v, want 2 and 5ns", hits.Load(), reply.RTT)
	}
}

func TestCallDoesNotRetryRemoteFailure(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32000,"message":"nope"},"id":1}`))
	}))
	defer ts.Close()

	u, _ := url.Parse(ts.URL)
	err := Call(context.Background(), u, "Bus.Request", &RequestArgs{Key: "k"}, &RequestReply{}, WithRetries(5))
	var rpcErr *json2.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeRemote {
		t.Fatalf("got %v, want remote failure", err)
	}
	if hits.Load() != 1 {
		t.Errorf("gateway hit %d times, want 1", hits.Load())
	}
}

func TestCallGivesUpOnUnreachableGateway(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	u, _ := url.Parse(ts.URL)
	ts.Close()

	err := Call(context.Background(), u, "Bus.Ping", &PingArgs{}, &PingReply{}, WithRetries(1))
	if err == nil || !retryable(err) {
		t.Fatalf("got %v, want a retryable connection error", err)
	}
}
