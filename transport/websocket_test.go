// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/luxfi/bus"
)

func TestWebSocketRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := echoServer()
	ts := httptest.NewServer(WebSocketHandler(s))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	c := startClient(t, ctx, WebSocket(url, nil))

	got, err := c.Request(ctx, "echo", "over websocket")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got != "over websocket" {
		t.Errorf("got %v, want %q", got, "over websocket")
	}

	// Text frames are selected per message.
	got, err = c.Request(ctx, "echo", "as text", bus.Metadata{Transport: WebSocketOptions{Text: true}})
	if err != nil {
		t.Fatalf("Request text: %v", err)
	}
	if got != "as text" {
		t.Errorf("got %v, want %q", got, "as text")
	}
}

func TestWebSocketTerminate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := echoServer()
	ts := httptest.NewServer(WebSocketHandler(s))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	c := startClient(t, ctx, WebSocket(url, nil), bus.WithRestartDelay(10*time.Millisecond))
	if _, err := c.Request(ctx, "echo", "x"); err != nil {
		t.Fatalf("Request: %v", err)
	}

	if err := s.WillDie(); err != nil {
		t.Fatalf("WillDie: %v", err)
	}
	waitFor(t, c.Stopped)
	if c.Started() {
		t.Error("client still started after terminate")
	}
}
