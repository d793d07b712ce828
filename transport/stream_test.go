// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/luxfi/bus"
)

func echoServer() *bus.Server {
	s := bus.NewServer()
	s.OnRequest("echo", func(_ context.Context, data any, _ *bus.Bus) (any, error) {
		return data, nil
	})
	return s
}

func startClient(t testing.TB, ctx context.Context, f bus.Factory, opts ...bus.Option) *bus.Client {
	t.Helper()
	c := bus.NewClient(f, opts...)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { c.Stop() })
	return c
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	for _, msg := range []string{"a", "hello world", string(make([]byte, 70000))} {
		if err := WriteFrame(&buf, []byte(msg)); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	for _, want := range []int{1, 11, 70000} {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if len(got) != want {
			t.Errorf("got %d bytes, want %d", len(got), want)
		}
	}
}

func TestFrameLimits(t *testing.T) {
	if err := WriteFrame(&bytes.Buffer{}, nil); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("empty write: got %v, want ErrEmptyFrame", err)
	}

	oversized := []byte{0xff, 0xff, 0xff, 0xff}
	if _, err := ReadFrame(bytes.NewReader(oversized)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("oversized read: got %v, want ErrFrameTooLarge", err)
	}

	empty := []byte{0, 0, 0, 0}
	if _, err := ReadFrame(bytes.NewReader(empty)); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("empty read: got %v, want ErrEmptyFrame", err)
	}
}

func TestTCPRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := echoServer()
	go ServeListener(ctx, ln, s)

	c := startClient(t, ctx, TCP(ln.Addr().String()))

	got, err := c.Request(ctx, "echo", "hello world")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got != "hello world" {
		t.Errorf("got %v, want %q", got, "hello world")
	}
}

func TestMemRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	name := "bus-test-mem"
	ln, err := ListenMem(name)
	if err != nil {
		t.Fatalf("ListenMem: %v", err)
	}
	s := echoServer()
	go ServeListener(ctx, ln, s)

	c := startClient(t, ctx, Mem(name))
	got, err := c.Request(ctx, "echo", 42)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got != float64(42) {
		t.Errorf("got %v (%T), want 42", got, got)
	}
}

func TestUnixRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "bus.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	s := echoServer()
	go ServeListener(ctx, ln, s)

	c := startClient(t, ctx, Unix(path))
	got, err := c.Request(ctx, "echo", "over unix")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got != "over unix" {
		t.Errorf("got %v, want %q", got, "over unix")
	}
}

func TestStreamServerStopsOnDisconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := echoServer()
	go ServeListener(ctx, ln, s)

	c := startClient(t, ctx, TCP(ln.Addr().String()))
	if _, err := c.Request(ctx, "echo", "x"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("tracked %d connections, want 1", s.Len())
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitFor(t, func() bool { return s.Len() == 0 })
}

func TestAcceptedFactoryStartsOnce(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	f := Accepted(a)
	if _, err := f(context.Background(), nil); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := f(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("second start: got %v, want ErrClosed", err)
	}
}

func waitFor(t testing.TB, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func BenchmarkTCPRoundTrip(b *testing.B) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatalf("Listen: %v", err)
	}
	go ServeListener(ctx, ln, echoServer())

	c := startClient(b, ctx, TCP(ln.Addr().String()))
	payload := string(make([]byte, 1024))

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := c.Request(ctx, "echo", payload); err != nil {
			b.Fatal(err)
		}
	}
}
