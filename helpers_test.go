// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errLinkClosed = errors.New("link closed")

// recordingConn keeps every frame sent through it.
type recordingConn struct {
	mu     sync.Mutex
	frames [][]byte
	opts   []any
	closed int
}

func (r *recordingConn) Send(data []byte, opts any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, data)
	r.opts = append(r.opts, opts)
	return nil
}

func (r *recordingConn) Close() error {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
	return nil
}

func (r *recordingConn) sent(t *testing.T) []Envelope {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, 0, len(r.frames))
	for _, f := range r.frames {
		env, err := JSON.Deserialize(f)
		if err != nil {
			t.Fatalf("Deserialize(%s): %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

func (r *recordingConn) transportOpts() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.opts...)
}

// waitSent polls until n frames have been sent.
func (r *recordingConn) waitSent(t *testing.T, n int) []Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		r.mu.Lock()
		got := len(r.frames)
		r.mu.Unlock()
		if got >= n {
			return r.sent(t)
		}
		if time.Now().After(deadline) {
			t.Fatalf("sent %d frames, want %d", got, n)
		}
		time.Sleep(time.Millisecond)
	}
}

// recordingSerializer is JSON that remembers the options it was given.
type recordingSerializer struct {
	mu   sync.Mutex
	opts []any
}

func (s *recordingSerializer) Serialize(env Envelope, opts any) ([]byte, error) {
	s.mu.Lock()
	s.opts = append(s.opts, opts)
	s.mu.Unlock()
	return JSON.Serialize(env, opts)
}

func (s *recordingSerializer) Deserialize(data []byte) (Envelope, error) {
	return JSON.Deserialize(data)
}

func (s *recordingSerializer) seen() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.opts...)
}

// newRecordedBus returns a started bus whose frames land in the returned
// conn.
func newRecordedBus(t *testing.T, opts ...Option) (*Bus, *recordingConn) {
	t.Helper()
	conn := &recordingConn{}
	factory := func(context.Context, *Bus) (Conn, error) { return conn, nil }
	b := newBus(factory, newOptions(opts), newRequestRegistry(), newEventRegistry())
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return b, conn
}

// loopConn hands frames straight to the peer bus on the sending goroutine.
type loopConn struct {
	mu     sync.Mutex
	peer   *Bus
	closed bool
}

func (l *loopConn) Send(data []byte, _ any) error {
	l.mu.Lock()
	peer, closed := l.peer, l.closed
	l.mu.Unlock()
	if closed || peer == nil {
		return errLinkClosed
	}
	peer.OnMessage(data)
	return nil
}

func (l *loopConn) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// linkedClients returns two started clients wired back to back.
func linkedClients(t *testing.T, opts ...Option) (*Client, *Client) {
	t.Helper()
	var a, b *Client
	a = NewClient(func(context.Context, *Bus) (Conn, error) {
		return &loopConn{peer: b.Bus}, nil
	}, opts...)
	b = NewClient(func(context.Context, *Bus) (Conn, error) {
		return &loopConn{peer: a.Bus}, nil
	}, opts...)
	for _, c := range []*Client{a, b} {
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	t.Cleanup(func() {
		a.Stop()
		b.Stop()
	})
	return a, b
}
