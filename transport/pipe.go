// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"sync"

	"github.com/luxfi/bus"
)

// Pipe returns the two ends of an in-process link. Frames are copied and
// delivered asynchronously, in order, on one goroutine per end. Each end
// may be restarted; a frame sent while the other end is not started fails
// with ErrClosed. Closing one end reports a lost link to the other.
func Pipe() (bus.Factory, bus.Factory) {
	a, b := &pipeSide{}, &pipeSide{}
	return a.factory(b), b.factory(a)
}

type pipeSide struct {
	mu  sync.Mutex
	cur *pipeConn
}

func (s *pipeSide) current() *pipeConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *pipeSide) clear(c *pipeConn) {
	s.mu.Lock()
	if s.cur == c {
		s.cur = nil
	}
	s.mu.Unlock()
}

func (s *pipeSide) factory(peer *pipeSide) bus.Factory {
	return func(_ context.Context, b *bus.Bus) (bus.Conn, error) {
		c := &pipeConn{bus: b, self: s, peer: peer}
		c.cond = sync.NewCond(&c.mu)

		s.mu.Lock()
		old := s.cur
		s.cur = c
		s.mu.Unlock()
		if old != nil {
			old.shutdown()
		}
		return c, nil
	}
}

type pipeItem struct {
	data []byte
	lost bool
}

type pipeConn struct {
	bus  *bus.Bus
	self *pipeSide
	peer *pipeSide

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []pipeItem
	closed bool
}

func (c *pipeConn) Receive() { go c.deliver() }

func (c *pipeConn) Send(data []byte, _ any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	dst := c.peer.current()
	if dst == nil || !dst.push(pipeItem{data: append([]byte(nil), data...)}) {
		return ErrClosed
	}
	return nil
}

func (c *pipeConn) Close() error {
	if !c.shutdown() {
		return nil
	}
	c.self.clear(c)
	if dst := c.peer.current(); dst != nil {
		dst.push(pipeItem{lost: true})
	}
	return nil
}

// shutdown marks c closed and reports whether this call did it.
func (c *pipeConn) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.queue = nil
	c.cond.Broadcast()
	return true
}

func (c *pipeConn) push(it pipeItem) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.queue = append(c.queue, it)
	c.cond.Signal()
	return true
}

func (c *pipeConn) deliver() {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		it := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if it.lost {
			c.bus.Disconnected(c)
			continue
		}
		c.bus.OnMessage(it.data)
	}
}
