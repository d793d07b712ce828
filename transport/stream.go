// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/luxfi/bus"
)

var (
	ErrClosed        = errors.New("transport: connection closed")
	ErrFrameTooLarge = errors.New("transport: frame too large")
	ErrEmptyFrame    = errors.New("transport: empty frame")
)

// MaxFrameSize bounds a single frame on stream transports.
const MaxFrameSize = 64 * 1024 * 1024 // 64MB

const writeTimeout = 30 * time.Second

// WriteFrame writes data prefixed by its length as a big-endian uint32.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyFrame
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	switch {
	case n == 0:
		return nil, ErrEmptyFrame
	case n > MaxFrameSize:
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Stream links a bus to a net.Conn using length-prefixed frames.
type Stream struct {
	conn     net.Conn
	bus      *bus.Bus
	writeMu  sync.Mutex
	closed   atomic.Bool
	receive  sync.Once
	readDone chan struct{}
}

// NewStream wraps conn for b. Frames are delivered to b once the bus calls
// Receive.
func NewStream(conn net.Conn, b *bus.Bus) *Stream {
	return &Stream{
		conn:     conn,
		bus:      b,
		readDone: make(chan struct{}),
	}
}

// Send writes one frame.
func (s *Stream) Send(data []byte, _ any) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := WriteFrame(s.conn, data); err != nil {
		return fmt.Errorf("stream write: %w", err)
	}
	return nil
}

// Receive starts the read loop.
func (s *Stream) Receive() {
	s.receive.Do(func() { go s.readLoop() })
}

// Done is closed once the read loop has exited.
func (s *Stream) Done() <-chan struct{} { return s.readDone }

// Close closes the underlying conn. It does not wait for the read loop.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

func (s *Stream) readLoop() {
	defer close(s.readDone)
	for {
		msg, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				if !errors.Is(err, io.EOF) {
					s.bus.Logger().Debug("stream read failed", zap.Error(err))
				}
				s.bus.Disconnected(s)
			}
			return
		}
		s.bus.OnMessage(msg)
	}
}

// DialFunc opens a fresh net.Conn.
type DialFunc func(ctx context.Context) (net.Conn, error)

// StreamFactory returns a factory that dials a new conn on every start.
func StreamFactory(dial DialFunc) bus.Factory {
	return func(ctx context.Context, b *bus.Bus) (bus.Conn, error) {
		conn, err := dial(ctx)
		if err != nil {
			return nil, err
		}
		return NewStream(conn, b), nil
	}
}

// NetDialer dials network/addr with net.Dialer.
func NetDialer(network, addr string) DialFunc {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, fmt.Errorf("%s dial %s: %w", network, addr, err)
		}
		return conn, nil
	}
}

// TCP returns a factory for a TCP peer.
func TCP(addr string) bus.Factory {
	return StreamFactory(NetDialer("tcp", addr))
}

// Unix returns a factory for a unix socket peer.
func Unix(path string) bus.Factory {
	return StreamFactory(NetDialer("unix", path))
}

// Accepted returns a factory for a conn that is already established. It can
// be started once; later starts fail with ErrClosed.
func Accepted(conn net.Conn) bus.Factory {
	var used atomic.Bool
	return func(_ context.Context, b *bus.Bus) (bus.Conn, error) {
		if used.Swap(true) {
			return nil, ErrClosed
		}
		return NewStream(conn, b), nil
	}
}

// ServeListener accepts connections from ln and connects each one to s
// until ctx is done or ln fails. ln is closed on return.
func ServeListener(ctx context.Context, ln net.Listener, s *bus.Server) error {
	log := s.Logger().With(zap.Stringer("addr", ln.Addr()))
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	log.Info("accepting connections")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			b, err := s.Connect(ctx, Accepted(conn), nil)
			if err != nil {
				log.Warn("connect failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
				conn.Close()
				return
			}
			log.Debug("peer connected",
				zap.String("bus", b.ID()),
				zap.Stringer("remote", conn.RemoteAddr()),
			)
		}()
	}
}
