// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/luxfi/bus"
)

const (
	rawCodecName   = "busraw"
	linkPipeMethod = "/bus.Link/Pipe"
)

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// frame is the message type of the Pipe stream: serialized envelopes are
// carried as they are, without protobuf.
type frame struct {
	data []byte
}

type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*frame)
	if !ok {
		return nil, fmt.Errorf("busraw: cannot marshal %T", v)
	}
	return f.data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*frame)
	if !ok {
		return fmt.Errorf("busraw: cannot unmarshal into %T", v)
	}
	f.data = append(f.data[:0], data...)
	return nil
}

func (rawCodec) Name() string { return rawCodecName }

// linkService is implemented by LinkServer; grpc checks it on registration.
type linkService interface {
	Pipe(grpc.ServerStream) error
}

var linkDesc = grpc.ServiceDesc{
	ServiceName: "bus.Link",
	HandlerType: (*linkService)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName: "Pipe",
		Handler: func(srv any, stream grpc.ServerStream) error {
			return srv.(linkService).Pipe(stream)
		},
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "bus/link",
}

type msgStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

// GRPCConn links a bus to one Pipe stream.
type GRPCConn struct {
	stream  msgStream
	bus     *bus.Bus
	release func() error

	sendMu  sync.Mutex
	closed  atomic.Bool
	receive sync.Once
	done    chan struct{}
}

func newGRPCConn(stream msgStream, b *bus.Bus, release func() error) *GRPCConn {
	return &GRPCConn{
		stream:  stream,
		bus:     b,
		release: release,
		done:    make(chan struct{}),
	}
}

func (g *GRPCConn) Send(data []byte, _ any) error {
	if g.closed.Load() {
		return ErrClosed
	}
	g.sendMu.Lock()
	defer g.sendMu.Unlock()
	if err := g.stream.SendMsg(&frame{data: data}); err != nil {
		return fmt.Errorf("grpc send: %w", err)
	}
	return nil
}

func (g *GRPCConn) Receive() {
	g.receive.Do(func() { go g.readLoop() })
}

// Close ends the stream. On the server side the Pipe handler returns.
func (g *GRPCConn) Close() error {
	if g.closed.Swap(true) {
		return nil
	}
	close(g.done)
	if g.release != nil {
		return g.release()
	}
	return nil
}

func (g *GRPCConn) readLoop() {
	for {
		var f frame
		if err := g.stream.RecvMsg(&f); err != nil {
			if !g.closed.Load() {
				g.bus.Logger().Debug("grpc stream ended", zap.Error(err))
				g.bus.Disconnected(g)
			}
			return
		}
		g.bus.OnMessage(f.data)
	}
}

// GRPC returns a factory opening a Pipe stream to target on every start.
// Without dial options the connection is insecure.
func GRPC(target string, opts ...grpc.DialOption) bus.Factory {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return func(ctx context.Context, b *bus.Bus) (bus.Conn, error) {
		cc, err := grpc.NewClient(target, opts...)
		if err != nil {
			return nil, fmt.Errorf("grpc client %s: %w", target, err)
		}
		// The stream outlives ctx, which only bounds the start.
		streamCtx, cancel := context.WithCancel(context.Background())
		stop := context.AfterFunc(ctx, cancel)
		stream, err := cc.NewStream(streamCtx, &linkDesc.Streams[0], linkPipeMethod,
			grpc.CallContentSubtype(rawCodecName),
		)
		stop()
		if err != nil {
			cancel()
			cc.Close()
			return nil, fmt.Errorf("grpc open stream: %w", err)
		}
		return newGRPCConn(stream, b, func() error {
			_ = stream.CloseSend()
			cancel()
			return cc.Close()
		}), nil
	}
}

// LinkServer accepts Pipe streams and connects each one to a bus server.
type LinkServer struct {
	server *bus.Server
}

// NewLinkServer returns a LinkServer for s.
func NewLinkServer(s *bus.Server) *LinkServer {
	return &LinkServer{server: s}
}

// Register adds the link service to g.
func (l *LinkServer) Register(g *grpc.Server) {
	g.RegisterService(&linkDesc, l)
}

// Pipe serves one stream for as long as its bus holds it.
func (l *LinkServer) Pipe(stream grpc.ServerStream) error {
	var conn *GRPCConn
	factory := func(_ context.Context, b *bus.Bus) (bus.Conn, error) {
		if conn != nil {
			return nil, ErrClosed
		}
		conn = newGRPCConn(stream, b, nil)
		return conn, nil
	}
	b, err := l.server.Connect(stream.Context(), factory, nil)
	if err != nil {
		return err
	}
	select {
	case <-conn.done:
	case <-stream.Context().Done():
		if err := b.Stop(); err != nil {
			b.Logger().Debug("stop after stream end failed", zap.Error(err))
		}
	}
	return nil
}

// ServeGRPC serves the link service on ln until ctx is done.
func ServeGRPC(ctx context.Context, ln net.Listener, s *bus.Server, opts ...grpc.ServerOption) error {
	g := grpc.NewServer(opts...)
	NewLinkServer(s).Register(g)
	stop := context.AfterFunc(ctx, g.Stop)
	defer stop()

	s.Logger().Info("serving grpc", zap.Stringer("addr", ln.Addr()))
	return g.Serve(ln)
}
