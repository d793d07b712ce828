// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/luxfi/bus"
)

// WebSocketOptions may be passed as Metadata.Transport on websocket links.
type WebSocketOptions struct {
	// Text sends the frame as a text message instead of a binary one.
	Text bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketConn links a bus to a websocket. One websocket message carries
// one frame.
type WebSocketConn struct {
	conn    *websocket.Conn
	bus     *bus.Bus
	writeMu sync.Mutex
	closed  atomic.Bool
	receive sync.Once
}

func newWebSocketConn(conn *websocket.Conn, b *bus.Bus) *WebSocketConn {
	conn.SetReadLimit(MaxFrameSize)
	return &WebSocketConn{conn: conn, bus: b}
}

func (w *WebSocketConn) Send(data []byte, opts any) error {
	if w.closed.Load() {
		return ErrClosed
	}
	kind := websocket.BinaryMessage
	switch o := opts.(type) {
	case WebSocketOptions:
		if o.Text {
			kind = websocket.TextMessage
		}
	case *WebSocketOptions:
		if o != nil && o.Text {
			kind = websocket.TextMessage
		}
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := w.conn.WriteMessage(kind, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (w *WebSocketConn) Receive() {
	w.receive.Do(func() { go w.readLoop() })
}

// Close sends a close message and closes the socket.
func (w *WebSocketConn) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.writeMu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()
	return w.conn.Close()
}

func (w *WebSocketConn) readLoop() {
	for {
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			if !w.closed.Load() {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					w.bus.Logger().Debug("websocket read failed", zap.Error(err))
				}
				w.bus.Disconnected(w)
			}
			return
		}
		w.bus.OnMessage(msg)
	}
}

// WebSocket returns a factory dialing url on every start. Pair it with
// bus.WithRestartDelay to reconnect after the server goes away.
func WebSocket(url string, header http.Header) bus.Factory {
	return func(ctx context.Context, b *bus.Bus) (bus.Conn, error) {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("websocket dial %s: %w", url, err)
		}
		return newWebSocketConn(conn, b), nil
	}
}

// WebSocketHandler upgrades every request and connects the socket to s.
func WebSocketHandler(s *bus.Server) http.Handler {
	log := s.Logger()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		var used atomic.Bool
		factory := func(_ context.Context, b *bus.Bus) (bus.Conn, error) {
			if used.Swap(true) {
				return nil, ErrClosed
			}
			return newWebSocketConn(conn, b), nil
		}
		b, err := s.Connect(r.Context(), factory, nil)
		if err != nil {
			log.Warn("connect failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			conn.Close()
			return
		}
		log.Debug("websocket peer connected",
			zap.String("bus", b.ID()),
			zap.String("remote", r.RemoteAddr),
		)
	})
}

// ServeWebSocket serves WebSocketHandler on addr at path until ctx is done.
func ServeWebSocket(ctx context.Context, addr, path string, s *bus.Server) error {
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.Handle(path, WebSocketHandler(s))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.Logger().Info("serving websocket", zap.String("addr", addr), zap.String("path", path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
