// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"net/http"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/bus"
	"github.com/luxfi/bus/internal/config"
	"github.com/luxfi/bus/jsonrpc"
	"github.com/luxfi/bus/transport"
)

const shutdownTimeout = 5 * time.Second

// Keys answered by every busctl server.
const (
	KeyEcho      = "echo"
	KeyPeers     = "peers"
	KeyLog       = "log"
	KeyBroadcast = "broadcast"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a bus server on the listen url",
		Long: `Run a bus server on the listen url until SIGINT or SIGTERM.

Every server answers the "echo" and "peers" requests, logs "log" events and
relays "broadcast" events to every other connected peer. With --gateway the
same handlers are reachable through JSON-RPC over HTTP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			n, err := newNode(a.cfg, a.log, reg)
			if err != nil {
				return err
			}
			ctx, cancel := NotifyOnSignal(cmd.Context(), a.log, n.server.WillDie, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return n.run(ctx)
		},
	}
}

// node is a busctl server: the bus server plus its optional HTTP surfaces.
type node struct {
	cfg    *config.Config
	log    *zap.Logger
	reg    *prometheus.Registry
	server *bus.Server
}

func newNode(cfg *config.Config, log *zap.Logger, reg *prometheus.Registry) (*node, error) {
	m, err := bus.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Options(log, m)
	if err != nil {
		return nil, err
	}
	n := &node{
		cfg:    cfg,
		log:    log,
		reg:    reg,
		server: bus.NewServer(opts...),
	}
	n.register()
	return n, nil
}

func (n *node) register() {
	n.server.OnRequest(KeyEcho, func(_ context.Context, data any, _ *bus.Bus) (any, error) {
		return data, nil
	})
	n.server.OnRequest(KeyPeers, func(context.Context, any, *bus.Bus) (any, error) {
		return n.server.Len(), nil
	})
	n.server.OnEvent(KeyLog, func(data any, b *bus.Bus) {
		n.log.Info("peer event", zap.String("bus", b.ID()), zap.Any("data", data))
	})
	n.server.OnEvent(KeyBroadcast, func(data any, from *bus.Bus) {
		for _, b := range n.server.Connections() {
			if b == from {
				continue
			}
			if err := b.Event(KeyBroadcast, data); err != nil {
				n.log.Debug("broadcast failed", zap.String("bus", b.ID()), zap.Error(err))
			}
		}
	})
}

// run serves until ctx is done, then stops every peer.
func (n *node) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return transport.Serve(gctx, n.cfg.Listen, n.server)
	})
	if n.cfg.Gateway != "" {
		h, err := n.gateway(gctx)
		if err != nil {
			return err
		}
		g.Go(func() error { return serveHTTP(gctx, n.log, "gateway", n.cfg.Gateway, h) })
	}
	if n.cfg.Metrics != "" {
		h := promhttp.HandlerFor(n.reg, promhttp.HandlerOpts{})
		g.Go(func() error { return serveHTTP(gctx, n.log, "metrics", n.cfg.Metrics, h) })
	}

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Peers that already left cannot be told; that is not a serve failure.
	if closeErr := n.server.Close(closeCtx); closeErr != nil {
		n.log.Warn("closing connections", zap.Error(closeErr))
	}
	return err
}

// gateway links a local client to the server through a pipe and exposes it
// over JSON-RPC, so HTTP callers reach the server's handlers.
func (n *node) gateway(ctx context.Context) (http.Handler, error) {
	clientEnd, serverEnd := transport.Pipe()
	if _, err := n.server.Connect(ctx, serverEnd, nil); err != nil {
		return nil, err
	}
	opts, err := n.cfg.Options(n.log.Named("gateway"), nil)
	if err != nil {
		return nil, err
	}
	local := bus.NewClient(clientEnd, opts...)
	if err := local.Start(ctx); err != nil {
		return nil, err
	}
	return jsonrpc.NewHandler(local, n.log)
}

func serveHTTP(ctx context.Context, log *zap.Logger, name, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	log.Info("serving "+name, zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
