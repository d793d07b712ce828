// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"os"
	"os/signal"

	"go.uber.org/zap"
)

// NotifyOnSignal returns a context cancelled after one of signals arrives
// and dying has run. dying is the place to tell peers the process is going
// away, usually Server.WillDie.
func NotifyOnSignal(ctx context.Context, log *zap.Logger, dying func() error, signals ...os.Signal) (context.Context, context.CancelFunc) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	ctx, cancel := watchSignals(ctx, ch, log, dying)
	return ctx, func() {
		signal.Stop(ch)
		cancel()
	}
}

func watchSignals(ctx context.Context, ch <-chan os.Signal, log *zap.Logger, dying func() error) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case sig := <-ch:
			log.Info("shutting down", zap.Stringer("signal", sig))
			if err := dying(); err != nil {
				log.Warn("announcing shutdown", zap.Error(err))
			}
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
