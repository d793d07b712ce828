// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luxfi/bus"
	"github.com/luxfi/bus/transport"
)

func newCallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "call KEY [JSON]",
		Short: "Send a request and print the answer",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := parseData(args[1:])
			return a.withClient(cmd.Context(), func(ctx context.Context, c *bus.Client) error {
				reply, err := c.Request(ctx, args[0], data)
				if err != nil {
					return err
				}
				return a.print(reply)
			})
		},
	}
}

func newEmitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "emit KEY [JSON]",
		Short: "Send an event",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := parseData(args[1:])
			return a.withClient(cmd.Context(), func(_ context.Context, c *bus.Client) error {
				return c.Event(args[0], data)
			})
		},
	}
}

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Measure the round trip to the peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), func(ctx context.Context, c *bus.Client) error {
				rtt, err := c.Ping(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "pong from %s in %s\n", a.cfg.Connect, rtt)
				return nil
			})
		},
	}
}

// withClient connects to the configured url, runs fn and stops the client.
// The request timeout bounds the whole call.
func (a *app) withClient(ctx context.Context, fn func(context.Context, *bus.Client) error) error {
	factory, err := transport.Dial(a.cfg.Connect)
	if err != nil {
		return err
	}
	opts, err := a.cfg.Options(a.log, nil)
	if err != nil {
		return err
	}
	// One-shot commands never reconnect.
	opts = append(opts, bus.WithRestartDelay(0))

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	c := bus.NewClient(factory, opts...)
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", a.cfg.Connect, err)
	}
	defer c.Stop()
	return fn(ctx, c)
}

func (a *app) print(v any) error {
	out, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(out))
	return err
}

// parseData decodes the optional JSON argument. Text that is not JSON is
// sent as a string.
func parseData(args []string) any {
	if len(args) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(args[0]), &v); err != nil {
		return args[0]
	}
	return v
}
