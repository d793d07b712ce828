// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command busctl serves a bus over any registered transport and talks to
// one from the command line.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luxfi/bus/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app carries what every subcommand shares once flags are parsed.
type app struct {
	configPath string
	cfg        *config.Config
	log        *zap.Logger
	out        io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:   "busctl",
		Short: "busctl - serve and call a symmetric message bus",
		Long: `busctl runs a bus server on a transport url (tcp, unix, mem, ws, grpc,
redis) and issues requests, events and pings against one.

Examples:
  # Serve over websocket with a JSON-RPC gateway and metrics
  busctl serve --listen ws://0.0.0.0:7400/bus --gateway :7401 --metrics :9100

  # Ask the server to echo a value
  busctl call echo '{"hello":"bus"}' --connect ws://127.0.0.1:7400/bus`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default ./busctl.yaml or ~/.busctl/busctl.yaml)")
	config.RegisterFlags(flags)

	root.AddCommand(
		newServeCmd(a),
		newCallCmd(a),
		newEmitCmd(a),
		newPingCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.out, "busctl %s\n", version)
		},
	}
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
