// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads busctl settings from a config file, BUSCTL_
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/luxfi/bus"
	"github.com/luxfi/bus/internal/logger"
)

const (
	// EnvPrefix prefixes every environment override, e.g. BUSCTL_LOG_LEVEL.
	EnvPrefix = "BUSCTL"
	// FileName is the config file searched for when no path is given.
	FileName = "busctl"
)

var (
	ErrUnknownSerializer = errors.New("config: unknown serializer")
	ErrInvalidTimeout    = errors.New("config: timeout must be positive")
)

// Config holds everything busctl needs to build a bus.
type Config struct {
	Listen       string        `mapstructure:"listen"`
	Connect      string        `mapstructure:"connect"`
	Gateway      string        `mapstructure:"gateway"`
	Metrics      string        `mapstructure:"metrics"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RestartDelay time.Duration `mapstructure:"restart_delay"`
	Serializer   string        `mapstructure:"serializer"`
	// Compress is the frame size in bytes from which frames are zstd
	// compressed. Zero disables compression.
	Compress int       `mapstructure:"compress"`
	Hello    bool      `mapstructure:"hello"`
	Log      LogConfig `mapstructure:"log"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	Development bool   `mapstructure:"development"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		Listen:       "tcp://127.0.0.1:7400",
		Connect:      "tcp://127.0.0.1:7400",
		Timeout:      bus.DefaultTimeout,
		RestartDelay: time.Second,
		Serializer:   "json",
		Log:          LogConfig{Level: string(logger.LevelInfo)},
	}
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"listen":          "listen",
	"connect":         "connect",
	"gateway":         "gateway",
	"metrics":         "metrics",
	"timeout":         "timeout",
	"restart-delay":   "restart_delay",
	"serializer":      "serializer",
	"compress":        "compress",
	"hello":           "hello",
	"log-level":       "log.level",
	"log-file":        "log.file",
	"log-development": "log.development",
}

// RegisterFlags adds the busctl flags to fs with their default values.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("listen", d.Listen, "url the server listens on")
	fs.String("connect", d.Connect, "url the client connects to")
	fs.String("gateway", d.Gateway, "address of the JSON-RPC gateway, empty to disable")
	fs.String("metrics", d.Metrics, "address of the prometheus endpoint, empty to disable")
	fs.Duration("timeout", d.Timeout, "time a request waits for its answer")
	fs.Duration("restart-delay", d.RestartDelay, "delay before reconnecting a lost client, 0 to disable")
	fs.String("serializer", d.Serializer, "frame encoding: json or cbor")
	fs.Int("compress", d.Compress, "zstd compress frames of at least this many bytes, 0 to disable")
	fs.Bool("hello", d.Hello, "send the initialize event after connecting")
	fs.String("log-level", d.Log.Level, "debug, info, warn or error")
	fs.String("log-file", d.Log.File, "rotating log file, empty for console only")
	fs.Bool("log-development", d.Log.Development, "human-readable colored console logs")
}

// Load reads the config file at path, or busctl.yaml from the working
// directory and ~/.busctl when path is empty, then applies environment
// variables and the flags in fs that were set.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".busctl"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("listen", d.Listen)
	v.SetDefault("connect", d.Connect)
	v.SetDefault("gateway", d.Gateway)
	v.SetDefault("metrics", d.Metrics)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("restart_delay", d.RestartDelay)
	v.SetDefault("serializer", d.Serializer)
	v.SetDefault("compress", d.Compress)
	v.SetDefault("hello", d.Hello)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.development", d.Log.Development)
}

// Validate reports settings no bus can be built from.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, c.Timeout)
	}
	switch c.Serializer {
	case "json", "cbor":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSerializer, c.Serializer)
	}
	if _, err := logger.ParseLevel(logger.Level(c.Log.Level)); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Logger builds the logger described by the log section.
func (c *Config) Logger() (*zap.Logger, error) {
	lc := logger.DefaultConfig()
	lc.Level = logger.Level(c.Log.Level)
	lc.OutputPath = c.Log.File
	lc.Development = c.Log.Development
	return logger.New(lc)
}

// NewSerializer returns the frame serializer, wrapped for compression when
// Compress is set.
func (c *Config) NewSerializer() (bus.Serializer, error) {
	var s bus.Serializer
	switch c.Serializer {
	case "json":
		s = bus.JSON
	case "cbor":
		s = bus.CBOR
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSerializer, c.Serializer)
	}
	if c.Compress <= 0 {
		return s, nil
	}
	compressed, err := bus.Compressed(s, c.Compress)
	if err != nil {
		return nil, err
	}
	return compressed, nil
}

// Options returns the bus options for these settings.
func (c *Config) Options(log *zap.Logger, m *bus.Metrics) ([]bus.Option, error) {
	s, err := c.NewSerializer()
	if err != nil {
		return nil, err
	}
	return []bus.Option{
		bus.WithSerializer(s),
		bus.WithTimeout(c.Timeout),
		bus.WithRestartDelay(c.RestartDelay),
		bus.WithHello(c.Hello),
		bus.WithLogger(log),
		bus.WithMetrics(m),
	}, nil
}
