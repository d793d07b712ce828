// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      Level
		want    zapcore.Level
		wantErr bool
	}{
		{in: "", want: zapcore.InfoLevel},
		{in: LevelDebug, want: zapcore.DebugLevel},
		{in: "WARN", want: zapcore.WarnLevel},
		{in: LevelError, want: zapcore.ErrorLevel},
		{in: "verbose", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Level = LevelWarn
	cfg.Console = &buf

	log, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("quiet")
	log.Warn("loud", zap.String("bus", "b1"))
	_ = log.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("console line is not JSON: %v", err)
	}
	if entry["msg"] != "loud" || entry["bus"] != "b1" || entry["level"] != "warn" {
		t.Errorf("entry = %v", entry)
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "busctl.log")
	cfg := DefaultConfig()
	cfg.OutputPath = path
	cfg.Development = true
	cfg.Console = &bytes.Buffer{}

	log, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("to file", zap.Int("peers", 3))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("file line is not JSON: %v (%q)", err, data)
	}
	if entry["msg"] != "to file" || entry["peers"] != float64(3) {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "loud"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}
