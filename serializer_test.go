// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"errors"
	"strings"
	"testing"
)

func TestSerializersCarryEnvelope(t *testing.T) {
	compressed, err := Compressed(CBOR, 64)
	if err != nil {
		t.Fatalf("Compressed: %v", err)
	}
	serializers := map[string]Serializer{
		"json":      JSON,
		"cbor":      CBOR,
		"zstd+cbor": compressed,
	}
	env := requestEnvelope(ChannelApplication, 1<<40, "quote", map[string]any{"sym": "LUX"})

	for name, s := range serializers {
		t.Run(name, func(t *testing.T) {
			data, err := s.Serialize(env, nil)
			if err != nil {
				t.Fatalf("Serialize: %v", err)
			}
			got, err := s.Deserialize(data)
			if err != nil {
				t.Fatalf("Deserialize: %v", err)
			}
			if got.Type != env.Type || got.ID != env.ID || got.Key != env.Key {
				t.Errorf("got %+v, want %+v", got, env)
			}
			m, ok := got.Data.(map[string]any)
			if !ok || m["sym"] != "LUX" {
				t.Errorf("data = %#v", got.Data)
			}
		})
	}
}

func TestCompressedThreshold(t *testing.T) {
	s, err := Compressed(JSON, 256)
	if err != nil {
		t.Fatalf("Compressed: %v", err)
	}

	small := eventEnvelope(ChannelApplication, "k", "tiny")
	data, err := s.Serialize(small, nil)
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != frameRaw {
		t.Errorf("small envelope flag = %d, want raw", data[0])
	}

	forced, err := s.Serialize(small, SerializeOptions{Compress: true})
	if err != nil {
		t.Fatal(err)
	}
	if forced[0] != frameZstd {
		t.Errorf("forced flag = %d, want zstd", forced[0])
	}

	large := eventEnvelope(ChannelApplication, "k", strings.Repeat("lux ", 1000))
	data, err = s.Serialize(large, nil)
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != frameZstd {
		t.Errorf("large envelope flag = %d, want zstd", data[0])
	}
	if len(data) >= 4000 {
		t.Errorf("compressed to %d bytes", len(data))
	}
	got, err := s.Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.Data != large.Data {
		t.Error("payload changed by compression")
	}
}

func TestCompressedRejectsBadFrames(t *testing.T) {
	s, err := Compressed(JSON, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, frame := range [][]byte{nil, {7, '[', ']'}, {frameZstd, 1, 2, 3}} {
		if _, err := s.Deserialize(frame); !errors.Is(err, ErrCompressedFrame) {
			t.Errorf("Deserialize(%v): got %v, want ErrCompressedFrame", frame, err)
		}
	}
}
