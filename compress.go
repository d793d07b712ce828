// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

var ErrCompressedFrame = errors.New("bus: malformed compressed frame")

// SerializeOptions is understood by the Compressed serializer when passed as
// Metadata.Serialize.
type SerializeOptions struct {
	// Compress forces compression of this envelope regardless of size.
	Compress bool
	// Inner is handed to the wrapped serializer.
	Inner any
}

const (
	frameRaw  byte = 0
	frameZstd byte = 1
)

// CompressedSerializer wraps another serializer and zstd-compresses its
// output. Every frame starts with one byte saying whether the rest is
// compressed, so both ends only need to agree on the inner serializer.
type CompressedSerializer struct {
	inner Serializer
	// MinSize is the encoded size from which envelopes are compressed
	// without being asked to. Zero means only on request.
	MinSize int

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Compressed wraps inner. Envelopes of at least minSize bytes are always
// compressed; smaller ones only when their metadata asks for it.
func Compressed(inner Serializer, minSize int) (*CompressedSerializer, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &CompressedSerializer{
		inner:   inner,
		MinSize: minSize,
		enc:     enc,
		dec:     dec,
	}, nil
}

func (c *CompressedSerializer) Serialize(env Envelope, opts any) ([]byte, error) {
	var force bool
	switch o := opts.(type) {
	case SerializeOptions:
		force, opts = o.Compress, o.Inner
	case *SerializeOptions:
		if o != nil {
			force, opts = o.Compress, o.Inner
		}
	}

	raw, err := c.inner.Serialize(env, opts)
	if err != nil {
		return nil, err
	}
	if !force && (c.MinSize <= 0 || len(raw) < c.MinSize) {
		return append([]byte{frameRaw}, raw...), nil
	}
	out := make([]byte, 1, len(raw)/2+1)
	out[0] = frameZstd
	return c.enc.EncodeAll(raw, out), nil
}

func (c *CompressedSerializer) Deserialize(data []byte) (Envelope, error) {
	if len(data) == 0 {
		return Envelope{}, ErrCompressedFrame
	}
	switch data[0] {
	case frameRaw:
		return c.inner.Deserialize(data[1:])
	case frameZstd:
		raw, err := c.dec.DecodeAll(data[1:], nil)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrCompressedFrame, err)
		}
		return c.inner.Deserialize(raw)
	default:
		return Envelope{}, fmt.Errorf("%w: flag %d", ErrCompressedFrame, data[0])
	}
}
