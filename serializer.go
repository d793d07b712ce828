// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Serializer converts envelopes to and from wire bytes. opts is the
// Serialize half of the envelope's Metadata; serializers that have no use
// for it ignore it.
type Serializer interface {
	Serialize(env Envelope, opts any) ([]byte, error)
	Deserialize(data []byte) (Envelope, error)
}

// JSONSerializer encodes envelopes as JSON arrays. Numbers in payloads
// decode as float64.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(env Envelope, _ any) ([]byte, error) {
	return json.Marshal(env.Tuple())
}

func (JSONSerializer) Deserialize(data []byte) (Envelope, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&v); err != nil {
		return Envelope{}, fmt.Errorf("decode json envelope: %w", err)
	}
	return ParseTuple(v)
}

// JSON is the default serializer.
var JSON Serializer = JSONSerializer{}
