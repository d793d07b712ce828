// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bus: CBOR encoder initialization failed: " + err.Error())
	}
	// Payload maps decode as map[string]any so handlers see the same
	// shapes as with JSON.
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("bus: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORSerializer encodes envelopes as CBOR arrays. Non-negative integers
// decode as uint64, negative ones as int64.
type CBORSerializer struct{}

func (CBORSerializer) Serialize(env Envelope, _ any) ([]byte, error) {
	return cborEnc.Marshal(env.Tuple())
}

func (CBORSerializer) Deserialize(data []byte) (Envelope, error) {
	var v any
	if err := cborDec.Unmarshal(data, &v); err != nil {
		return Envelope{}, fmt.Errorf("decode cbor envelope: %w", err)
	}
	return ParseTuple(v)
}

// CBOR is a compact binary serializer.
var CBOR Serializer = CBORSerializer{}
