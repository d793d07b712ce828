// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	ErrMalformedEnvelope = errors.New("bus: malformed envelope")
	ErrUnknownType       = errors.New("bus: unknown message type")
)

// Channel separates protocol traffic from application traffic. Each channel
// has its own registries and its own correlation id space.
type Channel uint8

const (
	ChannelInternal Channel = iota
	ChannelApplication
)

func (c Channel) String() string {
	if c == ChannelInternal {
		return "internal"
	}
	return "application"
}

// Kind is the shape of an envelope's payload.
type Kind uint8

const (
	KindRequest Kind = iota
	KindResponse
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return "event"
	}
}

// MessageType tags an envelope with its channel and kind.
type MessageType uint8

const (
	MsgRequestInternal  MessageType = 0
	MsgRequest          MessageType = 1
	MsgResponseInternal MessageType = 2
	MsgResponse         MessageType = 3
	MsgEvent            MessageType = 4
	MsgEventInternal    MessageType = 5
)

// TypeOf returns the message type for a channel and kind.
func TypeOf(ch Channel, kind Kind) MessageType {
	internal := ch == ChannelInternal
	switch kind {
	case KindRequest:
		if internal {
			return MsgRequestInternal
		}
		return MsgRequest
	case KindResponse:
		if internal {
			return MsgResponseInternal
		}
		return MsgResponse
	default:
		if internal {
			return MsgEventInternal
		}
		return MsgEvent
	}
}

// Valid reports whether t is one of the six known message types.
func (t MessageType) Valid() bool { return t <= MsgEventInternal }

func (t MessageType) Channel() Channel {
	switch t {
	case MsgRequestInternal, MsgResponseInternal, MsgEventInternal:
		return ChannelInternal
	}
	return ChannelApplication
}

func (t MessageType) Kind() Kind {
	switch t {
	case MsgRequestInternal, MsgRequest:
		return KindRequest
	case MsgResponseInternal, MsgResponse:
		return KindResponse
	}
	return KindEvent
}

func (t MessageType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
	return t.Channel().String() + "-" + t.Kind().String()
}

// Envelope is the unit exchanged between two buses. Which fields are
// meaningful depends on Type:
//
//	request:  ID, Key, Data   wire: [type, [id, [key, data]]]
//	response: OK, ID, Data    wire: [type, [ok, id, data]]
//	event:    Key, Data       wire: [type, [key, data]]
type Envelope struct {
	Type MessageType
	ID   uint64
	OK   bool
	Key  string
	Data any
}

func requestEnvelope(ch Channel, id uint64, key string, data any) Envelope {
	return Envelope{Type: TypeOf(ch, KindRequest), ID: id, Key: key, Data: data}
}

func responseEnvelope(ch Channel, ok bool, id uint64, data any) Envelope {
	return Envelope{Type: TypeOf(ch, KindResponse), OK: ok, ID: id, Data: data}
}

func eventEnvelope(ch Channel, key string, data any) Envelope {
	return Envelope{Type: TypeOf(ch, KindEvent), Key: key, Data: data}
}

// Internal keys travel as small integers, one numbering for requests and
// one for events.
var (
	internalRequestCodes = map[string]uint64{KeyPing: 0}
	internalEventCodes   = map[string]uint64{KeyInitialize: 0, KeyTerminate: 1}
)

func internalCodes(k Kind) map[string]uint64 {
	if k == KindRequest {
		return internalRequestCodes
	}
	return internalEventCodes
}

// wireKey renders key for the envelope's channel. Internal keys without a
// code are sent as strings.
func (e Envelope) wireKey() any {
	if e.Type.Channel() == ChannelInternal {
		if code, ok := internalCodes(e.Type.Kind())[e.Key]; ok {
			return code
		}
	}
	return e.Key
}

// parseKey reads a wire key. On the internal channel numeric codes map back
// to their names; unknown codes become their decimal form and go unhandled.
func parseKey(t MessageType, v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	if t.Channel() != ChannelInternal {
		return "", fmt.Errorf("key is %T", v)
	}
	code, err := toUint64(v)
	if err != nil {
		return "", fmt.Errorf("internal key: %v", err)
	}
	for name, c := range internalCodes(t.Kind()) {
		if c == code {
			return name, nil
		}
	}
	return strconv.FormatUint(code, 10), nil
}

// Tuple renders the envelope in its generic wire shape, ready for any
// serializer that understands arrays.
func (e Envelope) Tuple() []any {
	var payload []any
	switch e.Type.Kind() {
	case KindRequest:
		payload = []any{e.ID, []any{e.wireKey(), e.Data}}
	case KindResponse:
		payload = []any{e.OK, e.ID, e.Data}
	default:
		payload = []any{e.wireKey(), e.Data}
	}
	return []any{uint8(e.Type), payload}
}

// ParseTuple converts a generically decoded [type, payload] value back into
// an Envelope.
func ParseTuple(v any) (Envelope, error) {
	outer, ok := v.([]any)
	if !ok || len(outer) != 2 {
		return Envelope{}, fmt.Errorf("%w: want [type, payload]", ErrMalformedEnvelope)
	}
	n, err := toUint64(outer[0])
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: type: %v", ErrMalformedEnvelope, err)
	}
	if n > math.MaxUint8 || !MessageType(n).Valid() {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnknownType, n)
	}
	env := Envelope{Type: MessageType(n)}
	payload, ok := outer[1].([]any)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %s payload is not an array", ErrMalformedEnvelope, env.Type)
	}

	switch env.Type.Kind() {
	case KindRequest:
		if len(payload) != 2 {
			return Envelope{}, fmt.Errorf("%w: request wants [id, [key, data]]", ErrMalformedEnvelope)
		}
		if env.ID, err = toUint64(payload[0]); err != nil {
			return Envelope{}, fmt.Errorf("%w: request id: %v", ErrMalformedEnvelope, err)
		}
		body, ok := payload[1].([]any)
		if !ok || len(body) != 2 {
			return Envelope{}, fmt.Errorf("%w: request body wants [key, data]", ErrMalformedEnvelope)
		}
		if env.Key, err = parseKey(env.Type, body[0]); err != nil {
			return Envelope{}, fmt.Errorf("%w: request %v", ErrMalformedEnvelope, err)
		}
		env.Data = body[1]
	case KindResponse:
		if len(payload) != 3 {
			return Envelope{}, fmt.Errorf("%w: response wants [ok, id, data]", ErrMalformedEnvelope)
		}
		if env.OK, ok = payload[0].(bool); !ok {
			return Envelope{}, fmt.Errorf("%w: response flag is %T", ErrMalformedEnvelope, payload[0])
		}
		if env.ID, err = toUint64(payload[1]); err != nil {
			return Envelope{}, fmt.Errorf("%w: response id: %v", ErrMalformedEnvelope, err)
		}
		env.Data = payload[2]
	default:
		if len(payload) != 2 {
			return Envelope{}, fmt.Errorf("%w: event wants [key, data]", ErrMalformedEnvelope)
		}
		if env.Key, err = parseKey(env.Type, payload[0]); err != nil {
			return Envelope{}, fmt.Errorf("%w: event %v", ErrMalformedEnvelope, err)
		}
		env.Data = payload[1]
	}
	return env, nil
}

// toUint64 accepts the integer representations produced by the supported
// decoders.
func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case uint32:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	case uint:
		return uint64(n), nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative value %d", n)
		}
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("negative value %d", n)
		}
		return uint64(n), nil
	case int32:
		if n < 0 {
			return 0, fmt.Errorf("negative value %d", n)
		}
		return uint64(n), nil
	case float64:
		if n < 0 || n != math.Trunc(n) || n > math.MaxUint64 {
			return 0, fmt.Errorf("not an unsigned integer: %v", n)
		}
		return uint64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 {
			return 0, fmt.Errorf("not an unsigned integer: %s", n)
		}
		return uint64(i), nil
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}
