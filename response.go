// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import "fmt"

// Metadata is passed through the bus untouched. Serialize reaches the
// serializer, Transport reaches the transport's Send.
type Metadata struct {
	Serialize any
	Transport any
}

// Merge returns m with every non-nil field of over applied on top.
func (m Metadata) Merge(over Metadata) Metadata {
	if over.Serialize != nil {
		m.Serialize = over.Serialize
	}
	if over.Transport != nil {
		m.Transport = over.Transport
	}
	return m
}

func firstMetadata(md []Metadata) Metadata {
	if len(md) == 0 {
		return Metadata{}
	}
	return md[0]
}

// Response wraps a handler result with metadata for exactly that reply.
// Handlers may return it as the result, or as the error to answer with a
// failure.
//
//	return bus.NewResponse(v, bus.Metadata{Serialize: opts}), nil
//	return nil, bus.NewResponse("denied", bus.Metadata{Transport: hint})
type Response struct {
	Value    any
	Metadata Metadata
}

// NewResponse returns a Response carrying value and md.
func NewResponse(value any, md Metadata) *Response {
	return &Response{Value: value, Metadata: md}
}

// Fail returns an error that answers the request with value as the failure
// payload.
func Fail(value any) error {
	return &Response{Value: value}
}

func (r *Response) Error() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprint(r.Value)
}
