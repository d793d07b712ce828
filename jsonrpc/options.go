// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jsonrpc

import (
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// DefaultRetries is how often Call repeats a retryable attempt.
const DefaultRetries = 2

var defaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

// Options holds per-call settings for Call.
type Options struct {
	headers     http.Header
	queryParams url.Values
	log         *zap.Logger
	client      *http.Client
	retries     int
}

// Option configures a call.
type Option func(*Options)

// NewOptions applies ops over the defaults.
func NewOptions(ops []Option) *Options {
	o := &Options{
		headers:     http.Header{},
		queryParams: url.Values{},
		log:         zap.NewNop(),
		client:      defaultHTTPClient,
		retries:     DefaultRetries,
	}
	for _, op := range ops {
		op(o)
	}
	return o
}

func (o *Options) Headers() http.Header { return o.headers }

func (o *Options) QueryParams() url.Values { return o.queryParams }

// WithHeader adds a request header.
func WithHeader(key, val string) Option {
	return func(o *Options) { o.headers.Add(key, val) }
}

// WithQueryParam adds a query parameter to the endpoint URL.
func WithQueryParam(key, val string) Option {
	return func(o *Options) { o.queryParams.Add(key, val) }
}

// WithLogger logs retries to l.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.log = l }
}

// WithHTTPClient sends calls through c.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.client = c }
}

// WithRetries sets how often a retryable attempt is repeated. Zero makes
// exactly one attempt.
func WithRetries(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.retries = n
		}
	}
}
