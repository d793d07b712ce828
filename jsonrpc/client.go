// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jsonrpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"
)

const retryBaseWait = 250 * time.Millisecond

// retryable reports whether a failed attempt may succeed if repeated: the
// gateway could not be reached, dropped the connection, or answered that
// its bus has no live link, which a reconnecting client recovers from.
func retryable(err error) bool {
	var rpcErr *json2.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == CodeUnavailable
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// Call issues one JSON-RPC call to uri. Unreachable gateways and gateways
// whose bus is reconnecting are retried with exponential backoff; any other
// JSON-RPC error is returned as *json2.Error.
func Call(
	ctx context.Context,
	uri *url.URL,
	method string,
	params any,
	reply any,
	options ...Option,
) error {
	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", method, err)
	}

	ops := NewOptions(options)
	target := *uri
	if len(ops.queryParams) > 0 {
		target.RawQuery = ops.queryParams.Encode()
	}
	log := ops.log.With(zap.String("method", method), zap.String("uri", target.String()))

	var lastErr error
	for attempt := 0; attempt <= ops.retries; attempt++ {
		if attempt > 0 {
			wait := retryBaseWait << (attempt - 1)
			log.Debug("retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
				zap.Error(lastErr),
			)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = post(ctx, ops, target.String(), body, reply)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", method, ops.retries+1, lastErr)
}

// post sends one encoded request and decodes its reply.
func post(ctx context.Context, ops *Options, target string, body []byte, reply any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header = ops.headers.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := ops.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to gateway: %w", err)
	}
	defer func() {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway answered %s", resp.Status)
	}
	if err := json2.DecodeClientResponse(resp.Body, reply); err != nil {
		var rpcErr *json2.Error
		if errors.As(err, &rpcErr) {
			return rpcErr
		}
		return fmt.Errorf("decoding gateway response: %w", err)
	}
	return nil
}

// Client calls a gateway's Bus service.
type Client struct {
	uri     *url.URL
	options []Option
}

// NewClient returns a client for the gateway at uri.
func NewClient(uri string, options ...Option) (*Client, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing gateway url: %w", err)
	}
	return &Client{uri: u, options: options}, nil
}

// Request relays a request through the gateway.
func (c *Client) Request(ctx context.Context, key string, data any) (any, error) {
	var reply RequestReply
	err := Call(ctx, c.uri, ServiceName+".Request", &RequestArgs{Key: key, Data: data}, &reply, c.options...)
	if err != nil {
		return nil, err
	}
	return reply.Data, nil
}

// Event relays an event through the gateway.
func (c *Client) Event(ctx context.Context, key string, data any) error {
	return Call(ctx, c.uri, ServiceName+".Event", &EventArgs{Key: key, Data: data}, &EventReply{}, c.options...)
}

// Ping measures a round trip from the gateway to its peer.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	var reply PingReply
	if err := Call(ctx, c.uri, ServiceName+".Ping", &PingArgs{}, &reply, c.options...); err != nil {
		return 0, err
	}
	return reply.RTT, nil
}
