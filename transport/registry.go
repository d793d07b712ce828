// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"net/url"
	"sort"
	"sync"

	"github.com/luxfi/bus"
)

// URL schemes understood by Dial and Serve.
const (
	SchemeTCP   = "tcp"
	SchemeUnix  = "unix"
	SchemeMem   = "mem"
	SchemeWS    = "ws"
	SchemeWSS   = "wss"
	SchemeGRPC  = "grpc"
	SchemeRedis = "redis"
)

// DefaultScheme is used for addresses without a scheme.
const DefaultScheme = SchemeTCP

// FactoryFunc resolves a URL into a bus factory.
type FactoryFunc func(u *url.URL) (bus.Factory, error)

// ServeFunc accepts peers at u for s until ctx is done.
type ServeFunc func(ctx context.Context, u *url.URL, s *bus.Server) error

type scheme struct {
	dial  FactoryFunc
	serve ServeFunc
}

var (
	schemesMu sync.RWMutex
	schemes   = map[string]scheme{
		SchemeTCP:   {dialTCP, serveTCP},
		SchemeUnix:  {dialUnix, serveUnix},
		SchemeMem:   {dialMem, serveMem},
		SchemeWS:    {dialWS, serveWS},
		SchemeWSS:   {dialWS, nil},
		SchemeGRPC:  {dialGRPC, serveGRPC},
		SchemeRedis: {dialRedis, serveRedis},
	}
)

// Register adds or replaces a scheme. serve may be nil for dial-only
// schemes.
func Register(name string, dial FactoryFunc, serve ServeFunc) {
	schemesMu.Lock()
	defer schemesMu.Unlock()
	schemes[name] = scheme{dial, serve}
}

// Available returns the registered schemes, sorted.
func Available() []string {
	schemesMu.RLock()
	defer schemesMu.RUnlock()
	result := make([]string, 0, len(schemes))
	for name := range schemes {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Has reports whether a scheme is registered.
func Has(name string) bool {
	schemesMu.RLock()
	defer schemesMu.RUnlock()
	_, ok := schemes[name]
	return ok
}

func lookup(name string) (scheme, bool) {
	schemesMu.RLock()
	defer schemesMu.RUnlock()
	s, ok := schemes[name]
	return s, ok
}
