// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisURL(t *testing.T) {
	u, err := url.Parse("redis://localhost:6379/2?inbox=a&outbox=b")
	if err != nil {
		t.Fatal(err)
	}
	client, inbox, outbox, err := redisFromURL(u)
	if err != nil {
		t.Fatalf("redisFromURL: %v", err)
	}
	defer client.Close()
	if inbox != "a" || outbox != "b" {
		t.Errorf("got inbox %q outbox %q, want a b", inbox, outbox)
	}
	if db := client.Options().DB; db != 2 {
		t.Errorf("got db %d, want 2", db)
	}

	u, _ = url.Parse("redis://localhost:6379/0?inbox=a")
	if _, _, _, err := redisFromURL(u); err == nil {
		t.Error("missing outbox accepted")
	}
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("BUS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BUS_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("connecting to redis: %v", err)
	}

	s := echoServer()
	if _, err := s.Connect(ctx, Redis(client, "bus-test:up", "bus-test:down"), nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c := startClient(t, ctx, Redis(client, "bus-test:down", "bus-test:up"))

	got, err := c.Request(ctx, "echo", "via redis")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got != "via redis" {
		t.Errorf("got %v, want %q", got, "via redis")
	}
}
