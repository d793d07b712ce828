// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	c := Fake(epoch)
	c.Advance(3 * time.Second)
	if got, want := c.Now(), epoch.Add(3*time.Second); !got.Equal(want) {
		t.Fatalf("Now = %v, want %v", got, want)
	}
}

func TestFakeAfterFuncFiresOnce(t *testing.T) {
	c := Fake(epoch)
	calls := 0
	c.AfterFunc(time.Second, func() { calls++ })

	c.Advance(999 * time.Millisecond)
	if calls != 0 {
		t.Fatalf("fired early: %d calls", calls)
	}
	c.Advance(time.Millisecond)
	c.Advance(time.Hour)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", c.Pending())
	}
}

func TestFakeTimerStop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Stop on pending timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}
	c.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestFakeAfterFuncDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestFakeAfterWithWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan time.Time)
	go func() {
		done <- <-c.After(time.Second)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Second)

	select {
	case got := <-done:
		if !got.Equal(epoch.Add(time.Second)) {
			t.Fatalf("After delivered %v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("After never fired")
	}
}

func TestFakeNonPositiveDurations(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) not ready")
	}

	called := false
	timer := c.AfterFunc(0, func() { called = true })
	if !called {
		t.Fatal("AfterFunc(0) did not run synchronously")
	}
	if timer.Stop() {
		t.Fatal("Stop after immediate call returned true")
	}
}
