// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically instead of
// sleeping, mirroring cloudeng.io/net/ratecontrol's clock abstraction.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestUnlimitedGrantsImmediately(t *testing.T) {
	l := New()
	got, err := l.Request(context.Background(), 1<<20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1<<20 {
		t.Fatalf("got %d, want %d", got, 1<<20)
	}
}

func TestGrantIsAlwaysFull(t *testing.T) {
	l := New()
	l.SetGlobalCap(100)
	fc := &fakeClock{now: time.Unix(0, 0)}
	l.clock = fc

	done := make(chan int64, 1)
	go func() {
		got, err := l.Request(context.Background(), 1000, 0)
		if err != nil {
			done <- -1
			return
		}
		done <- got
	}()

	// The bucket is empty, so this reservation begins at once and Request
	// returns without waiting; its 10s of reserved time only delays a
	// later caller. Advancing the fake clock does not affect Request's
	// own (real) timer.
	time.Sleep(20 * time.Millisecond)
	fc.advance(11 * time.Second)

	select {
	case got := <-done:
		if got != 1000 {
			t.Fatalf("grant was truncated: got %d, want 1000", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reservation to clear")
	}
}

func TestEffectiveCapIsMinOfNonzero(t *testing.T) {
	cases := []struct {
		global, perDownload, want int64
	}{
		{0, 0, 0},
		{100, 0, 100},
		{0, 100, 100},
		{100, 50, 50},
		{50, 100, 50},
	}
	for _, c := range cases {
		if got := effectiveCap(c.global, c.perDownload); got != c.want {
			t.Errorf("effectiveCap(%d,%d) = %d, want %d", c.global, c.perDownload, got, c.want)
		}
	}
}

func TestSecondRequestWaitsForFirst(t *testing.T) {
	l := New()
	l.SetGlobalCap(10) // 10 bytes/sec
	fc := &fakeClock{now: time.Unix(0, 0)}
	l.clock = fc

	wait1, ok1 := l.reserve(10, 0) // takes exactly 1s, starts immediately
	if ok1 || wait1 != 0 {
		t.Fatalf("first reservation should be immediate, got wait=%v ok=%v", wait1, ok1)
	}
	wait2, ok2 := l.reserve(10, 0) // must wait for the first reservation's 1s window
	if !ok2 {
		t.Fatal("second reservation should have to wait")
	}
	if wait2 < time.Second {
		t.Fatalf("second reservation wait = %v, want >= 1s", wait2)
	}
}

func TestSetGlobalCapDoesNotReschedulePending(t *testing.T) {
	l := New()
	l.SetGlobalCap(1)
	fc := &fakeClock{now: time.Unix(0, 0)}
	l.clock = fc

	wait, ok := l.reserve(100, 0)
	if ok || wait != 0 {
		t.Fatalf("first reservation unexpected: wait=%v ok=%v", wait, ok)
	}
	// nextAvailable is now 100s out. Mutating the cap must not touch it.
	before := l.nextAvailable
	l.SetGlobalCap(1000)
	if l.nextAvailable != before {
		t.Fatalf("nextAvailable changed on cap mutation: %v -> %v", before, l.nextAvailable)
	}
}
