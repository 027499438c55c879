// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

// Package ratelimit implements the engine's process-wide leaky-bucket
// scheduler. It is modeled, in shape, on
// cloudeng.io/net/ratecontrol.Controller, a mutex-guarded struct
// configured with functional options and an injectable clock for
// deterministic tests, but the scheduling algorithm itself is a leaky
// bucket rather than a tick-based token refill: every request reserves a
// slice of a single monotonically advancing "next available" timeline,
// and the grant is always the full number of requested bytes. A limiter
// that truncated grants would desynchronize a segment worker's byte
// counters from what actually landed on disk.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// clock abstracts time so tests can exercise the scheduler without
// sleeping wall-clock durations.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Limiter is the single process-wide rate limiter instance. It is safe
// for concurrent use by any number of callers.
type Limiter struct {
	mu            sync.Mutex
	globalCapBps  int64 // 0 = unlimited
	nextAvailable time.Time
	clock         clock
}

// New returns a Limiter with no global cap (unlimited) until SetGlobalCap
// is called.
func New() *Limiter {
	return &Limiter{clock: realClock{}}
}

// SetGlobalCap mutates the global bytes/sec cap immediately; 0 means
// unlimited. In-flight reservations made before the call are not
// rescheduled.
func (l *Limiter) SetGlobalCap(bytesPerSec int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.globalCapBps = bytesPerSec
}

// GlobalCap returns the current global cap.
func (l *Limiter) GlobalCap() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.globalCapBps
}

// Request reserves a slice of transfer time for requestedBytes against
// min(nonzero of globalCap, perDownloadCap), blocking the caller until
// that reservation begins, then returns. The grant is always the full
// requestedBytes; Request never truncates. If both caps are zero it
// returns immediately.
func (l *Limiter) Request(ctx context.Context, requestedBytes int64, perDownloadCap int64) (granted int64, err error) {
	if requestedBytes <= 0 {
		return 0, nil
	}
	wait, ok := l.reserve(requestedBytes, perDownloadCap)
	if !ok {
		return requestedBytes, nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
		return requestedBytes, nil
	}
}

// reserve computes the effective cap, advances the bucket's timeline, and
// reports how long the caller must wait before its reservation begins.
// ok is false when the grant is immediate: either no cap applies or the
// reservation begins now.
func (l *Limiter) reserve(requestedBytes int64, perDownloadCap int64) (wait time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	effectiveCap := effectiveCap(l.globalCapBps, perDownloadCap)
	if effectiveCap <= 0 {
		return 0, false
	}

	now := l.clock.Now()
	start := now
	if l.nextAvailable.After(start) {
		start = l.nextAvailable
	}
	reservation := time.Duration(float64(requestedBytes) / float64(effectiveCap) * float64(time.Second))
	l.nextAvailable = start.Add(reservation)

	if !start.After(now) {
		return 0, false
	}
	return start.Sub(now), true
}

// effectiveCap returns min(nonzero caps); if both are zero there is no
// effective cap (0, meaning unlimited).
func effectiveCap(globalCap, perDownloadCap int64) int64 {
	switch {
	case globalCap <= 0 && perDownloadCap <= 0:
		return 0
	case globalCap <= 0:
		return perDownloadCap
	case perDownloadCap <= 0:
		return globalCap
	case globalCap < perDownloadCap:
		return globalCap
	default:
		return perDownloadCap
	}
}
