// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package engine

import (
	"testing"
	"time"
)

func TestTelemetryFirstSampleIsZero(t *testing.T) {
	tel := newDownloadTelemetry()
	if got := tel.sample(time.Now(), 1000); got != 0 {
		t.Fatalf("first sample rate = %v, want 0", got)
	}
}

func TestTelemetrySmoothsTowardInstantRate(t *testing.T) {
	tel := newDownloadTelemetry()
	start := time.Now()
	tel.sample(start, 0)
	rate := tel.sample(start.Add(time.Second), 1000)
	if rate <= 0 || rate > 1000 {
		t.Fatalf("rate = %v, want in (0, 1000]", rate)
	}
}

func TestTelemetryDecaysWhenNoNewBytes(t *testing.T) {
	tel := newDownloadTelemetry()
	start := time.Now()
	tel.sample(start, 0)
	first := tel.sample(start.Add(time.Second), 1000)
	second := tel.sample(start.Add(2*time.Second), 1000)
	if second >= first {
		t.Fatalf("expected rate to decay when no bytes arrived: first=%v second=%v", first, second)
	}
}

func TestTimeLeftUndefinedWhenRateOrTotalNonPositive(t *testing.T) {
	if got := timeLeft(0, 0, 100); got != 0 {
		t.Fatalf("timeLeft with zero rate = %v, want 0", got)
	}
	if got := timeLeft(10, 0, 0); got != 0 {
		t.Fatalf("timeLeft with zero total = %v, want 0", got)
	}
}

func TestTimeLeftComputesRemaining(t *testing.T) {
	got := timeLeft(100, 500, 1000)
	want := 5 * time.Second
	if got != want {
		t.Fatalf("timeLeft = %v, want %v", got, want)
	}
}
