// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package engine

import "time"

// telemetry tracks the smoothed transfer rate and time-left estimate for
// one active download (or one of its segments): an exponential moving
// average over a sampled instantaneous rate, decaying when no new bytes
// arrived since the last sample.
type telemetry struct {
	alpha        float64
	decay        float64
	lastBytes    int64
	lastSampleAt time.Time
	smoothedRate float64
	haveSample   bool
}

func newDownloadTelemetry() *telemetry {
	return &telemetry{alpha: 0.35, decay: 0.20}
}

func newSegmentTelemetry() *telemetry {
	return &telemetry{alpha: 0.40, decay: 0.25}
}

// sample records a new cumulative byte count at "now" and returns the
// updated smoothed rate in bytes/sec.
func (t *telemetry) sample(now time.Time, bytes int64) float64 {
	if !t.haveSample {
		t.haveSample = true
		t.lastBytes = bytes
		t.lastSampleAt = now
		return 0
	}
	dt := now.Sub(t.lastSampleAt).Seconds()
	if dt <= 0 {
		return t.smoothedRate
	}
	delta := bytes - t.lastBytes
	if delta > 0 {
		instant := float64(delta) / dt
		t.smoothedRate = t.alpha*instant + (1-t.alpha)*t.smoothedRate
	} else {
		t.smoothedRate *= 1 - t.decay
	}
	if t.smoothedRate < 1 {
		t.smoothedRate = 0
	}
	t.lastBytes = bytes
	t.lastSampleAt = now
	return t.smoothedRate
}

func (t *telemetry) reset() {
	t.haveSample = false
	t.lastBytes = 0
	t.smoothedRate = 0
}

// timeLeft returns the estimated remaining duration given totalBytes and
// the current downloaded count, or 0 if the rate is below 1 B/s or the
// total or remaining work is not positive.
func timeLeft(rate float64, downloaded, total int64) time.Duration {
	if rate < 1 || total <= 0 {
		return 0
	}
	remaining := total - downloaded
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/rate) * time.Second
}
