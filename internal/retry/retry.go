// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

// Package retry classifies download errors as retryable or fatal and
// computes exponential backoff delays with jitter. It is a set of pure
// functions plus tunable parameters, mirroring the shape of
// cloudeng.io/net/ratecontrol's Backoff but specialized to a download
// engine's own error taxonomy.
package retry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"math/rand"
	"net/url"
	"time"

	"mydm/internal/httpx"
)

// Policy holds the tunable backoff parameters. The zero value is not
// usable; use NewDefaultPolicy.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       float64 // fraction, e.g. 0.2 for +/-20%

	// rand is overridable in tests for deterministic jitter.
	rand func() float64
}

// NewDefaultPolicy returns the engine's default retry tuning: 10 max
// attempts, 2s initial delay, 2x multiplier, 5 minute cap, +/-20% jitter.
func NewDefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:  10,
		InitialDelay: 2 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Minute,
		Jitter:       0.2,
		rand:         rand.Float64,
	}
}

// Delay computes the backoff delay for the given attempt number (1-based:
// the delay before the first retry is Delay(1)), clamped to [100ms, MaxDelay].
func (p *Policy) Delay(attempt int) time.Duration {
	if p.rand == nil {
		p.rand = rand.Float64
	}
	base := float64(p.InitialDelay) * pow(p.Multiplier, attempt)
	jitter := 1 + (p.rand()*2-1)*p.Jitter
	d := time.Duration(base * jitter)
	const floor = 100 * time.Millisecond
	if d < floor {
		return floor
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for range exp {
		result *= base
	}
	return result
}

// Wait blocks for the backoff delay associated with attempt, returning
// early with ctx.Err() if ctx is cancelled during the wait. This is the
// cancellable wait required by the engine spec's open question: a Pause
// issued during a retry's backoff must be observed promptly rather than
// leaving the download transiently in Error.
func (p *Policy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Cancelled reports whether err represents a user-initiated cancellation
// rather than a download failure. Cancellation is not an error for
// retry-counting purposes: it transitions the download to Paused.
func Cancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsRetryable classifies err: connection resets, socket/IO errors, and
// HTTP 408/429/500/502/503/504 are retryable; cancellation, other 4xx and
// TLS certificate failures (also when wrapped in a TransportError) are
// fatal for the current attempt. Invalid URLs are rejected by the engine
// at submission and are not classified here; any other unclassified error
// is treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if Cancelled(err) {
		return false
	}
	var httpErr *httpx.StatusError
	if errors.As(err, &httpErr) {
		switch httpErr.Code {
		case 408, 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}
	var rangeErr *httpx.RangeNotSupportedError
	if errors.As(err, &rangeErr) {
		// Handled in-flight by the coordinator as a mode switch, never as
		// a retryable/fatal download error.
		return false
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return false
	}
	var unknownAuthErr x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthErr) {
		return false
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return false
	}
	var netErr *httpx.TransportError
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return IsRetryable(urlErr.Unwrap())
	}
	// Unclassified I/O and DNS errors reaching this point (connection
	// reset, EOF mid-stream, lookup failure) are overwhelmingly transient
	// for a network download and default to retryable.
	return true
}
