// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package retry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/url"
	"testing"
	"time"

	"mydm/internal/httpx"
)

func TestDelayGrowsExponentiallyAndClamps(t *testing.T) {
	p := &Policy{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Second,
		Jitter:       0, // deterministic
		rand:         func() float64 { return 0.5 },
	}
	if got := p.Delay(0); got != time.Second {
		t.Fatalf("Delay(0) = %v, want 1s", got)
	}
	if got := p.Delay(2); got != 4*time.Second {
		t.Fatalf("Delay(2) = %v, want 4s", got)
	}
	if got := p.Delay(10); got != p.MaxDelay {
		t.Fatalf("Delay(10) = %v, want clamped to MaxDelay %v", got, p.MaxDelay)
	}
}

func TestDelayFloorsAtMinimum(t *testing.T) {
	p := &Policy{InitialDelay: time.Nanosecond, Multiplier: 1, MaxDelay: time.Second, rand: func() float64 { return 0.5 }}
	if got := p.Delay(0); got != 100*time.Millisecond {
		t.Fatalf("Delay = %v, want 100ms floor", got)
	}
}

func TestWaitReturnsOnTimer(t *testing.T) {
	p := &Policy{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Second, rand: func() float64 { return 0 }}
	if err := p.Wait(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
}

func TestWaitReturnsEarlyOnCancel(t *testing.T) {
	p := &Policy{InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour, rand: func() float64 { return 0 }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{408, true}, {429, true}, {500, true}, {502, true}, {503, true}, {504, true},
		{401, false}, {403, false}, {404, false},
	}
	for _, c := range cases {
		err := &httpx.StatusError{Code: c.code, URL: "http://x"}
		if got := IsRetryable(err); got != c.want {
			t.Errorf("IsRetryable(status %d) = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestIsRetryableTransportErrorRetryable(t *testing.T) {
	err := &httpx.TransportError{Err: errors.New("connection reset"), URL: "http://x"}
	if !IsRetryable(err) {
		t.Fatal("transport error should be retryable")
	}
}

func TestIsRetryableTLSIsFatal(t *testing.T) {
	err := &tls.CertificateVerificationError{Err: errors.New("bad cert")}
	if IsRetryable(err) {
		t.Fatal("TLS certificate verification failure should be fatal")
	}
	if IsRetryable(x509.UnknownAuthorityError{}) {
		t.Fatal("unknown authority should be fatal")
	}
	if IsRetryable(x509.HostnameError{}) {
		t.Fatal("hostname mismatch should be fatal")
	}
}

func TestIsRetryableUnwrapsURLError(t *testing.T) {
	inner := &httpx.TransportError{Err: errors.New("refused"), URL: "http://x"}
	err := &url.Error{Op: "Get", URL: "http://x", Err: inner}
	if !IsRetryable(err) {
		t.Fatal("url.Error wrapping a transport error should be retryable")
	}
}

func TestIsRetryableRangeNotSupportedIsNotRetryable(t *testing.T) {
	err := &httpx.RangeNotSupportedError{URL: "http://x"}
	if IsRetryable(err) {
		t.Fatal("range-not-supported is a mode switch, not a retry")
	}
}

func TestCancelledAndNilErr(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatal("nil error should not be retryable")
	}
	if !Cancelled(context.Canceled) {
		t.Fatal("context.Canceled should report Cancelled")
	}
	if IsRetryable(context.Canceled) {
		t.Fatal("cancellation should not be retryable")
	}
}
