// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

// Package httpx holds the shared HTTP client configuration and error
// taxonomy used by the probe and segment-worker components. The error
// types follow the sentinel+type-assertion pattern used throughout the
// cloudeng.io/file/largefile package (errors.go: internalError embedding,
// Is(target) matching by type) and cloudeng.io/net/http/httperror.T for
// the status-carrying case.
package httpx

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// UserAgent is sent on every outbound request, matching a realistic
// browser user agent.
const UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// NewClient returns the shared *http.Client used for probing and segment
// GETs: redirects followed, transparent decompression enabled, a pooled
// transport capped per host, and advisory connection/idle timeouts.
func NewClient(connectTimeout, idleTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxConnsPerHost:     32,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     idleTimeout,
			DialContext:         dialer.DialContext,
			DisableCompression:  false,
		},
	}
}

// StatusError carries an HTTP response status code that was not handled
// as a successful or range-negotiation outcome. Retryability is
// classified by internal/retry: {408,429,500,502,503,504} retry, other
// codes are fatal for the current download attempt.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d for %s", e.Code, e.URL)
}

func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	if !ok {
		return false
	}
	return t.Code == 0 || t.Code == e.Code
}

// RangeNotSupportedError signals that the server responded 200 OK to a
// ranged GET: it does not honor byte ranges for this resource, distinct
// from any other HTTP error so the coordinator can fall back to
// single-stream mode rather than failing the download.
type RangeNotSupportedError struct {
	URL string
}

func (e *RangeNotSupportedError) Error() string {
	return fmt.Sprintf("server does not support byte ranges: %s", e.URL)
}

func (e *RangeNotSupportedError) Is(target error) bool {
	_, ok := target.(*RangeNotSupportedError)
	return ok
}

// RangeNotSatisfiableError signals a 416 response to a segment's ranged
// GET; the coordinator treats it like RangeNotSupportedError. Single-stream
// mode does not use this type: it handles a 416 itself, as already
// complete when a partial file exists and as a StatusError otherwise.
type RangeNotSatisfiableError struct {
	URL string
}

func (e *RangeNotSatisfiableError) Error() string {
	return fmt.Sprintf("range not satisfiable: %s", e.URL)
}

func (e *RangeNotSatisfiableError) Is(target error) bool {
	_, ok := target.(*RangeNotSatisfiableError)
	return ok
}

// TransportError wraps a local transport-level failure (connection reset,
// refused, socket error) that carried no HTTP status at all. These are
// retryable unless they wrap a TLS certificate verification failure.
type TransportError struct {
	Err error
	URL string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	_, ok := target.(*TransportError)
	return ok
}

// ValidReferrer converts a caller-supplied referrer string into a
// validated absolute URI, or returns ("", false) if it is not one;
// non-URI referrers are silently dropped rather than sent malformed.
func ValidReferrer(referrer string) (string, bool) {
	if referrer == "" {
		return "", false
	}
	u, err := url.Parse(referrer)
	if err != nil || !u.IsAbs() {
		return "", false
	}
	return u.String(), true
}
