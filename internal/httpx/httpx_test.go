// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package httpx

import (
	"errors"
	"testing"
	"time"
)

func TestNewClientConfiguresTransport(t *testing.T) {
	c := NewClient(5*time.Second, 30*time.Second)
	if c.Transport == nil {
		t.Fatal("expected a non-nil transport")
	}
}

func TestStatusErrorIsWildcardMatch(t *testing.T) {
	err := &StatusError{Code: 503, URL: "http://x"}
	if !errors.Is(err, &StatusError{}) {
		t.Fatal("zero-Code StatusError should match any code as a wildcard")
	}
	if !errors.Is(err, &StatusError{Code: 503}) {
		t.Fatal("matching code should match")
	}
	if errors.Is(err, &StatusError{Code: 404}) {
		t.Fatal("mismatched code should not match")
	}
}

func TestRangeNotSupportedErrorIs(t *testing.T) {
	err := &RangeNotSupportedError{URL: "http://x"}
	if !errors.Is(err, &RangeNotSupportedError{}) {
		t.Fatal("expected Is to match by type")
	}
}

func TestTransportErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := &TransportError{Err: inner, URL: "http://x"}
	if !errors.Is(err, inner) {
		t.Fatal("expected TransportError to unwrap to inner error")
	}
}

func TestValidReferrer(t *testing.T) {
	cases := []struct {
		in      string
		wantOK  bool
		wantOut string
	}{
		{"", false, ""},
		{"not a url", false, ""},
		{"/relative/path", false, ""},
		{"https://example.com/page", true, "https://example.com/page"},
	}
	for _, c := range cases {
		out, ok := ValidReferrer(c.in)
		if ok != c.wantOK {
			t.Errorf("ValidReferrer(%q) ok = %v, want %v", c.in, ok, c.wantOK)
		}
		if ok && out != c.wantOut {
			t.Errorf("ValidReferrer(%q) = %q, want %q", c.in, out, c.wantOut)
		}
	}
}
