// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProbeHeadSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.Header().Set("Content-Length", "10485760")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="a.zip"`)
	}))
	defer srv.Close()

	res, err := probe(context.Background(), srv.Client(), srv.URL, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalSize != 10485760 {
		t.Errorf("TotalSize = %d, want 10485760", res.TotalSize)
	}
	if !res.SupportsRange {
		t.Error("expected SupportsRange = true")
	}
	if res.ContentType != "application/zip" {
		t.Errorf("ContentType = %q", res.ContentType)
	}
	if res.FileName != "a.zip" {
		t.Errorf("FileName = %q, want a.zip", res.FileName)
	}
}

func TestProbeFallsBackToRangedGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Range", "bytes 0-0/2048")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	res, err := probe(context.Background(), srv.Client(), srv.URL, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalSize != 2048 {
		t.Errorf("TotalSize = %d, want 2048", res.TotalSize)
	}
	if !res.SupportsRange {
		t.Error("expected SupportsRange = true from a 206 response")
	}
}

func TestProbePreferExtFileName(t *testing.T) {
	got := parseContentDisposition(`attachment; filename="plain.txt"; filename*=UTF-8''ext-name.txt`)
	if got != "ext-name.txt" {
		t.Fatalf("got %q, want ext-name.txt", got)
	}
}

func TestProbeBothFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := probe(context.Background(), srv.Client(), srv.URL, nil, "")
	if err == nil {
		t.Fatal("expected an error when both probe forms fail")
	}
}
