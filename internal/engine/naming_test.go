// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDeriveFileNameFromURL(t *testing.T) {
	if got := deriveFileName("https://host.example/path/to/a.zip?x=1"); got != "a.zip" {
		t.Fatalf("deriveFileName = %q, want a.zip", got)
	}
}

func TestDeriveFileNameFallsBackToTimestamp(t *testing.T) {
	got := deriveFileName("https://host.example/")
	if got == "" {
		t.Fatal("expected a non-empty fallback name")
	}
}

func TestSanitizeFileNameStripsTraversalAndInvalidChars(t *testing.T) {
	got := sanitizeFileName("../../etc/passwd:evil?.txt")
	if got == "" {
		t.Fatal("expected non-empty result")
	}
	for _, bad := range []string{"..", "/", ":", "?"} {
		if contains(got, bad) {
			t.Fatalf("sanitized name %q still contains %q", got, bad)
		}
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestUniquePathAppendsSmallestAvailableSuffix(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.zip")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := uniquePath(target)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "a (1).zip")
	if got != want {
		t.Fatalf("uniquePath = %q, want %q", got, want)
	}

	if err := os.WriteFile(want, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	got2, err := uniquePath(target)
	if err != nil {
		t.Fatal(err)
	}
	want2 := filepath.Join(dir, "a (2).zip")
	if got2 != want2 {
		t.Fatalf("uniquePath = %q, want %q", got2, want2)
	}
}

func TestUniquePathReturnsUnchangedWhenFree(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "free.bin")
	got, err := uniquePath(target)
	if err != nil {
		t.Fatal(err)
	}
	if got != target {
		t.Fatalf("uniquePath = %q, want %q", got, target)
	}
}
