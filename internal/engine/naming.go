// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package engine

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const maxFileNameLength = 200

// deriveFileName suggests a filename from a URL path, per the engine's
// submission rules: the final path segment, sanitized, falling back to a
// timestamp-based name if nothing usable remains.
func deriveFileName(rawURL string) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	name = sanitizeFileName(name)
	if name == "" || name == "." || name == string(os.PathSeparator) {
		return fmt.Sprintf("download-%d", time.Now().UTC().UnixNano())
	}
	return name
}

// sanitizeFileName strips characters that are invalid in a filename on at
// least one common filesystem, collapses any ".." path-traversal
// component, and caps the result's length.
func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return -1
		default:
			return r
		}
	}, name)
	name = strings.TrimSpace(name)
	if len(name) > maxFileNameLength {
		name = name[:maxFileNameLength]
	}
	return name
}

// uniquePath returns path unchanged if nothing occupies it, otherwise the
// smallest "name (k).ext" that does not exist.
func uniquePath(p string) (string, error) {
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return p, nil
	} else if err != nil {
		return "", err
	}
	dir := filepath.Dir(p)
	base := filepath.Base(p)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for k := 1; ; k++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, k, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
	}
}
