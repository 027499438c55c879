// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloudeng.io/logging/ctxlog"

	"mydm/internal/model"
)

// mergeSegments concatenates each segment's temp file, strictly in index
// order, into the download's .part path.
func mergeSegments(segs []*model.Segment, partialPath string) error {
	if err := os.MkdirAll(filepath.Dir(partialPath), 0o755); err != nil {
		return fmt.Errorf("merge: create destination dir: %w", err)
	}
	out, err := os.OpenFile(partialPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("merge: open %s: %w", partialPath, err)
	}
	defer out.Close()

	ordered := append([]*model.Segment(nil), segs...)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Index < ordered[j-1].Index; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	for _, seg := range ordered {
		if err := appendFile(out, seg.TempFile); err != nil {
			return fmt.Errorf("merge: segment %d: %w", seg.Index, err)
		}
	}
	return nil
}

func appendFile(dst *os.File, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(dst, in)
	return err
}

func removeIgnoringMissing(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		ctxlog.Warn(ctx, "failed to remove temp file", "path", path, "error", err)
	}
}

// finalize performs the atomic rename common to both segmented and
// single-stream success paths: rename the .part file to a fresh,
// never-overwritten final path, mark the download Complete, and verify
// the optional checksum.
func (e *Engine) finalize(ds *downloadState) error {
	ds.mu.Lock()
	d := *ds.d
	ds.mu.Unlock()

	partial := d.PartialPath()
	info, err := os.Stat(partial)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	finalPath, err := uniquePath(d.FinalPath())
	if err != nil {
		return fmt.Errorf("finalize: choose unique path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("finalize: create destination dir: %w", err)
	}
	if err := os.Rename(partial, finalPath); err != nil {
		return fmt.Errorf("finalize: rename: %w", err)
	}

	d.FileName = filepath.Base(finalPath)
	d.SaveDir = filepath.Dir(finalPath)
	d.Downloaded = info.Size()
	d.TotalSize = info.Size()
	d.Status = model.StatusComplete
	d.CompletedAt = time.Now().UTC()
	d.Rate = 0
	d.TimeLeft = 0

	if d.Checksum != "" {
		ok, sumErr := verifyChecksum(finalPath, d.Checksum)
		if sumErr != nil {
			ctxlog.Warn(e.ctx, "checksum verification failed to run", "id", d.ID, "error", sumErr)
		} else {
			d.ChecksumVerified = ok
			if !ok {
				ctxlog.Warn(e.ctx, "checksum mismatch", "id", d.ID, "path", finalPath)
				_ = e.store.AppendLog(d.ID, "warn", "checksum mismatch")
			}
		}
	}

	ds.mu.Lock()
	*ds.d = d
	ds.mu.Unlock()
	if err := e.store.PutDownload(&d); err != nil {
		return fmt.Errorf("finalize: persist: %w", err)
	}
	_ = e.store.AppendLog(d.ID, "info", fmt.Sprintf("complete: %s", finalPath))
	return nil
}

// verifyChecksum compares the SHA-256 of path against expected
// (case-insensitive hex), the optional caller-supplied integrity check.
func verifyChecksum(path, expected string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return strings.EqualFold(sum, expected), nil
}
