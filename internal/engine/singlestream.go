// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"mydm/internal/httpx"
	"mydm/internal/model"
)

const singleStreamBufferSize = 64 * 1024

// runSingleStream issues one GET for the whole resource, resuming from an
// existing .part file's size if any. It is used both when the server does
// not support byte ranges and as the in-flight fallback from segmented
// mode.
func (e *Engine) runSingleStream(ctx context.Context, ds *downloadState) error {
	ds.mu.Lock()
	d := *ds.d
	ds.mu.Unlock()

	partial := d.PartialPath()
	existing, err := fileSizeOrZero(partial)
	if err != nil {
		return fmt.Errorf("single-stream: stat partial: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return fmt.Errorf("single-stream: build request: %w", err)
	}
	req.Header.Set("User-Agent", httpx.UserAgent)
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}
	if ref, ok := httpx.ValidReferrer(d.Referrer); ok {
		req.Header.Set("Referer", ref)
	}
	if existing > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existing))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return &httpx.TransportError{Err: err, URL: d.URL}
	}
	defer resp.Body.Close()

	var f *os.File
	switch resp.StatusCode {
	case http.StatusRequestedRangeNotSatisfiable:
		if existing > 0 {
			// The server has nothing beyond what we already hold: treat
			// the existing .part file as complete.
			return nil
		}
		return &httpx.StatusError{Code: resp.StatusCode, URL: d.URL}
	case http.StatusPartialContent:
		if err := os.MkdirAll(filepath.Dir(partial), 0o755); err != nil {
			return fmt.Errorf("single-stream: create destination dir: %w", err)
		}
		f, err = os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	case http.StatusOK:
		if err := os.MkdirAll(filepath.Dir(partial), 0o755); err != nil {
			return fmt.Errorf("single-stream: create destination dir: %w", err)
		}
		f, err = os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		existing = 0
	default:
		return &httpx.StatusError{Code: resp.StatusCode, URL: d.URL}
	}
	if err != nil {
		return fmt.Errorf("single-stream: open partial: %w", err)
	}
	defer f.Close()

	buf := make([]byte, singleStreamBufferSize)
	downloaded := existing
	lastWrite := time.Now().Add(-time.Hour)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := e.limiter.Request(ctx, int64(n), d.SpeedLimit); err != nil {
				return err
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return fmt.Errorf("single-stream: write partial: %w", err)
			}
			downloaded += int64(n)
			e.onSingleStreamProgress(ds, downloaded, &lastWrite)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return &httpx.TransportError{Err: readErr, URL: d.URL}
		}
	}
	return nil
}

func (e *Engine) onSingleStreamProgress(ds *downloadState, downloaded int64, lastWrite *time.Time) {
	now := time.Now()
	ds.mu.Lock()
	ds.d.Downloaded = downloaded
	ds.d.Rate = ds.tele.sample(now, downloaded)
	ds.d.TimeLeft = timeLeft(ds.d.Rate, downloaded, ds.d.TotalSize)
	write := now.Sub(*lastWrite) >= progressWriteInterval
	var dCopy model.Download
	if write {
		*lastWrite = now
		dCopy = *ds.d
	}
	ds.mu.Unlock()
	if write {
		_ = e.store.PutDownload(&dCopy)
	}
}

func fileSizeOrZero(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
