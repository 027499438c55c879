// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

// Package segment implements the segment worker: it runs one ranged
// HTTP GET to completion, appending received bytes to a
// per-segment temp file and reporting progress. It is grounded on the
// fetch loop of cloudeng.io/file/largefile.downloader.handleGet (rate
// limiter wait, buffered copy, response handling) and on
// guiyumin-vget's downloadChunkOnce (explicit byte-range GET against a
// shared *http.Client, streaming into a file at a tracked offset),
// rewritten around the engine's persisted Segment model instead of an
// in-memory chunk list.
package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"mydm/internal/httpx"
	"mydm/internal/model"
)

// bufferSize is the fixed read buffer used to stream the response body.
const bufferSize = 64 * 1024

// Limiter is the subset of ratelimit.Limiter a worker needs.
type Limiter interface {
	Request(ctx context.Context, requestedBytes int64, perDownloadCap int64) (int64, error)
}

// Progress is invoked after every chunk is appended to the temp file. downloaded is the segment's cumulative byte count.
type Progress func(downloaded int64)

// Worker runs one segment to completion or error.
type Worker struct {
	Client         *http.Client
	Limiter        Limiter
	PerDownloadCap int64
}

// NewWorker returns a Worker sharing the given HTTP client and rate
// limiter: the HTTP client/connection pool is shared across all
// segments of a download, and the rate limiter is shared process-wide.
func NewWorker(client *http.Client, limiter Limiter, perDownloadCap int64) *Worker {
	return &Worker{Client: client, Limiter: limiter, PerDownloadCap: perDownloadCap}
}

// Run drives seg to Done or returns a classified error. If no temp file
// was persisted on the segment, seg.TempFile is synthesized as
// <downloadID>_<index>.part under tempSegmentDir().
func (w *Worker) Run(ctx context.Context, seg *model.Segment, downloadID, url string, headers map[string]string, referrer string, onProgress Progress) error {
	if seg.TempFile == "" {
		if err := os.MkdirAll(tempSegmentDir(), 0o755); err != nil {
			return fmt.Errorf("segment %d: create temp dir: %w", seg.Index, err)
		}
		seg.TempFile = filepath.Join(tempSegmentDir(), fmt.Sprintf("%s_%d.part", downloadID, seg.Index))
	}

	onDisk, err := fileSize(seg.TempFile)
	if err != nil {
		return fmt.Errorf("segment %d: stat temp file: %w", seg.Index, err)
	}
	seg.Downloaded = clamp(onDisk, 0, seg.Length())

	if seg.StartByte+seg.Downloaded > seg.EndByte {
		seg.Status = model.SegmentDone
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("segment %d: build request: %w", seg.Index, err)
	}
	req.Header.Set("User-Agent", httpx.UserAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", seg.StartByte+seg.Downloaded, seg.EndByte))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if ref, ok := httpx.ValidReferrer(referrer); ok {
		req.Header.Set("Referer", ref)
	}

	seg.Status = model.SegmentActive
	resp, err := w.Client.Do(req)
	if err != nil {
		return &httpx.TransportError{Err: err, URL: url}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// proceed
	case http.StatusOK:
		return &httpx.RangeNotSupportedError{URL: url}
	case http.StatusRequestedRangeNotSatisfiable:
		return &httpx.RangeNotSatisfiableError{URL: url}
	default:
		return &httpx.StatusError{Code: resp.StatusCode, URL: url}
	}

	f, err := os.OpenFile(seg.TempFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("segment %d: open temp file: %w", seg.Index, err)
	}
	defer f.Close()

	buf := make([]byte, bufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Limiter.Request(ctx, int64(n), w.PerDownloadCap); err != nil {
				return err
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return fmt.Errorf("segment %d: write temp file: %w", seg.Index, err)
			}
			seg.Downloaded += int64(n)
			if onProgress != nil {
				onProgress(seg.Downloaded)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return &httpx.TransportError{Err: readErr, URL: url}
		}
	}

	seg.Status = model.SegmentDone
	return nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// tempSegmentDir is the per-segment temp directory: <systemTempDir>/MyDM.
func tempSegmentDir() string {
	return filepath.Join(os.TempDir(), "MyDM")
}
