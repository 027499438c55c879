// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cloudeng.io/logging/ctxlog"

	"mydm/internal/httpx"
	"mydm/internal/model"
	"mydm/internal/retry"
)

// Start transitions a Queued or Paused download to Downloading and runs
// it in a background task. Calling Start on an already active download
// logs a warning and returns nil.
func (e *Engine) Start(id string) error {
	ds, ok := e.getState(id)
	if !ok {
		return ErrNotFound
	}
	ds.mu.Lock()
	if ds.active {
		ctxlog.Warn(e.ctx, "start called on an already-active download", "id", id)
		ds.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(e.ctx)
	ds.cancel = cancel
	ds.active = true
	ds.cancelIntent = false
	ds.stopped = make(chan struct{})
	ds.d.Status = model.StatusDownloading
	ds.d.LastError = ""
	ds.d.LastAttemptAt = time.Now().UTC()
	ds.tele.reset()
	d := *ds.d
	ds.mu.Unlock()

	if err := e.store.PutDownload(&d); err != nil {
		ctxlog.Error(e.ctx, "failed to persist start", "id", id, "error", err)
	}
	_ = e.store.AppendLog(id, "info", "downloading")

	go e.run(runCtx, ds)
	return nil
}

// run drives one download through attempts until it completes, is
// paused/cancelled, or exhausts its retry budget. Expressed as a loop
// rather than recursive re-entry into Start so the retry wait is a
// single, cancellable select rather than stacked recursive calls.
func (e *Engine) run(ctx context.Context, ds *downloadState) {
	for {
		err := e.attempt(ctx, ds)
		if err == nil {
			e.onSuccess(ds)
			return
		}
		if retry.Cancelled(err) || errors.Is(err, context.Canceled) {
			e.onStopped(ds)
			return
		}

		ds.mu.Lock()
		ds.d.RetryCount++
		attempt := ds.d.RetryCount
		ds.d.Status = model.StatusError
		ds.d.LastError = err.Error()
		retryable := retry.IsRetryable(err) && attempt <= e.retry.MaxAttempts
		d := *ds.d
		ds.mu.Unlock()
		_ = e.store.PutDownload(&d)
		_ = e.store.AppendLog(d.ID, "error", err.Error())

		if !retryable {
			ctxlog.Error(ctx, "download failed, not retrying", "id", d.ID, "error", err)
			e.finishActive(ds)
			return
		}
		ctxlog.Warn(ctx, "download failed, retrying", "id", d.ID, "attempt", attempt, "error", err)
		if waitErr := e.retry.Wait(ctx, attempt); waitErr != nil {
			e.onStopped(ds)
			return
		}
	}
}

// attempt runs exactly one pass: segmented mode (with in-flight fallback
// to single-stream on RangeNotSupported/416) or single-stream mode
// directly.
func (e *Engine) attempt(ctx context.Context, ds *downloadState) error {
	ds.mu.Lock()
	d := *ds.d
	ds.mu.Unlock()

	if d.SupportsRange && d.TotalSize > 0 && d.Connections > 1 {
		err := e.runSegmented(ctx, ds)
		var rangeErr *httpx.RangeNotSupportedError
		var satErr *httpx.RangeNotSatisfiableError
		if errors.As(err, &rangeErr) || errors.As(err, &satErr) {
			ctxlog.Warn(ctx, "server does not honor byte ranges, falling back to single-stream", "id", d.ID)
			if delErr := e.store.DeleteSegments(d.ID); delErr != nil {
				return delErr
			}
			ds.mu.Lock()
			ds.d.SupportsRange = false
			ds.segments = nil
			ds.mu.Unlock()
			_ = e.store.AppendLog(d.ID, "warn", "range not supported, falling back to single-stream")
			return e.runSingleStream(ctx, ds)
		}
		return err
	}
	return e.runSingleStream(ctx, ds)
}

func (e *Engine) onSuccess(ds *downloadState) {
	if err := e.finalize(ds); err != nil {
		ds.mu.Lock()
		ds.d.Status = model.StatusError
		ds.d.LastError = err.Error()
		d := *ds.d
		ds.mu.Unlock()
		_ = e.store.PutDownload(&d)
		_ = e.store.AppendLog(d.ID, "error", fmt.Sprintf("merge failed: %v", err))
		e.finishActive(ds)
		return
	}
	e.finishActive(ds)
}

// onStopped runs when a task's context is cancelled, either by Pause or
// by Cancel. A download carrying a cancel intent is left alone here:
// Cancel owns writing its terminal status and cleaning up segment files,
// and is waiting on ds.stopped to do so without racing this goroutine.
func (e *Engine) onStopped(ds *downloadState) {
	ds.mu.Lock()
	if ds.cancelIntent {
		ds.mu.Unlock()
		e.finishActive(ds)
		return
	}
	ds.d.Status = model.StatusPaused
	ds.d.Rate = 0
	ds.d.TimeLeft = 0
	d := *ds.d
	segs := ds.segments
	ds.mu.Unlock()
	_ = e.store.PutDownload(&d)
	if len(segs) > 0 {
		_ = e.store.PutSegments(segs)
	}
	_ = e.store.AppendLog(d.ID, "info", "paused")
	e.finishActive(ds)
}

func (e *Engine) finishActive(ds *downloadState) {
	ds.mu.Lock()
	ds.active = false
	ds.cancel = nil
	stopped := ds.stopped
	ds.stopped = nil
	ds.mu.Unlock()
	if stopped != nil {
		close(stopped)
	}
}

// Pause signals cancellation of an in-flight download; its worker's
// cancellation path persists segment progress and transitions it to
// Paused via onStopped. Pausing a download that is not active is a
// no-op.
func (e *Engine) Pause(id string) error {
	ds, ok := e.getState(id)
	if !ok {
		return ErrNotFound
	}
	ds.mu.Lock()
	cancel := ds.cancel
	ds.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Cancel pauses the download, then deletes its partial file and any
// segment temp files. Segment rows remain until Delete.
//
// If a task is running, Cancel marks the cancel intent before signalling
// it and then blocks until the task has actually exited (onStopped sees
// the intent and defers to Cancel instead of writing StatusPaused). This
// keeps the terminal transition deterministic: without it, the task's
// own cancellation-path write of StatusPaused can land after Cancel's
// write of StatusCancelled, and onStopped's PutSegments can persist
// segment rows pointing at temp files Cancel has already removed.
func (e *Engine) Cancel(id string) error {
	ds, ok := e.getState(id)
	if !ok {
		return ErrNotFound
	}
	ds.mu.Lock()
	cancel := ds.cancel
	stopped := ds.stopped
	ds.cancelIntent = true
	ds.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stopped != nil {
		<-stopped
	}

	ds.mu.Lock()
	ds.d.Status = model.StatusCancelled
	ds.d.Rate = 0
	d := *ds.d
	segs := ds.segments
	ds.mu.Unlock()

	_ = os.Remove(d.PartialPath())
	for _, seg := range segs {
		if seg.TempFile != "" {
			_ = os.Remove(seg.TempFile)
		}
	}
	if err := e.store.PutDownload(&d); err != nil {
		return err
	}
	_ = e.store.AppendLog(id, "info", "cancelled")
	return nil
}

// Delete cancels the download, optionally removes the final file, and
// drops all of its persisted and in-memory state.
func (e *Engine) Delete(id string, alsoRemoveFile bool) error {
	d, ok := e.Get(id)
	if !ok {
		return ErrNotFound
	}
	if err := e.Cancel(id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if alsoRemoveFile {
		_ = os.Remove(d.FinalPath())
	}
	if err := e.store.DeleteSegments(id); err != nil {
		return err
	}
	if err := e.store.DeleteDownload(id); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.downloads, id)
	e.mu.Unlock()
	return nil
}
