// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package engine

import (
	"context"
	"sync"
	"time"

	"cloudeng.io/logging/ctxlog"
	"cloudeng.io/sync/errgroup"
	"github.com/google/uuid"

	"mydm/internal/model"
	"mydm/internal/segment"
)

const progressWriteInterval = 120 * time.Millisecond

// runSegmented plans (or resumes) a download's segments and drives them
// concurrently, one Segment Worker per pending segment bounded by the
// download's connection count. It returns the first error any
// worker raised (including RangeNotSupported/RangeNotSatisfiable, which
// the caller treats as a fallback signal rather than a failure).
func (e *Engine) runSegmented(ctx context.Context, ds *downloadState) error {
	ds.mu.Lock()
	id := ds.d.ID
	rawURL := ds.d.URL
	headers := ds.d.Headers
	referrer := ds.d.Referrer
	connections := ds.d.Connections
	totalSize := ds.d.TotalSize
	speedLimit := ds.d.SpeedLimit
	segs := ds.segments
	ds.mu.Unlock()

	if len(segs) == 0 {
		var err error
		segs, err = e.store.ListSegments(id)
		if err != nil {
			return err
		}
	}
	if len(segs) == 0 {
		segs = partitionSegments(id, totalSize, connections)
		if err := e.store.PutSegments(segs); err != nil {
			return err
		}
	}

	ds.mu.Lock()
	ds.segments = segs
	if ds.segTele == nil {
		ds.segTele = make(map[int]*telemetry)
	}
	for _, seg := range segs {
		if _, ok := ds.segTele[seg.Index]; !ok {
			ds.segTele[seg.Index] = newSegmentTelemetry()
		}
	}
	ds.mu.Unlock()

	worker := segment.NewWorker(e.client, e.limiter, speedLimit)
	g, gctx := errgroup.WithContext(ctx)
	g = errgroup.WithConcurrency(g, connections)

	var progressMu sync.Mutex
	lastWrite := make(map[int]time.Time)

	for _, seg := range segs {
		seg := seg
		if seg.Status == model.SegmentDone {
			continue
		}
		g.Go(func() error {
			return worker.Run(gctx, seg, id, rawURL, headers, referrer, func(downloaded int64) {
				progressMu.Lock()
				defer progressMu.Unlock()
				e.onSegmentProgress(ds, seg, downloaded, lastWrite)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return e.mergeAndFinish(gctx, ds, segs)
}

// onSegmentProgress reconciles one segment's progress into the parent
// download's aggregate total under the download's single mutex, and
// throttles persistence writes to roughly once every 120ms per segment.
func (e *Engine) onSegmentProgress(ds *downloadState, seg *model.Segment, downloaded int64, lastWrite map[int]time.Time) {
	now := time.Now()

	ds.mu.Lock()
	seg.Downloaded = downloaded
	seg.Rate = ds.segTele[seg.Index].sample(now, downloaded)

	var total int64
	for _, s := range ds.segments {
		total += s.Downloaded
	}
	ds.d.Downloaded = total
	ds.d.Rate = ds.tele.sample(now, total)
	ds.d.TimeLeft = timeLeft(ds.d.Rate, total, ds.d.TotalSize)

	write := now.Sub(lastWrite[seg.Index]) >= progressWriteInterval
	var dCopy model.Download
	var segCopy model.Segment
	if write {
		lastWrite[seg.Index] = now
		dCopy = *ds.d
		segCopy = *seg
	}
	ds.mu.Unlock()

	if write {
		_ = e.store.PutSegment(&segCopy)
		_ = e.store.PutDownload(&dCopy)
	}
}

func (e *Engine) mergeAndFinish(ctx context.Context, ds *downloadState, segs []*model.Segment) error {
	ds.mu.Lock()
	ds.d.Status = model.StatusMerging
	d := *ds.d
	ds.mu.Unlock()
	_ = e.store.PutDownload(&d)
	_ = e.store.AppendLog(d.ID, "info", "merging")
	ctxlog.Info(ctx, "merging segments", "id", d.ID, "segments", len(segs))

	if err := mergeSegments(segs, d.PartialPath()); err != nil {
		return err
	}
	for _, seg := range segs {
		if seg.TempFile != "" {
			removeIgnoringMissing(ctx, seg.TempFile)
		}
	}
	if err := e.store.DeleteSegments(d.ID); err != nil {
		return err
	}
	ds.mu.Lock()
	ds.segments = nil
	ds.mu.Unlock()
	return nil
}

// partitionSegments divides [0, totalSize) into n contiguous pieces, the
// first (totalSize mod n) of which are one byte larger.
func partitionSegments(downloadID string, totalSize int64, n int) []*model.Segment {
	if n < 1 {
		n = 1
	}
	base := totalSize / int64(n)
	extra := totalSize % int64(n)
	segs := make([]*model.Segment, 0, n)
	var start int64
	for i := 0; i < n; i++ {
		length := base
		if int64(i) < extra {
			length++
		}
		if length <= 0 {
			continue
		}
		end := start + length - 1
		segs = append(segs, &model.Segment{
			ID:         uuid.NewString(),
			DownloadID: downloadID,
			Index:      i,
			StartByte:  start,
			EndByte:    end,
			Status:     model.SegmentPending,
		})
		start = end + 1
	}
	return segs
}
