// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

// Package engine is the download coordinator: it probes submitted URLs,
// plans byte-range segments, supervises segment workers, merges completed
// downloads, and drives the retry/fallback state machine. It groups the
// process-wide singletons: the HTTP client, persistence store and rate
// limiter are constructed by the caller and passed to New, and the
// in-memory download map is owned here.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"cloudeng.io/logging/ctxlog"

	"mydm/internal/category"
	"mydm/internal/model"
	"mydm/internal/ratelimit"
	"mydm/internal/retry"
	"mydm/internal/store"
)

// Config holds the advisory engine tunables: connection/idle timeouts and
// the retry budget.
type Config struct {
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	MaxRetries     int
}

// DefaultConfig returns the engine's default tunables.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 30 * time.Second,
		IdleTimeout:    2 * time.Minute,
		MaxRetries:     10,
	}
}

// Engine is the Coordinator. The zero value is not usable; use New.
type Engine struct {
	ctx        context.Context
	store      *store.Store
	client     *http.Client
	limiter    *ratelimit.Limiter
	retry      *retry.Policy
	categories *category.Matcher
	cfg        Config

	mu        sync.Mutex
	downloads map[string]*downloadState
}

// downloadState is the in-memory, per-download runtime record: the
// persisted model plus the live fields that do not survive a restart
// (a running task's cancel function, its active flag, its telemetry).
type downloadState struct {
	mu           sync.Mutex
	d            *model.Download
	cancel       context.CancelFunc
	active       bool
	cancelIntent bool          // true once Cancel (as opposed to Pause) has signalled the task
	stopped      chan struct{} // closed by finishActive when the running task exits
	tele         *telemetry
	segTele      map[int]*telemetry
	segments     []*model.Segment
}

// New builds an Engine around its required singletons. ctx is retained as
// the parent of every download's cancellation context and should carry
// the process's structured logger via ctxlog.WithLogger; cancelling it
// stops every in-flight download.
func New(ctx context.Context, st *store.Store, client *http.Client, limiter *ratelimit.Limiter, categories *category.Matcher, cfg Config) *Engine {
	return &Engine{
		ctx:        ctx,
		store:      st,
		client:     client,
		limiter:    limiter,
		retry:      policyFromConfig(cfg),
		categories: categories,
		cfg:        cfg,
		downloads:  make(map[string]*downloadState),
	}
}

func policyFromConfig(cfg Config) *retry.Policy {
	p := retry.NewDefaultPolicy()
	if cfg.MaxRetries > 0 {
		p.MaxAttempts = cfg.MaxRetries
	}
	return p
}

// AddRequest is the submission payload for Add, mirroring the
// native-messaging add_download request fields.
type AddRequest struct {
	URL         string
	Headers     map[string]string
	Referrer    string
	SaveDir     string
	FileName    string
	Connections int
	SpeedLimit  int64
	Checksum    string
}

// ErrInvalidURL is returned by Add when the URL's scheme is not http(s).
var ErrInvalidURL = fmt.Errorf("engine: invalid url")

// ErrNotFound is returned when an operation names an unknown download id.
var ErrNotFound = fmt.Errorf("engine: download not found")

// Add validates and probes req, persists a new Download record in
// Queued status, and returns it. A probe failure is logged as a warning
// and does not fail the submission.
func (e *Engine) Add(ctx context.Context, req AddRequest) (*model.Download, error) {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, req.URL)
	}

	fileName := sanitizeFileName(req.FileName)
	if fileName == "" {
		fileName = deriveFileName(req.URL)
	}

	connections := req.Connections
	if connections < 1 {
		connections = 1
	}
	if connections > 32 {
		connections = 32
	}

	d := &model.Download{
		ID:          uuid.NewString(),
		URL:         req.URL,
		Headers:     req.Headers,
		Referrer:    req.Referrer,
		FileName:    fileName,
		Connections: connections,
		SpeedLimit:  req.SpeedLimit,
		Checksum:    req.Checksum,
		Status:      model.StatusQueued,
		CreatedAt:   time.Now().UTC(),
	}

	res, probeErr := probe(ctx, e.client, req.URL, req.Headers, req.Referrer)
	if probeErr != nil {
		ctxlog.Warn(e.ctx, "probe failed, continuing with unknown size", "url", req.URL, "error", probeErr)
	} else {
		d.TotalSize = res.TotalSize
		d.SupportsRange = res.SupportsRange
		if fileName == "" || req.FileName == "" {
			if res.FileName != "" {
				d.FileName = sanitizeFileName(res.FileName)
			}
		}
		d.Category = e.categories.Resolve(d.FileName, res.ContentType)
	}
	if d.FileName == "" {
		d.FileName = deriveFileName(req.URL)
	}

	d.SaveDir = e.resolveSaveDir(req.SaveDir, d.Category)

	if err := e.store.PutDownload(d); err != nil {
		return nil, fmt.Errorf("engine: persist download: %w", err)
	}
	e.mu.Lock()
	e.downloads[d.ID] = &downloadState{d: d, tele: newDownloadTelemetry()}
	e.mu.Unlock()
	_ = e.store.AppendLog(d.ID, "info", fmt.Sprintf("queued %s", d.URL))
	return d, nil
}

func (e *Engine) resolveSaveDir(requested, category string) string {
	if requested != "" {
		return requested
	}
	base, ok, err := e.store.GetSetting(model.SettingDefaultSavePath)
	if err != nil || !ok || base == "" {
		base = "."
	}
	if category == "" {
		return base
	}
	return filepath.Join(base, category)
}

// Get returns the in-memory record for id.
func (e *Engine) Get(id string) (*model.Download, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ds, ok := e.downloads[id]
	if !ok {
		return nil, false
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	cp := *ds.d
	return &cp, true
}

// List returns every in-memory download record.
func (e *Engine) List() []*model.Download {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*model.Download, 0, len(e.downloads))
	for _, ds := range e.downloads {
		ds.mu.Lock()
		cp := *ds.d
		ds.mu.Unlock()
		out = append(out, &cp)
	}
	return out
}

// RestoreState loads every persisted download into memory at process
// start, demoting any Downloading record to Paused since its worker task
// did not survive the restart.
func (e *Engine) RestoreState() error {
	all, err := e.store.ListDownloads()
	if err != nil {
		return fmt.Errorf("engine: restore: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range all {
		if d.Status == model.StatusDownloading {
			d.Status = model.StatusPaused
		}
		d.Rate = 0
		d.TimeLeft = 0
		segs, err := e.store.ListSegments(d.ID)
		if err != nil {
			return fmt.Errorf("engine: restore segments for %s: %w", d.ID, err)
		}
		e.downloads[d.ID] = &downloadState{d: d, tele: newDownloadTelemetry(), segments: segs}
		if err := e.store.PutDownload(d); err != nil {
			return fmt.Errorf("engine: restore: persist %s: %w", d.ID, err)
		}
	}
	return nil
}

func (e *Engine) getState(id string) (*downloadState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ds, ok := e.downloads[id]
	return ds, ok
}
