// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

// Package queue implements the queue scheduler: a periodic ticker that
// admits Queued downloads into Downloading state under a concurrency cap
// and an optional daily time window.
package queue

import (
	"context"
	"sort"
	"strings"
	"time"

	cloudengerrors "cloudeng.io/errors"
	"cloudeng.io/logging/ctxlog"

	"mydm/internal/model"
)

const tickInterval = 5 * time.Second

// Coordinator is the subset of the engine the scheduler needs: listing
// in-memory downloads and starting one by id.
type Coordinator interface {
	List() []*model.Download
	Start(id string) error
}

// Window is the (start, stop, weekdays) predicate a queue dispatches
// under. A zero Window is always open ("no window → always active").
// Start/Stop are "HH:MM"; Start > Stop means the window wraps midnight
// ("outside [stop,start]" is the dispatching interval).
type Window struct {
	Enabled bool
	Start   string // "HH:MM", empty means open-ended
	Stop    string // "HH:MM", empty means open-ended
	Days    []string
}

// Covers reports whether now falls inside the window.
func (w Window) Covers(now time.Time) bool {
	if !w.Enabled {
		return true
	}
	if len(w.Days) > 0 && !containsDay(w.Days, now.Weekday()) {
		return false
	}
	if w.Start == "" || w.Stop == "" {
		return true
	}
	start, sOK := parseHHMM(w.Start)
	stop, eOK := parseHHMM(w.Stop)
	if !sOK || !eOK {
		return true
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= stop {
		return cur >= start && cur < stop
	}
	// Wraps midnight: the dispatching interval is [start, stop) going
	// through 00:00, i.e. everything outside [stop, start).
	return cur >= start || cur < stop
}

func containsDay(days []string, d time.Weekday) bool {
	abbrev := dayAbbrev(d)
	for _, day := range days {
		if strings.EqualFold(strings.TrimSpace(day), abbrev) {
			return true
		}
	}
	return false
}

func dayAbbrev(d time.Weekday) string {
	return [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}[d]
}

func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, hOK := atoi2(parts[0])
	m, mOK := atoi2(parts[1])
	if !hOK || !mOK || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h * 60 + m, true
}

func atoi2(s string) (int, bool) {
	if len(s) == 0 || len(s) > 2 {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// Scheduler owns the 5-second admission ticker.
type Scheduler struct {
	coord         Coordinator
	window        func() Window
	maxConcurrent func() int
	now           func() time.Time
}

// New builds a Scheduler. windowFn and maxConcurrentFn are called on
// every tick so the admin can change the queue window or the
// concurrency cap (via Settings) without restarting the scheduler.
func New(coord Coordinator, windowFn func() Window, maxConcurrentFn func() int) *Scheduler {
	return &Scheduler{
		coord:         coord,
		window:        windowFn,
		maxConcurrent: maxConcurrentFn,
		now:           time.Now,
	}
}

// Run blocks, ticking every 5 seconds until ctx is cancelled. A single
// tick's Start failures are logged and swallowed to keep the loop alive;
// they do not surface through Run's return value.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			ctxlog.Error(ctx, "queue tick panicked, continuing", "recover", r)
		}
	}()

	w := s.window()
	now := s.now()
	if !w.Covers(now) {
		return
	}
	maxConcurrent := s.maxConcurrent()
	if maxConcurrent <= 0 {
		return
	}

	all := s.coord.List()
	active := 0
	var queued []*model.Download
	for _, d := range all {
		switch d.Status {
		case model.StatusDownloading:
			active++
		case model.StatusQueued:
			queued = append(queued, d)
		}
	}
	if active >= maxConcurrent {
		return
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].CreatedAt.Before(queued[j].CreatedAt) })

	errs := cloudengerrors.M{}
	admitted := 0
	for _, d := range queued {
		if active+admitted >= maxConcurrent {
			break
		}
		if err := s.coord.Start(d.ID); err != nil {
			errs.Append(err)
			continue
		}
		admitted++
	}
	if err := errs.Err(); err != nil {
		ctxlog.Warn(ctx, "some queued downloads failed to start", "error", err)
	}
}
