// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

// Command mydm is the standalone entry point for the download engine: a
// cmdutil/subcmd command tree over the same Coordinator the (out-of-scope)
// browser extension drives through internal/nativemsg.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloudeng.io/cmdutil"
	"cloudeng.io/cmdutil/signals"
	"cloudeng.io/cmdutil/subcmd"
	"cloudeng.io/logging/ctxlog"

	"mydm/internal/category"
	"mydm/internal/config"
	"mydm/internal/engine"
	"mydm/internal/httpx"
	"mydm/internal/model"
	"mydm/internal/nativemsg"
	"mydm/internal/queue"
	"mydm/internal/ratelimit"
	"mydm/internal/store"
)

func main() {
	ctx := context.Background()
	if err := cmdSet().Dispatch(ctx); err != nil {
		cmdutil.Exit("%v", err)
	}
}

func cmdSet() *subcmd.CommandSet {
	addFS := subcmd.NewFlagSet()
	addFS.MustRegisterFlagStruct(&addFlags{}, nil, nil)
	idOnlyFS := subcmd.NewFlagSet()
	idOnlyFS.MustRegisterFlagStruct(&idFlags{}, nil, nil)
	deleteFS := subcmd.NewFlagSet()
	deleteFS.MustRegisterFlagStruct(&deleteFlags{}, nil, nil)
	listFS := subcmd.NewFlagSet()
	listFS.MustRegisterFlagStruct(&listFlags{}, nil, nil)
	serveFS := subcmd.NewFlagSet()
	serveFS.MustRegisterFlagStruct(&serveFlags{}, nil, nil)

	addCmd := subcmd.NewCommand("add", addFS, runAdd, subcmd.ExactlyNumArguments(1))
	addCmd.Document("submit a URL for download", "<url>")

	startCmd := subcmd.NewCommand("start", idOnlyFS, runStart, subcmd.ExactlyNumArguments(1))
	startCmd.Document("start or resume a queued/paused download, blocking until it reaches a terminal state", "<id>")

	pauseCmd := subcmd.NewCommand("pause", idOnlyFS, runPause, subcmd.ExactlyNumArguments(1))
	pauseCmd.Document("pause an in-flight download", "<id>")

	resumeCmd := subcmd.NewCommand("resume", idOnlyFS, runStart, subcmd.ExactlyNumArguments(1))
	resumeCmd.Document("resume a paused download, blocking until it reaches a terminal state (alias for start)", "<id>")

	cancelCmd := subcmd.NewCommand("cancel", idOnlyFS, runCancel, subcmd.ExactlyNumArguments(1))
	cancelCmd.Document("cancel a download and remove its partial file", "<id>")

	deleteCmd := subcmd.NewCommand("delete", deleteFS, runDelete, subcmd.ExactlyNumArguments(1))
	deleteCmd.Document("delete a download's state", "<id>")

	listCmd := subcmd.NewCommand("list", listFS, runList, subcmd.WithoutArguments())
	listCmd.Document("list known downloads")

	serveCmd := subcmd.NewCommand("serve", serveFS, runServe, subcmd.WithoutArguments())
	serveCmd.Document("run the native-messaging RPC adaptor and queue scheduler in the foreground")

	return subcmd.NewCommandSet(addCmd, startCmd, pauseCmd, resumeCmd, cancelCmd, deleteCmd, listCmd, serveCmd)
}

type addFlags struct {
	SaveDir     string `subcmd:"save-dir,,destination directory; defaults to the configured DefaultSavePath"`
	FileName    string `subcmd:"filename,,override the derived/probed file name"`
	Referrer    string `subcmd:"referrer,,Referer header to send"`
	Connections int    `subcmd:"connections,4,number of segment workers for range-capable servers"`
	SpeedLimit  int64  `subcmd:"speed-limit,0,per-download byte/sec cap; 0 = unlimited"`
	Checksum    string `subcmd:"checksum,,expected SHA-256 hex digest, verified after merge"`
}

type idFlags struct{}

type deleteFlags struct {
	RemoveFile bool `subcmd:"remove-file,false,also delete the final downloaded file"`
}

type listFlags struct{}

type serveFlags struct{}

// bootstrap wires the process-wide singletons every subcommand needs:
// config, store, HTTP client, rate limiter, categories, and the engine
// itself, constructed and torn down together in one place.
type bootstrap struct {
	cfg *config.Config
	st  *store.Store
	eng *engine.Engine
	lim *ratelimit.Limiter
}

func newBootstrap(ctx context.Context) (*bootstrap, context.Context, error) {
	cfg := config.LoadOrDefault()
	cfg.Proxy.Apply()

	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, nil)
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	logger := slog.New(handler)
	ctx = ctxlog.WithLogger(ctx, logger)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, ctx, fmt.Errorf("mydm: open store: %w", err)
	}

	client := httpx.NewClient(cfg.ConnectTimeout(), cfg.IdleTimeout())
	limiter := ratelimit.New()
	if capKB, ok, _ := st.GetSetting("GlobalSpeedLimit"); ok && capKB != "" {
		var kb int64
		fmt.Sscanf(capKB, "%d", &kb)
		limiter.SetGlobalCap(kb * 1024)
	}
	categories := newCategoryMatcher(st)

	eng := engine.New(ctx, st, client, limiter, categories, engine.DefaultConfig())
	if err := eng.RestoreState(); err != nil {
		st.Close()
		return nil, ctx, fmt.Errorf("mydm: restore state: %w", err)
	}

	return &bootstrap{cfg: cfg, st: st, eng: eng, lim: limiter}, ctx, nil
}

func (b *bootstrap) close() {
	_ = b.st.Close()
}

func newCategoryMatcher(st *store.Store) *category.Matcher {
	rules, err := st.ListCategories()
	if err != nil || len(rules) == 0 {
		rules = category.DefaultRules()
	}
	return category.NewMatcher(rules)
}

func runAdd(ctx context.Context, values interface{}, args []string) error {
	fl := values.(*addFlags)
	b, ctx, err := newBootstrap(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	d, err := b.eng.Add(ctx, engine.AddRequest{
		URL:         args[0],
		Referrer:    fl.Referrer,
		SaveDir:     fl.SaveDir,
		FileName:    fl.FileName,
		Connections: fl.Connections,
		SpeedLimit:  fl.SpeedLimit,
		Checksum:    fl.Checksum,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%s\n", d.ID, d.Status, d.FileName)
	return nil
}

func runStart(ctx context.Context, _ interface{}, args []string) error {
	b, ctx, err := newBootstrap(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	id := args[0]
	if err := b.eng.Start(id); err != nil {
		return err
	}
	return waitForTerminal(ctx, b.eng, id)
}

// waitForTerminal blocks until id reaches a status the engine will not
// advance on its own: Complete, Error, Cancelled or Paused. Start launches
// the download as a background task inside the engine; without this, the
// process would exit (and the task with it) as soon as runStart returned,
// making a standalone "mydm start" never actually transfer anything. A
// SIGINT/SIGTERM while waiting pauses the download so progress is saved
// instead of being killed outright.
func waitForTerminal(ctx context.Context, eng *engine.Engine, id string) error {
	_, handler := signals.NotifyWithCancel(ctx, signals.Defaults()...)
	handler.RegisterCancel(func() { _ = eng.Pause(id) })

	for {
		d, ok := eng.Get(id)
		if !ok {
			return fmt.Errorf("mydm: download %s vanished", id)
		}
		switch d.Status {
		case model.StatusComplete:
			fmt.Printf("%s\tComplete\t%s\n", d.ID, d.FileName)
			return nil
		case model.StatusError:
			return fmt.Errorf("mydm: download %s failed: %s", id, d.LastError)
		case model.StatusCancelled, model.StatusPaused:
			fmt.Printf("%s\t%s\n", d.ID, d.Status)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func runPause(ctx context.Context, _ interface{}, args []string) error {
	b, _, err := newBootstrap(ctx)
	if err != nil {
		return err
	}
	defer b.close()
	return b.eng.Pause(args[0])
}

func runCancel(ctx context.Context, _ interface{}, args []string) error {
	b, _, err := newBootstrap(ctx)
	if err != nil {
		return err
	}
	defer b.close()
	return b.eng.Cancel(args[0])
}

func runDelete(ctx context.Context, values interface{}, args []string) error {
	fl := values.(*deleteFlags)
	b, _, err := newBootstrap(ctx)
	if err != nil {
		return err
	}
	defer b.close()
	return b.eng.Delete(args[0], fl.RemoveFile)
}

func runList(ctx context.Context, _ interface{}, _ []string) error {
	b, _, err := newBootstrap(ctx)
	if err != nil {
		return err
	}
	defer b.close()
	for _, d := range b.eng.List() {
		fmt.Printf("%s\t%s\t%-12s\t%d/%d\n", d.ID, d.FileName, d.Status, d.Downloaded, d.TotalSize)
	}
	return nil
}

// runServe blocks, running the queue scheduler and the native-messaging
// RPC adaptor over stdin/stdout until stdin reaches EOF or a read fails.
// A SIGINT/SIGTERM cancels ctx, which stops the scheduler and which the
// adaptor observes before reading its next message.
func runServe(ctx context.Context, _ interface{}, _ []string) error {
	b, ctx, err := newBootstrap(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	ctx, handler := signals.NotifyWithCancel(ctx, signals.Defaults()...)
	handler.RegisterCancel(func() { ctxlog.Info(ctx, "shutting down") })

	sched := queue.New(b.eng, windowFromSettings(b.st), maxConcurrentFromSettings(b.st))
	go sched.Run(ctx)

	adaptor := nativemsg.NewAdaptor(b.eng, os.Stdout)
	return adaptor.Serve(ctx, os.Stdin)
}

func windowFromSettings(st *store.Store) func() queue.Window {
	return func() queue.Window {
		enabled, _, _ := st.GetSetting("QueueScheduleEnabled")
		start, _, _ := st.GetSetting("QueueScheduleStart")
		stop, _, _ := st.GetSetting("QueueScheduleStop")
		daysCSV, _, _ := st.GetSetting("QueueScheduleDays")
		var days []string
		if daysCSV != "" {
			days = splitCSV(daysCSV)
		}
		return queue.Window{
			Enabled: enabled == "1" || enabled == "true",
			Start:   start,
			Stop:    stop,
			Days:    days,
		}
	}
}

func maxConcurrentFromSettings(st *store.Store) func() int {
	return func() int {
		v, ok, _ := st.GetSetting("MaxConcurrentDownloads")
		if !ok || v == "" {
			return 3
		}
		var n int
		fmt.Sscanf(v, "%d", &n)
		if n <= 0 {
			return 3
		}
		return n
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
