// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package nativemsg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"cloudeng.io/logging/ctxlog"

	"mydm/internal/engine"
	"mydm/internal/model"
)

// Coordinator is the subset of *engine.Engine the RPC adaptor drives.
type Coordinator interface {
	Add(ctx context.Context, req engine.AddRequest) (*model.Download, error)
	Get(id string) (*model.Download, bool)
	List() []*model.Download
}

// Adaptor serves the native-messaging request surface over a single
// stdin/stdout-shaped stream, one message at a time. It holds no session
// state of its own beyond the Coordinator it was built with.
type Adaptor struct {
	coord Coordinator

	mu sync.Mutex // serializes writes to w
	w  io.Writer
}

// NewAdaptor builds an Adaptor writing responses to w.
func NewAdaptor(coord Coordinator, w io.Writer) *Adaptor {
	return &Adaptor{coord: coord, w: w}
}

// Serve reads frames from r until it returns an error (including io.EOF on
// a clean close) or ctx is cancelled, dispatching each to Handle.
func (a *Adaptor) Serve(ctx context.Context, r io.Reader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		env, err := ReadMessage(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		a.Handle(ctx, env)
	}
}

// Handle dispatches one envelope and writes its response. Errors writing
// the response are logged, not returned, since the caller's read loop
// should keep running regardless.
func (a *Adaptor) Handle(ctx context.Context, env Envelope) {
	var base basePayload
	_ = json.Unmarshal(env.Payload, &base)

	switch env.Type {
	case TypeHealthcheck:
		a.reply(ctx, TypeHealthcheckResult, map[string]any{"requestId": base.RequestID, "ok": true})
	case TypePing:
		a.reply(ctx, TypePong, map[string]any{"requestId": base.RequestID})
	case TypeAddDownload:
		a.handleAddDownload(ctx, env.Payload)
	case TypeAddMediaDownload:
		a.replyError(ctx, base.RequestID, CodeNotImplemented, "media pipeline not implemented")
	case TypeGetStatus:
		a.handleGetStatus(ctx, env.Payload)
	default:
		a.replyError(ctx, base.RequestID, CodeBadRequest, fmt.Sprintf("unrecognized request type %q", env.Type))
	}
}

func (a *Adaptor) handleAddDownload(ctx context.Context, raw json.RawMessage) {
	var p AddDownloadPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		a.replyError(ctx, "", CodeBadRequest, "malformed add_download payload")
		return
	}
	d, err := a.coord.Add(ctx, engine.AddRequest{
		URL:      p.URL,
		Headers:  p.Headers,
		Referrer: p.Referrer,
		FileName: p.FileName,
	})
	if err != nil {
		code := CodeInternal
		if errors.Is(err, engine.ErrInvalidURL) {
			code = CodeInvalidURL
		}
		a.replyError(ctx, p.RequestID, code, err.Error())
		return
	}
	a.reply(ctx, TypeDownloadAdded, map[string]any{
		"requestId":  p.RequestID,
		"downloadId": d.ID,
		"fileName":   d.FileName,
	})
}

func (a *Adaptor) handleGetStatus(ctx context.Context, raw json.RawMessage) {
	var p GetStatusPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		a.replyError(ctx, "", CodeBadRequest, "malformed get_status payload")
		return
	}
	if p.DownloadID != "" {
		d, ok := a.coord.Get(p.DownloadID)
		if !ok {
			a.replyError(ctx, p.RequestID, CodeNotFound, "no such download")
			return
		}
		a.reply(ctx, TypeStatus, map[string]any{
			"requestId": p.RequestID,
			"downloads": []DownloadStatus{toWireStatus(d)},
		})
		return
	}
	all := a.coord.List()
	statuses := make([]DownloadStatus, 0, len(all))
	for _, d := range all {
		statuses = append(statuses, toWireStatus(d))
	}
	a.reply(ctx, TypeStatus, map[string]any{"requestId": p.RequestID, "downloads": statuses})
}

func toWireStatus(d *model.Download) DownloadStatus {
	return DownloadStatus{
		ID:          d.ID,
		URL:         d.URL,
		FileName:    d.FileName,
		Status:      d.Status.String(),
		TotalSize:   d.TotalSize,
		Downloaded:  d.Downloaded,
		Rate:        d.Rate,
		TimeLeftSec: d.TimeLeft.Seconds(),
		LastError:   d.LastError,
	}
}

func (a *Adaptor) reply(ctx context.Context, msgType string, payload any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := WriteMessage(a.w, msgType, payload); err != nil {
		ctxlog.Error(ctx, "nativemsg: failed to write response", "type", msgType, "error", err)
	}
}

func (a *Adaptor) replyError(ctx context.Context, requestID, code, message string) {
	a.reply(ctx, TypeError, ErrorPayload{RequestID: requestID, Message: message, Code: code})
}
