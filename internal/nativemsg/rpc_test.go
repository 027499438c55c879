// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package nativemsg

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"mydm/internal/engine"
	"mydm/internal/model"
)

type fakeCoordinator struct {
	byID   map[string]*model.Download
	addErr error
	added  []engine.AddRequest
}

func (f *fakeCoordinator) Add(_ context.Context, req engine.AddRequest) (*model.Download, error) {
	f.added = append(f.added, req)
	if f.addErr != nil {
		return nil, f.addErr
	}
	d := &model.Download{ID: "d1", URL: req.URL, FileName: "out.bin", Status: model.StatusQueued}
	if f.byID == nil {
		f.byID = map[string]*model.Download{}
	}
	f.byID[d.ID] = d
	return d, nil
}

func (f *fakeCoordinator) Get(id string) (*model.Download, bool) {
	d, ok := f.byID[id]
	return d, ok
}

func (f *fakeCoordinator) List() []*model.Download {
	out := make([]*model.Download, 0, len(f.byID))
	for _, d := range f.byID {
		out = append(out, d)
	}
	return out
}

func decodeEnvelope(t *testing.T, buf *bytes.Buffer) Envelope {
	t.Helper()
	env, err := ReadMessage(buf)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestAdaptorHealthcheck(t *testing.T) {
	var out bytes.Buffer
	a := NewAdaptor(&fakeCoordinator{}, &out)
	a.Handle(context.Background(), Envelope{Type: TypeHealthcheck, Payload: json.RawMessage(`{"requestId":"r1"}`)})

	env := decodeEnvelope(t, &out)
	if env.Type != TypeHealthcheckResult {
		t.Fatalf("Type = %q", env.Type)
	}
}

func TestAdaptorAddDownloadSuccess(t *testing.T) {
	var out bytes.Buffer
	coord := &fakeCoordinator{}
	a := NewAdaptor(coord, &out)
	a.Handle(context.Background(), Envelope{
		Type:    TypeAddDownload,
		Payload: json.RawMessage(`{"requestId":"r2","url":"https://example.com/a.zip"}`),
	})

	env := decodeEnvelope(t, &out)
	if env.Type != TypeDownloadAdded {
		t.Fatalf("Type = %q, payload = %s", env.Type, env.Payload)
	}
	if len(coord.added) != 1 || coord.added[0].URL != "https://example.com/a.zip" {
		t.Fatalf("coordinator did not receive the expected Add call: %+v", coord.added)
	}
}

func TestAdaptorAddDownloadInvalidURL(t *testing.T) {
	var out bytes.Buffer
	coord := &fakeCoordinator{addErr: engine.ErrInvalidURL}
	a := NewAdaptor(coord, &out)
	a.Handle(context.Background(), Envelope{
		Type:    TypeAddDownload,
		Payload: json.RawMessage(`{"requestId":"r3","url":"ftp://x"}`),
	})

	env := decodeEnvelope(t, &out)
	if env.Type != TypeError {
		t.Fatalf("Type = %q, want error", env.Type)
	}
	var errPayload ErrorPayload
	if err := json.Unmarshal(env.Payload, &errPayload); err != nil {
		t.Fatal(err)
	}
	if errPayload.Code != CodeInvalidURL {
		t.Fatalf("Code = %q, want %q", errPayload.Code, CodeInvalidURL)
	}
}

func TestAdaptorAddMediaDownloadNotImplemented(t *testing.T) {
	var out bytes.Buffer
	a := NewAdaptor(&fakeCoordinator{}, &out)
	a.Handle(context.Background(), Envelope{
		Type:    TypeAddMediaDownload,
		Payload: json.RawMessage(`{"requestId":"r4","manifestUrl":"https://x/m.m3u8","mediaType":"hls"}`),
	})

	env := decodeEnvelope(t, &out)
	var errPayload ErrorPayload
	if err := json.Unmarshal(env.Payload, &errPayload); err != nil {
		t.Fatal(err)
	}
	if errPayload.Code != CodeNotImplemented {
		t.Fatalf("Code = %q, want %q", errPayload.Code, CodeNotImplemented)
	}
}

func TestAdaptorGetStatusByID(t *testing.T) {
	var out bytes.Buffer
	coord := &fakeCoordinator{byID: map[string]*model.Download{
		"d1": {ID: "d1", Status: model.StatusDownloading, TotalSize: 100, Downloaded: 50},
	}}
	a := NewAdaptor(coord, &out)
	a.Handle(context.Background(), Envelope{
		Type:    TypeGetStatus,
		Payload: json.RawMessage(`{"requestId":"r5","downloadId":"d1"}`),
	})

	env := decodeEnvelope(t, &out)
	if env.Type != TypeStatus {
		t.Fatalf("Type = %q", env.Type)
	}
}

func TestAdaptorGetStatusUnknownID(t *testing.T) {
	var out bytes.Buffer
	a := NewAdaptor(&fakeCoordinator{}, &out)
	a.Handle(context.Background(), Envelope{
		Type:    TypeGetStatus,
		Payload: json.RawMessage(`{"requestId":"r6","downloadId":"missing"}`),
	})

	env := decodeEnvelope(t, &out)
	var errPayload ErrorPayload
	if err := json.Unmarshal(env.Payload, &errPayload); err != nil {
		t.Fatal(err)
	}
	if errPayload.Code != CodeNotFound {
		t.Fatalf("Code = %q, want %q", errPayload.Code, CodeNotFound)
	}
}

func TestAdaptorUnrecognizedType(t *testing.T) {
	var out bytes.Buffer
	a := NewAdaptor(&fakeCoordinator{}, &out)
	a.Handle(context.Background(), Envelope{Type: "bogus", Payload: json.RawMessage(`{}`)})

	env := decodeEnvelope(t, &out)
	if env.Type != TypeError {
		t.Fatalf("Type = %q, want error", env.Type)
	}
}
