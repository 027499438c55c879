// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

// Package nativemsg implements the length-prefixed JSON wire protocol the
// browser extension speaks to the engine, and a thin RPC adaptor
// translating its request surface onto the Coordinator.
package nativemsg

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxMessageBytes bounds a single message body; anything larger is a
// protocol error.
const MaxMessageBytes = 1 << 20 // 1 MiB

// ErrMessageTooLarge is returned by ReadMessage when the declared length
// exceeds MaxMessageBytes.
var ErrMessageTooLarge = fmt.Errorf("nativemsg: message exceeds %d bytes", MaxMessageBytes)

// Envelope is the wire body: { "type": <string>, "payload": <object> }.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ReadMessage reads one <uint32 little-endian length><UTF-8 JSON body>
// frame from r and decodes its envelope.
func ReadMessage(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxMessageBytes {
		return Envelope{}, ErrMessageTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, fmt.Errorf("nativemsg: read body: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("nativemsg: decode envelope: %w", err)
	}
	return env, nil
}

// WriteMessage encodes v as the payload of a typed envelope and writes the
// length-prefixed frame to w.
func WriteMessage(w io.Writer, msgType string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nativemsg: encode payload: %w", err)
	}
	body, err := json.Marshal(Envelope{Type: msgType, Payload: payload})
	if err != nil {
		return fmt.Errorf("nativemsg: encode envelope: %w", err)
	}
	if len(body) > MaxMessageBytes {
		return ErrMessageTooLarge
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}
