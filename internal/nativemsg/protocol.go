// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package nativemsg

// Request types recognized by the RPC adaptor's minimum surface.
const (
	TypeHealthcheck      = "healthcheck"
	TypePing             = "ping"
	TypeAddDownload      = "add_download"
	TypeAddMediaDownload = "add_media_download"
	TypeGetStatus        = "get_status"
)

// Response types the adaptor emits.
const (
	TypeHealthcheckResult = "healthcheck_result"
	TypePong              = "pong"
	TypeDownloadAdded     = "download_added"
	TypeStatus            = "status"
	TypeError             = "error"
)

// AddDownloadPayload is the add_download request body.
type AddDownloadPayload struct {
	RequestID string            `json:"requestId"`
	Source    string            `json:"source,omitempty"`
	SentAt    string            `json:"sentAt,omitempty"`
	URL       string            `json:"url"`
	FileName  string            `json:"filename,omitempty"`
	Referrer  string            `json:"referrer,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Category  string            `json:"category,omitempty"`
}

// AddMediaDownloadPayload is the add_media_download request body. The
// media pipeline (manifest parsing, muxing) is not implemented; the
// adaptor accepts this shape only to return a well-formed "not
// implemented" error rather than an unrecognized-type error.
type AddMediaDownloadPayload struct {
	RequestID   string            `json:"requestId"`
	ManifestURL string            `json:"manifestUrl"`
	MediaType   string            `json:"mediaType"`
	Quality     string            `json:"quality,omitempty"`
	Title       string            `json:"title,omitempty"`
	Referrer    string            `json:"referrer,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// GetStatusPayload is the get_status request body; an empty DownloadID
// requests every in-memory download.
type GetStatusPayload struct {
	RequestID  string `json:"requestId"`
	DownloadID string `json:"downloadId,omitempty"`
}

// basePayload is the minimal shape every request carries, used to pull out
// requestId before dispatching on the envelope type.
type basePayload struct {
	RequestID string `json:"requestId"`
}

// DownloadStatus is the wire representation of one Download, a flattened
// subset of model.Download suitable for the extension UI.
type DownloadStatus struct {
	ID          string  `json:"id"`
	URL         string  `json:"url"`
	FileName    string  `json:"fileName"`
	Status      string  `json:"status"`
	TotalSize   int64   `json:"totalSize"`
	Downloaded  int64   `json:"downloaded"`
	Rate        float64 `json:"rate"`
	TimeLeftSec float64 `json:"timeLeftSec"`
	LastError   string  `json:"lastError,omitempty"`
}

// ErrorPayload is the body of a { "type": "error" } response.
type ErrorPayload struct {
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
	Code      string `json:"code"`
}

// Error codes returned in ErrorPayload.Code.
const (
	CodeInvalidURL     = "invalid_url"
	CodeNotFound       = "not_found"
	CodeNotImplemented = "not_implemented"
	CodeBadRequest     = "bad_request"
	CodeInternal       = "internal"
)
