// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package engine

import (
	"context"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"mydm/internal/httpx"
)

// probeResult is what the Coordinator learns about a remote resource
// before it decides on segmented vs single-stream mode.
type probeResult struct {
	TotalSize     int64
	SupportsRange bool
	ContentType   string
	FileName      string // from Content-Disposition, empty if absent
}

// probe issues a HEAD and, on failure, falls back to a ranged GET for
// byte 0. A probe failure in both forms is reported to the
// caller as an error so it can be logged as a warning and treated as
// non-fatal; it is never fatal to submission.
func probe(ctx context.Context, client *http.Client, url string, headers map[string]string, referrer string) (probeResult, error) {
	res, err := doProbe(ctx, client, http.MethodHead, url, headers, referrer, nil)
	if err == nil {
		return res, nil
	}
	rangeHeaders := map[string]string{"Range": "bytes=0-0"}
	for k, v := range headers {
		rangeHeaders[k] = v
	}
	return doProbe(ctx, client, http.MethodGet, url, headers, referrer, rangeHeaders)
}

func doProbe(ctx context.Context, client *http.Client, method, url string, headers map[string]string, referrer string, extra map[string]string) (probeResult, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return probeResult{}, err
	}
	req.Header.Set("User-Agent", httpx.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	if ref, ok := httpx.ValidReferrer(referrer); ok {
		req.Header.Set("Referer", ref)
	}
	resp, err := client.Do(req)
	if err != nil {
		return probeResult{}, &httpx.TransportError{Err: err, URL: url}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return probeResult{}, &httpx.StatusError{Code: resp.StatusCode, URL: url}
	}

	res := probeResult{
		ContentType:   parseContentType(resp.Header.Get("Content-Type")),
		FileName:      parseContentDisposition(resp.Header.Get("Content-Disposition")),
		SupportsRange: resp.StatusCode == http.StatusPartialContent || acceptsRanges(resp.Header.Get("Accept-Ranges")),
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		res.SupportsRange = true
		if total, ok := parseContentRangeTotal(cr); ok {
			res.TotalSize = total
		}
	}
	if res.TotalSize == 0 {
		if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
			res.TotalSize = n
		}
	}
	return res, nil
}

func acceptsRanges(header string) bool {
	return strings.Contains(strings.ToLower(header), "bytes")
}

func parseContentType(header string) string {
	if header == "" {
		return ""
	}
	ct, _, err := mime.ParseMediaType(header)
	if err != nil {
		return header
	}
	return ct
}

// parseContentDisposition extracts the filename, preferring the RFC 5987
// filename* form over the plain filename form.
func parseContentDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	if v, ok := params["filename*"]; ok {
		return decodeExtFileName(v)
	}
	return strings.Trim(params["filename"], `"`)
}

// decodeExtFileName strips the RFC 5987 charset/lang prefix (e.g.
// "UTF-8''name.zip") from a filename* parameter value.
func decodeExtFileName(v string) string {
	if i := strings.Index(v, "''"); i >= 0 {
		return v[i+2:]
	}
	return v
}

// parseContentRangeTotal extracts the total size from a header of the
// form "bytes 0-0/12345". "*" as the total (size unknown) returns false.
func parseContentRangeTotal(header string) (int64, bool) {
	i := strings.LastIndexByte(header, '/')
	if i < 0 || i == len(header)-1 {
		return 0, false
	}
	total := header[i+1:]
	if total == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
