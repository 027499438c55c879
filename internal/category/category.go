// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

// Package category matches a download's file extension or MIME type
// against the engine's persisted Category rules to choose a default save
// subfolder. The engine consumes, but does not own, these rules; any
// URL/content-type that matches no rule falls back to "Others".
package category

import (
	"strings"

	"mydm/internal/model"
)

// Matcher resolves a filename and/or content type to a save subfolder.
type Matcher struct {
	rules []*model.Category
}

// NewMatcher builds a Matcher from the persisted category rules.
func NewMatcher(rules []*model.Category) *Matcher {
	return &Matcher{rules: rules}
}

// Fallback is used when no rule matches.
const Fallback = "Others"

// Resolve returns the save subfolder for a filename and content type. It
// checks extensions first, then MIME prefixes, in rule order.
func (m *Matcher) Resolve(filename, contentType string) string {
	ext := strings.ToLower(extOf(filename))
	ct := strings.ToLower(contentType)
	for _, rule := range m.rules {
		for _, e := range rule.Extensions {
			if strings.ToLower(strings.TrimPrefix(e, ".")) == ext && ext != "" {
				return folderOrName(rule)
			}
		}
	}
	for _, rule := range m.rules {
		for _, prefix := range rule.MimeTypes {
			if ct != "" && strings.HasPrefix(ct, strings.ToLower(prefix)) {
				return folderOrName(rule)
			}
		}
	}
	return Fallback
}

func folderOrName(rule *model.Category) string {
	if rule.SaveFolder != "" {
		return rule.SaveFolder
	}
	return rule.Name
}

func extOf(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	return filename[i+1:]
}

// DefaultRules is a small, sensible starter set used when the
// Categories table is empty, in the spirit of the common downloader
// convention of bucketing by broad media kind.
func DefaultRules() []*model.Category {
	return []*model.Category{
		{ID: "compressed", Name: "Compressed", Extensions: []string{"zip", "rar", "7z", "tar", "gz", "xz"}, SaveFolder: "Compressed"},
		{ID: "documents", Name: "Documents", Extensions: []string{"pdf", "doc", "docx", "txt", "md", "epub"}, MimeTypes: []string{"application/pdf", "text/"}, SaveFolder: "Documents"},
		{ID: "music", Name: "Music", Extensions: []string{"mp3", "flac", "wav", "m4a", "ogg"}, MimeTypes: []string{"audio/"}, SaveFolder: "Music"},
		{ID: "video", Name: "Video", Extensions: []string{"mp4", "mkv", "avi", "mov", "webm"}, MimeTypes: []string{"video/"}, SaveFolder: "Video"},
		{ID: "programs", Name: "Programs", Extensions: []string{"exe", "msi", "dmg", "deb", "rpm", "appimage"}, SaveFolder: "Programs"},
	}
}
