// Package models defines shared data types for the archiver.
package models

import (
	"regexp"
	"strings"
	"time"
)

// MediaKind classifies the media attached to a message.
type MediaKind string

// MediaKind constants define the supported media classes.
const (
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
	MediaOther    MediaKind = "other"
)

// MessageRecord is one archived channel message. Records are immutable once
// constructed; identity is ID, unique within a channel and non-decreasing in
// arrival order (not gap-free).
type MessageRecord struct {
	ID        int        `json:"id"`
	Date      time.Time  `json:"date"`
	Text      string     `json:"text"`
	Author    string     `json:"author,omitempty"`
	MediaKind MediaKind  `json:"media_kind,omitempty"`
	MediaPath string     `json:"media_path,omitempty"`
	Views     int        `json:"views"`
	Forwards  int        `json:"forwards"`
	Replies   int        `json:"replies"`
	Edited    *time.Time `json:"edited,omitempty"`
}

// HasMedia reports whether the record still references an attachment.
func (m *MessageRecord) HasMedia() bool {
	return m.MediaKind != ""
}

// ClearMedia drops the media reference. Used when a download did not produce
// a usable file so the archive never points at something that is not on disk.
func (m *MessageRecord) ClearMedia() {
	m.MediaKind = ""
	m.MediaPath = ""
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	strippedRunes       = regexp.MustCompile(`[\x{200D}\x{FE0F}\x{2060}-\x{206F}]`)
)

// SanitizeFilename makes a channel title safe to use as a file name.
func SanitizeFilename(name string) string {
	sanitized := unsafeFilenameChars.ReplaceAllString(name, "_")
	runes := []rune(sanitized)
	if len(runes) > 100 {
		sanitized = string(runes[:100]) + "..."
	}
	return sanitized
}

// CleanText strips emoji modifiers and word-joiner class characters that
// break downstream renderers.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(strippedRunes.ReplaceAllString(text, ""))
}
