package models

import (
	"fmt"
	"time"
)

// ExportMode controls what an export cycle writes for a channel.
type ExportMode string

// ExportMode constants define the per-channel export variants.
const (
	ExportBoth         ExportMode = "both"          // messages and media
	ExportMessagesOnly ExportMode = "messages_only" // skip media downloads
	ExportFilesOnly    ExportMode = "files_only"    // skip messages without media
)

// ParseExportMode validates a roster value, defaulting empty to ExportBoth.
func ParseExportMode(s string) (ExportMode, error) {
	switch ExportMode(s) {
	case "":
		return ExportBoth, nil
	case ExportBoth, ExportMessagesOnly, ExportFilesOnly:
		return ExportMode(s), nil
	}
	return "", fmt.Errorf("unknown export mode %q", s)
}

// ChannelRef identifies one channel in the archive roster.
type ChannelRef struct {
	ID       int64      `yaml:"id"`
	Title    string     `yaml:"title"`
	Username string     `yaml:"username,omitempty"`
	Export   ExportMode `yaml:"export,omitempty"`
}

// ChannelCheckpoint is the durable per-channel progress marker. It is owned
// by the export coordinator and mutated only after a successful sink write.
type ChannelCheckpoint struct {
	ChannelID     int64     `gorm:"primaryKey" json:"channel_id"`
	LastMessageID int64     `json:"last_message_id"`
	TotalMessages int64     `json:"total_messages"`
	LastCheck     time.Time `json:"last_check"`
}
