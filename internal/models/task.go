package models

import (
	"fmt"

	"github.com/gotd/td/tg"
)

// DownloadTask is one pending media fetch derived from a message. Tasks are
// created by the coordinator and consumed exactly once by the acquisition
// engine; the outcome is either a resolved local path or absence.
type DownloadTask struct {
	MessageID  int
	TargetPath string // where the engine writes the file
	Kind       MediaKind
	Ext        string // file extension including the dot

	// Location is the provider file handle captured when the message was
	// parsed, so the download never needs to re-fetch the message.
	Location tg.InputFileLocationClass
	Size     int64
}

// MediaFilename builds the canonical media file name for a message.
func MediaFilename(messageID int, kind MediaKind, ext string) string {
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("msg_%d_%s%s", messageID, kind, ext)
}
