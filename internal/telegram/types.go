package telegram

import (
	"github.com/gotd/td/tg"

	"github.com/blockedby/channel-archiver/internal/models"
)

// Channel represents a resolved telegram channel
type Channel struct {
	ID         int64  // channel id
	AccessHash int64  // access hash for api calls
	Username   string // channel username (without @)
	Title      string // channel title
}

// InputPeer returns the peer reference for api calls.
func (c *Channel) InputPeer() *tg.InputPeerChannel {
	return &tg.InputPeerChannel{
		ChannelID:  c.ID,
		AccessHash: c.AccessHash,
	}
}

// FetchedMessage pairs an archive record with its media download task.
// Media is nil when the message carries nothing downloadable.
type FetchedMessage struct {
	Record models.MessageRecord
	Media  *models.DownloadTask
}

// FetchStats tracks statistics during a history fetch
type FetchStats struct {
	TotalFetched int // total messages fetched from telegram
	WithMedia    int // messages carrying downloadable media
	SkippedEmpty int // messages skipped due to empty content
}
