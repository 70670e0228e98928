// Package telegram provides Telegram MTProto client wrapper.
package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/celestix/gotgproto"
	"github.com/gotd/td/tg"

	"github.com/blockedby/channel-archiver/internal/logger"
	"github.com/blockedby/channel-archiver/internal/models"
)

// uploadChunkSize is the upload.getFile part size. Must be a power of two
// and divisible by 1KB per the api contract.
const uploadChunkSize = 512 * 1024

// historyPageSize is the max page size MessagesGetHistory accepts.
const historyPageSize = 100

// Client wraps gotgproto client and provides high-level channel operations.
// It uses the Manager to access the underlying protocol client.
type Client struct {
	manager     *Manager
	rateLimiter *RateLimiter
	log         *logger.Logger
}

// NewClient creates a new telegram client wrapper using the Manager.
func NewClient(manager *Manager) *Client {
	return &Client{
		manager:     manager,
		rateLimiter: DefaultRateLimiter(),
		log:         logger.Get(),
	}
}

// NewClientWithLimiter creates a client with a custom rate limiter.
func NewClientWithLimiter(manager *Manager, rl *RateLimiter) *Client {
	c := NewClient(manager)
	c.rateLimiter = rl
	return c
}

// Close stops the client via the manager.
func (c *Client) Close() {
	if c.manager != nil {
		c.manager.Stop()
	}
}

// GetStatus returns the current status of the telegram client.
func (c *Client) GetStatus() Status {
	return c.manager.GetStatus()
}

// getProto returns the current protocol client if available.
func (c *Client) getProto() (*gotgproto.Client, error) {
	proto := c.manager.GetClient()
	if proto == nil {
		return nil, fmt.Errorf("telegram client not authorized")
	}
	return proto, nil
}

// API returns the raw tg.Client for direct API calls.
func (c *Client) API() (*tg.Client, error) {
	proto, err := c.getProto()
	if err != nil {
		return nil, err
	}
	return proto.API(), nil
}

// noteFloodWait propagates a FLOOD_WAIT signal into the rate limiter overlay.
func (c *Client) noteFloodWait(err error) {
	if wait := FloodWaitSeconds(err); wait > 0 {
		c.log.Warn().Int("wait_seconds", wait).Msg("telegram: FLOOD_WAIT detected, updating rate limiter")
		c.rateLimiter.SetFloodWait(wait)
	}
}

// ResolveChannel resolves a configured channel reference into an api-ready
// Channel. Username resolution is preferred; without a username the channel
// is looked up among the account's dialogs.
func (c *Client) ResolveChannel(ctx context.Context, ref models.ChannelRef) (*Channel, error) {
	if ref.Username != "" {
		return c.resolveByUsername(ctx, ref.Username)
	}
	return c.resolveFromDialogs(ctx, ref.ID)
}

func (c *Client) resolveByUsername(ctx context.Context, username string) (*Channel, error) {
	// strip @ prefix if present
	username = strings.TrimPrefix(username, "@")

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	c.log.Debug().Str("username", username).Msg("telegram: resolving channel username")
	api, err := c.API()
	if err != nil {
		return nil, err
	}
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("resolve username %s: %w", username, err)
	}

	if len(resolved.Chats) == 0 {
		return nil, fmt.Errorf("channel not found: %s", username)
	}

	ch, ok := resolved.Chats[0].(*tg.Channel)
	if !ok {
		return nil, fmt.Errorf("not a channel: %s", username)
	}

	return &Channel{
		ID:         ch.ID,
		AccessHash: ch.AccessHash,
		Username:   username,
		Title:      ch.Title,
	}, nil
}

// resolveFromDialogs scans the account's dialog list for a channel id.
// Works only for channels the account has joined.
func (c *Client) resolveFromDialogs(ctx context.Context, channelID int64) (*Channel, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	c.log.Debug().Int64("channel_id", channelID).Msg("telegram: resolving channel from dialogs")
	api, err := c.API()
	if err != nil {
		return nil, err
	}
	dialogs, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	})
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("get dialogs: %w", err)
	}

	var chats []tg.ChatClass
	switch d := dialogs.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	}

	for _, chat := range chats {
		ch, ok := chat.(*tg.Channel)
		if !ok || ch.ID != channelID {
			continue
		}
		return &Channel{
			ID:         ch.ID,
			AccessHash: ch.AccessHash,
			Username:   ch.Username,
			Title:      ch.Title,
		}, nil
	}

	return nil, fmt.Errorf("channel %d not found in dialogs", channelID)
}

// CountAll returns the channel's true total message count as reported by the
// server, without enumerating the history.
func (c *Client) CountAll(ctx context.Context, channel *Channel) (int64, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, err
	}

	api, err := c.API()
	if err != nil {
		return 0, err
	}
	history, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  channel.InputPeer(),
		Limit: 1,
	})
	if err != nil {
		c.noteFloodWait(err)
		return 0, fmt.Errorf("count messages: %w", err)
	}

	switch h := history.(type) {
	case *tg.MessagesChannelMessages:
		return int64(h.Count), nil
	case *tg.MessagesMessages:
		return int64(len(h.Messages)), nil
	case *tg.MessagesMessagesSlice:
		return int64(h.Count), nil
	}
	return 0, fmt.Errorf("unexpected history response %T", history)
}

// ListSince fetches every message with id greater than minID, oldest first.
// minID of 0 fetches the full history.
func (c *Client) ListSince(ctx context.Context, channel *Channel, minID int) ([]FetchedMessage, error) {
	var (
		out      []FetchedMessage
		offsetID int
		stats    FetchStats
	)

	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		c.log.Debug().
			Int64("channel_id", channel.ID).
			Int("offset_id", offsetID).
			Int("min_id", minID).
			Msg("telegram: fetching history page")

		api, err := c.API()
		if err != nil {
			return nil, err
		}
		history, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     channel.InputPeer(),
			OffsetID: offsetID,
			MinID:    minID,
			Limit:    historyPageSize,
		})
		if err != nil {
			c.noteFloodWait(err)
			return nil, fmt.Errorf("get history: %w", err)
		}

		page := c.extractMessages(history, &stats)
		if len(page) == 0 {
			break
		}

		out = append(out, page...)

		// pages come newest first, continue from the oldest seen
		oldest := page[len(page)-1].Record.ID
		if oldest <= minID+1 {
			break
		}
		offsetID = oldest
	}

	// oldest first for deterministic downstream processing
	sort.Slice(out, func(i, j int) bool { return out[i].Record.ID < out[j].Record.ID })

	c.log.Info().
		Int64("channel_id", channel.ID).
		Int("fetched", stats.TotalFetched).
		Int("with_media", stats.WithMedia).
		Int("skipped_empty", stats.SkippedEmpty).
		Msg("telegram: history fetch complete")

	return out, nil
}

// extractMessages converts a telegram history response to fetched messages.
func (c *Client) extractMessages(messagesClass tg.MessagesMessagesClass, stats *FetchStats) []FetchedMessage {
	var raw []tg.MessageClass
	switch h := messagesClass.(type) {
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	}

	var out []FetchedMessage
	for _, msg := range raw {
		if fm := c.parseMessage(msg, stats); fm != nil {
			out = append(out, *fm)
		}
	}
	return out
}

// parseMessage converts a single telegram message to a FetchedMessage.
// Media file locations are captured here so downloads never need to
// re-fetch the message.
func (c *Client) parseMessage(msg tg.MessageClass, stats *FetchStats) *FetchedMessage {
	m, ok := msg.(*tg.Message)
	if !ok {
		return nil
	}
	stats.TotalFetched++

	record := models.MessageRecord{
		ID:       m.ID,
		Date:     time.Unix(int64(m.Date), 0).UTC(),
		Text:     models.CleanText(m.Message),
		Author:   m.PostAuthor,
		Views:    m.Views,
		Forwards: m.Forwards,
	}
	if m.EditDate > 0 {
		edited := time.Unix(int64(m.EditDate), 0).UTC()
		record.Edited = &edited
	}
	if m.Replies.Replies > 0 {
		record.Replies = m.Replies.Replies
	}

	task := c.parseMedia(m)
	switch {
	case task != nil:
		record.MediaKind = task.Kind
		stats.WithMedia++
	case m.Media != nil:
		record.MediaKind = models.MediaOther
	}

	if record.Text == "" && task == nil && m.Media == nil {
		stats.SkippedEmpty++
		return nil
	}

	return &FetchedMessage{Record: record, Media: task}
}

// parseMedia extracts a download task from message media, nil when the
// message carries nothing downloadable.
func (c *Client) parseMedia(m *tg.Message) *models.DownloadTask {
	switch media := m.Media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := media.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		sizeType, size := largestPhotoSize(photo.Sizes)
		if sizeType == "" {
			return nil
		}
		return &models.DownloadTask{
			MessageID: m.ID,
			Kind:      models.MediaPhoto,
			Ext:       ".jpg",
			Size:      size,
			Location: &tg.InputPhotoFileLocation{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
				ThumbSize:     sizeType,
			},
		}
	case *tg.MessageMediaDocument:
		doc, ok := media.Document.(*tg.Document)
		if !ok {
			return nil
		}
		return &models.DownloadTask{
			MessageID: m.ID,
			Kind:      models.MediaDocument,
			Ext:       documentExt(doc),
			Size:      doc.Size,
			Location: &tg.InputDocumentFileLocation{
				ID:            doc.ID,
				AccessHash:    doc.AccessHash,
				FileReference: doc.FileReference,
			},
		}
	}
	return nil
}

// largestPhotoSize picks the biggest progressive size for download.
func largestPhotoSize(sizes []tg.PhotoSizeClass) (string, int64) {
	var (
		bestType string
		bestSize int64
	)
	for _, s := range sizes {
		switch sz := s.(type) {
		case *tg.PhotoSize:
			if int64(sz.Size) >= bestSize {
				bestType = sz.Type
				bestSize = int64(sz.Size)
			}
		case *tg.PhotoSizeProgressive:
			var max int
			for _, b := range sz.Sizes {
				if b > max {
					max = b
				}
			}
			if int64(max) >= bestSize {
				bestType = sz.Type
				bestSize = int64(max)
			}
		}
	}
	return bestType, bestSize
}

// documentExt guesses a file extension for a document. The original
// filename's extension wins when present, falling back to the mime type.
func documentExt(doc *tg.Document) string {
	for _, attr := range doc.Attributes {
		if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
			if ext := filepath.Ext(fn.FileName); ext != "" {
				return ext
			}
		}
	}
	return extFromMime(doc.MimeType)
}

func extFromMime(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "application/pdf":
		return ".pdf"
	case "application/zip":
		return ".zip"
	}
	return ".bin"
}

// Download fetches the task's media into targetPath using chunked
// upload.getFile calls. The partial file is removed on failure.
func (c *Client) Download(ctx context.Context, task models.DownloadTask, targetPath string) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	api, err := c.API()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}

	f, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	var offset int64
	for {
		part, err := api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
			Location: task.Location,
			Offset:   offset,
			Limit:    uploadChunkSize,
		})
		if err != nil {
			f.Close()
			os.Remove(targetPath)
			c.noteFloodWait(err)
			return fmt.Errorf("get file part at %d: %w", offset, err)
		}

		file, ok := part.(*tg.UploadFile)
		if !ok {
			f.Close()
			os.Remove(targetPath)
			return fmt.Errorf("unexpected upload response %T", part)
		}

		if len(file.Bytes) > 0 {
			if _, err := f.Write(file.Bytes); err != nil {
				f.Close()
				os.Remove(targetPath)
				return fmt.Errorf("write file: %w", err)
			}
			offset += int64(len(file.Bytes))
		}

		if len(file.Bytes) < uploadChunkSize {
			break
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(targetPath)
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}
