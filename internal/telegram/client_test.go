package telegram

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/channel-archiver/internal/models"
)

func TestLargestPhotoSize(t *testing.T) {
	sizes := []tg.PhotoSizeClass{
		&tg.PhotoSize{Type: "s", Size: 1200},
		&tg.PhotoSize{Type: "m", Size: 32000},
		&tg.PhotoSize{Type: "x", Size: 81000},
		&tg.PhotoStrippedSize{Type: "i"},
	}

	sizeType, size := largestPhotoSize(sizes)
	assert.Equal(t, "x", sizeType)
	assert.Equal(t, int64(81000), size)
}

func TestLargestPhotoSize_Progressive(t *testing.T) {
	sizes := []tg.PhotoSizeClass{
		&tg.PhotoSize{Type: "m", Size: 32000},
		&tg.PhotoSizeProgressive{Type: "y", Sizes: []int{8000, 45000, 120000}},
	}

	sizeType, size := largestPhotoSize(sizes)
	assert.Equal(t, "y", sizeType)
	assert.Equal(t, int64(120000), size)
}

func TestLargestPhotoSize_Empty(t *testing.T) {
	sizeType, size := largestPhotoSize(nil)
	assert.Equal(t, "", sizeType)
	assert.Equal(t, int64(0), size)
}

func TestDocumentExt(t *testing.T) {
	tests := []struct {
		name string
		doc  *tg.Document
		want string
	}{
		{
			name: "filename attribute wins",
			doc: &tg.Document{
				MimeType: "application/octet-stream",
				Attributes: []tg.DocumentAttributeClass{
					&tg.DocumentAttributeFilename{FileName: "report.pdf"},
				},
			},
			want: ".pdf",
		},
		{
			name: "mime fallback",
			doc:  &tg.Document{MimeType: "video/mp4"},
			want: ".mp4",
		},
		{
			name: "unknown mime",
			doc:  &tg.Document{MimeType: "application/x-custom"},
			want: ".bin",
		},
		{
			name: "filename without extension falls through",
			doc: &tg.Document{
				MimeType: "image/png",
				Attributes: []tg.DocumentAttributeClass{
					&tg.DocumentAttributeFilename{FileName: "README"},
				},
			},
			want: ".png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, documentExt(tt.doc))
		})
	}
}

func TestParseMessage(t *testing.T) {
	c := NewClient(NewManager(nil, nil))
	var stats FetchStats

	msg := &tg.Message{
		ID:       42,
		Date:     1700000000,
		Message:  "hello world",
		Views:    150,
		Forwards: 3,
	}

	fm := c.parseMessage(msg, &stats)
	require.NotNil(t, fm)
	assert.Equal(t, 42, fm.Record.ID)
	assert.Equal(t, "hello world", fm.Record.Text)
	assert.Equal(t, 150, fm.Record.Views)
	assert.Nil(t, fm.Media)
	assert.False(t, fm.Record.HasMedia())
	assert.Equal(t, 1, stats.TotalFetched)
}

func TestParseMessage_SkipsEmpty(t *testing.T) {
	c := NewClient(NewManager(nil, nil))
	var stats FetchStats

	fm := c.parseMessage(&tg.Message{ID: 7, Date: 1700000000}, &stats)
	assert.Nil(t, fm)
	assert.Equal(t, 1, stats.SkippedEmpty)
}

func TestParseMessage_NonMessage(t *testing.T) {
	c := NewClient(NewManager(nil, nil))
	var stats FetchStats

	fm := c.parseMessage(&tg.MessageService{ID: 1}, &stats)
	assert.Nil(t, fm)
	assert.Equal(t, 0, stats.TotalFetched)
}

func TestParseMessage_WithPhoto(t *testing.T) {
	c := NewClient(NewManager(nil, nil))
	var stats FetchStats

	msg := &tg.Message{
		ID:      10,
		Date:    1700000000,
		Message: "check this out",
		Media: &tg.MessageMediaPhoto{
			Photo: &tg.Photo{
				ID:         999,
				AccessHash: 111,
				Sizes: []tg.PhotoSizeClass{
					&tg.PhotoSize{Type: "x", Size: 50000},
				},
			},
		},
	}

	fm := c.parseMessage(msg, &stats)
	require.NotNil(t, fm)
	require.NotNil(t, fm.Media)
	assert.Equal(t, models.MediaPhoto, fm.Media.Kind)
	assert.Equal(t, ".jpg", fm.Media.Ext)
	assert.Equal(t, 10, fm.Media.MessageID)
	assert.Equal(t, models.MediaPhoto, fm.Record.MediaKind)

	loc, ok := fm.Media.Location.(*tg.InputPhotoFileLocation)
	require.True(t, ok)
	assert.Equal(t, int64(999), loc.ID)
	assert.Equal(t, "x", loc.ThumbSize)
}

func TestParseMessage_UnsupportedMediaKind(t *testing.T) {
	c := NewClient(NewManager(nil, nil))
	var stats FetchStats

	msg := &tg.Message{
		ID:    11,
		Date:  1700000000,
		Media: &tg.MessageMediaGeo{},
	}

	fm := c.parseMessage(msg, &stats)
	require.NotNil(t, fm)
	assert.Nil(t, fm.Media)
	assert.Equal(t, models.MediaOther, fm.Record.MediaKind)
}
