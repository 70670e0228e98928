package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blockedby/channel-archiver/internal/models"
)

// jsonDocument is the on-disk shape of the json sink.
type jsonDocument struct {
	ChannelName   string                 `json:"channel_name"`
	ExportDate    time.Time              `json:"export_date"`
	TotalMessages int                    `json:"total_messages"`
	Messages      []models.MessageRecord `json:"messages"`
}

// JSONSink writes the archive as a single structured document.
type JSONSink struct {
	dir   string
	title string
}

// NewJSONSink creates a json sink for one channel directory.
func NewJSONSink(dir, channelTitle string) *JSONSink {
	return &JSONSink{dir: dir, title: channelTitle}
}

func (s *JSONSink) Name() string { return "json" }

func (s *JSONSink) Path() string {
	return filepath.Join(s.dir, models.SanitizeFilename(s.title)+".json")
}

// Write persists the records, merging with the existing file in append mode.
func (s *JSONSink) Write(messages []models.MessageRecord, appendMode bool) (string, error) {
	records := prepare(s, messages, appendMode)

	doc := jsonDocument{
		ChannelName:   s.title,
		ExportDate:    time.Now().UTC(),
		TotalMessages: len(records),
		Messages:      records,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json export: %w", err)
	}

	path := s.Path()
	if err := writeFile(path, data); err != nil {
		return "", fmt.Errorf("write json export: %w", err)
	}
	return path, nil
}

// ParseExisting reads the sink's own file back into records.
func (s *JSONSink) ParseExisting() ([]models.MessageRecord, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse json export: %w", err)
	}
	return doc.Messages, nil
}
