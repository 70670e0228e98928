// Package export writes channel archives in multiple sink formats.
package export

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/blockedby/channel-archiver/internal/models"
)

// Sink stores the full message history of a channel in one output format.
// Write with append set merges into whatever the file already holds; the
// output is always regenerated in full so ordering and dedup hold globally.
type Sink interface {
	Name() string
	Path() string
	Write(messages []models.MessageRecord, appendMode bool) (string, error)
	ParseExisting() ([]models.MessageRecord, error)
}

// NewAll returns the standard sink set for a channel directory. The markdown
// sink is the canonical one used for count verification.
func NewAll(dir, channelTitle string) []Sink {
	return []Sink{
		NewJSONSink(dir, channelTitle),
		NewHTMLSink(dir, channelTitle),
		NewMarkdownSink(dir, channelTitle),
	}
}

// mergeRecords unions existing and incoming records, deduplicates by id with
// incoming winning ties, and returns them sorted ascending by id.
func mergeRecords(existing, incoming []models.MessageRecord) []models.MessageRecord {
	byID := make(map[int]models.MessageRecord, len(existing)+len(incoming))
	for _, m := range existing {
		byID[m.ID] = m
	}
	for _, m := range incoming {
		byID[m.ID] = m
	}

	out := make([]models.MessageRecord, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// prepare resolves the records to persist for a write call. In append mode
// the sink's own file is parsed back; parse failures mean starting empty
// rather than failing the run.
func prepare(s Sink, messages []models.MessageRecord, appendMode bool) []models.MessageRecord {
	if !appendMode {
		return messages
	}
	existing, err := s.ParseExisting()
	if err != nil {
		existing = nil
	}
	return mergeRecords(existing, messages)
}

// writeFile atomically replaces path with content via a temp file rename.
func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
