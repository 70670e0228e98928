package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/channel-archiver/internal/models"
)

func mkDate(day, hour, min int) time.Time {
	return time.Date(2024, 3, day, hour, min, 0, 0, time.UTC)
}

func sampleRecords() []models.MessageRecord {
	edited := mkDate(5, 16, 0)
	return []models.MessageRecord{
		{ID: 1, Date: mkDate(1, 10, 0), Text: "first post", Views: 100, Forwards: 2},
		{ID: 2, Date: mkDate(2, 11, 30), Text: "with photo", MediaKind: models.MediaPhoto, MediaPath: "media/msg_2_photo.jpg", Views: 50},
		{ID: 5, Date: mkDate(5, 15, 45), Text: "edited later", Author: "admin", Edited: &edited, Replies: 3},
	}
}

func moreRecords() []models.MessageRecord {
	return []models.MessageRecord{
		{ID: 3, Date: mkDate(3, 9, 0), Text: "middle message"},
		{ID: 7, Date: mkDate(7, 20, 15), Text: "latest", Views: 10},
	}
}

func TestMergeRecords(t *testing.T) {
	a := sampleRecords()
	b := append(moreRecords(), models.MessageRecord{ID: 2, Date: mkDate(2, 11, 30), Text: "updated text"})

	merged := mergeRecords(a, b)

	require.Len(t, merged, 5)
	for i := 1; i < len(merged); i++ {
		assert.Greater(t, merged[i].ID, merged[i-1].ID, "ids must be strictly ascending")
	}
	// incoming wins on id collision
	assert.Equal(t, "updated text", merged[1].Text)
}

func allSinks(t *testing.T) []Sink {
	t.Helper()
	return NewAll(t.TempDir(), "Test Channel")
}

func TestSink_RoundTrip(t *testing.T) {
	for _, s := range allSinks(t) {
		t.Run(s.Name(), func(t *testing.T) {
			records := sampleRecords()
			path, err := s.Write(records, false)
			require.NoError(t, err)
			assert.FileExists(t, path)

			parsed, err := s.ParseExisting()
			require.NoError(t, err)
			assert.Equal(t, records, parsed)
		})
	}
}

func TestSink_IdempotentMerge(t *testing.T) {
	a := sampleRecords()
	b := moreRecords()
	want := mergeRecords(a, b)

	for _, s := range allSinks(t) {
		t.Run(s.Name(), func(t *testing.T) {
			_, err := s.Write(a, false)
			require.NoError(t, err)
			_, err = s.Write(b, true)
			require.NoError(t, err)

			got, err := s.ParseExisting()
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestSink_AppendDeduplicates(t *testing.T) {
	a := sampleRecords()

	for _, s := range allSinks(t) {
		t.Run(s.Name(), func(t *testing.T) {
			_, err := s.Write(a, false)
			require.NoError(t, err)
			// overlapping write must not duplicate
			_, err = s.Write(a[1:], true)
			require.NoError(t, err)

			got, err := s.ParseExisting()
			require.NoError(t, err)
			require.Len(t, got, len(a))
			seen := map[int]bool{}
			for _, m := range got {
				assert.False(t, seen[m.ID], "duplicate id %d", m.ID)
				seen[m.ID] = true
			}
		})
	}
}

func TestSink_AppendOrderIndependent(t *testing.T) {
	a := sampleRecords()
	b := moreRecords()

	first := NewMarkdownSink(t.TempDir(), "order1")
	_, err := first.Write(a, false)
	require.NoError(t, err)
	_, err = first.Write(b, true)
	require.NoError(t, err)

	second := NewMarkdownSink(t.TempDir(), "order2")
	_, err = second.Write(b, false)
	require.NoError(t, err)
	_, err = second.Write(a, true)
	require.NoError(t, err)

	got1, err := first.ParseExisting()
	require.NoError(t, err)
	got2, err := second.ParseExisting()
	require.NoError(t, err)
	assert.Equal(t, got1, got2)
}

func TestSink_AppendToCorruptFile(t *testing.T) {
	for _, s := range allSinks(t) {
		t.Run(s.Name(), func(t *testing.T) {
			require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
			require.NoError(t, os.WriteFile(s.Path(), []byte("{{{ not parsable"), 0o644))

			records := sampleRecords()
			_, err := s.Write(records, true)
			require.NoError(t, err, "corrupt existing file must not fail the write")

			got, err := s.ParseExisting()
			require.NoError(t, err)
			assert.Equal(t, records, got)
		})
	}
}

func TestSink_AppendWithoutExistingFile(t *testing.T) {
	s := NewJSONSink(t.TempDir(), "fresh")
	records := sampleRecords()

	_, err := s.Write(records, true)
	require.NoError(t, err)

	got, err := s.ParseExisting()
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestSink_Paths(t *testing.T) {
	dir := t.TempDir()
	title := `Ch<an>nel: "test"`

	for _, s := range NewAll(dir, title) {
		base := filepath.Base(s.Path())
		assert.NotContains(t, base, "<")
		assert.NotContains(t, base, ":")
		assert.NotContains(t, base, `"`)
	}
}
