package export

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownSink_CountEntries(t *testing.T) {
	s := NewMarkdownSink(t.TempDir(), "counted")

	_, err := s.Write(sampleRecords(), false)
	require.NoError(t, err)

	count, err := s.CountEntries()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestMarkdownSink_CountEntries_MissingFile(t *testing.T) {
	s := NewMarkdownSink(t.TempDir(), "absent")

	count, err := s.CountEntries()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMarkdownSink_CountEntries_IgnoresPlainHeadings(t *testing.T) {
	s := NewMarkdownSink(t.TempDir(), "mixed")

	content := `# Channel

## Not a message heading

## Message #1 (01.03.2024 10:00)

text

---

### Another section without timestamp

## Message #2 (02.03.2024 11:30)

more text

---
`
	require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0o644))

	count, err := s.CountEntries()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMarkdownSink_ParseSkipsMalformedEntries(t *testing.T) {
	s := NewMarkdownSink(t.TempDir(), "partial")

	content := `# Channel

## Message #1 (01.03.2024 10:00)

ok

---

## Message #2 (99.99.9999 99:99)

broken date

---

## Message #3 (03.03.2024 12:00)

also ok

---
`
	require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0o644))

	records, err := s.ParseExisting()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].ID)
	assert.Equal(t, "ok", records[0].Text)
	assert.Equal(t, 3, records[1].ID)
}
