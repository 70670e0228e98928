package export

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/blockedby/channel-archiver/internal/models"
)

// mdTimeFormat is the timestamp format used in message headers. The count
// verifier keys on this pattern to tell message headers apart from other
// markdown headings.
const mdTimeFormat = "02.01.2006 15:04"

var (
	mdHeaderRe  = regexp.MustCompile(`(?m)^## Message #(\d+) \((\d{2}\.\d{2}\.\d{4} \d{2}:\d{2})\)$`)
	mdAuthorRe  = regexp.MustCompile(`^\*\*Author:\*\* (.+)$`)
	mdMediaRe   = regexp.MustCompile("^\\*\\*Media:\\*\\* (\\w+)(?: `([^`]+)`)?$")
	mdStatsRe   = regexp.MustCompile(`^\*Views: (\d+) \| Forwards: (\d+) \| Replies: (\d+)\*$`)
	mdEditedRe  = regexp.MustCompile(`^\*Edited: (\d{2}\.\d{2}\.\d{4} \d{2}:\d{2})\*$`)
	mdAnyHeader = regexp.MustCompile(`\d{2}\.\d{2}\.\d{4}\s+\d{2}:\d{2}`)
)

// MarkdownSink writes the archive as plain structured text. It is the
// canonical sink: message counts for verification are taken from its file.
type MarkdownSink struct {
	dir   string
	title string
}

// NewMarkdownSink creates a markdown sink for one channel directory.
func NewMarkdownSink(dir, channelTitle string) *MarkdownSink {
	return &MarkdownSink{dir: dir, title: channelTitle}
}

func (s *MarkdownSink) Name() string { return "markdown" }

func (s *MarkdownSink) Path() string {
	return filepath.Join(s.dir, models.SanitizeFilename(s.title)+".md")
}

// Write persists the records, merging with the existing file in append mode.
func (s *MarkdownSink) Write(messages []models.MessageRecord, appendMode bool) (string, error) {
	records := prepare(s, messages, appendMode)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.title)
	fmt.Fprintf(&b, "**Exported:** %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Total messages:** %d\n\n", len(records))
	b.WriteString("---\n")

	for _, m := range records {
		fmt.Fprintf(&b, "\n## Message #%d (%s)\n\n", m.ID, m.Date.Format(mdTimeFormat))

		if m.Author != "" {
			fmt.Fprintf(&b, "**Author:** %s\n", m.Author)
		}
		if m.MediaKind != "" {
			if m.MediaPath != "" {
				fmt.Fprintf(&b, "**Media:** %s `%s`\n", m.MediaKind, m.MediaPath)
			} else {
				fmt.Fprintf(&b, "**Media:** %s\n", m.MediaKind)
			}
		}
		if m.Author != "" || m.MediaKind != "" {
			b.WriteString("\n")
		}

		if m.Text != "" {
			b.WriteString(m.Text)
			b.WriteString("\n\n")
		}

		if m.Views > 0 || m.Forwards > 0 || m.Replies > 0 {
			fmt.Fprintf(&b, "*Views: %d | Forwards: %d | Replies: %d*\n\n", m.Views, m.Forwards, m.Replies)
		}
		if m.Edited != nil {
			fmt.Fprintf(&b, "*Edited: %s*\n\n", m.Edited.Format(mdTimeFormat))
		}

		b.WriteString("---\n")
	}

	path := s.Path()
	if err := writeFile(path, []byte(b.String())); err != nil {
		return "", fmt.Errorf("write markdown export: %w", err)
	}
	return path, nil
}

// ParseExisting reads the sink's own file back into records. The parse is
// regex-driven and intentionally lenient: a malformed entry is skipped, a
// malformed file yields what could be recovered.
func (s *MarkdownSink) ParseExisting() ([]models.MessageRecord, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	content := string(data)
	headers := mdHeaderRe.FindAllStringSubmatchIndex(content, -1)

	var out []models.MessageRecord
	for i, h := range headers {
		id, err := strconv.Atoi(content[h[2]:h[3]])
		if err != nil {
			continue
		}
		date, err := time.Parse(mdTimeFormat, content[h[4]:h[5]])
		if err != nil {
			continue
		}

		end := len(content)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}

		rec := models.MessageRecord{ID: id, Date: date.UTC()}
		parseMarkdownBody(content[h[1]:end], &rec)
		out = append(out, rec)
	}
	return out, nil
}

// parseMarkdownBody fills record fields from the section between two headers.
func parseMarkdownBody(section string, rec *models.MessageRecord) {
	var textLines []string
	for _, line := range strings.Split(section, "\n") {
		trimmed := strings.TrimRight(line, " ")
		switch {
		case trimmed == "" && len(textLines) == 0:
			// leading blank
		case trimmed == "---":
			// entry terminator
		case mdAuthorRe.MatchString(trimmed):
			rec.Author = mdAuthorRe.FindStringSubmatch(trimmed)[1]
		case mdMediaRe.MatchString(trimmed):
			m := mdMediaRe.FindStringSubmatch(trimmed)
			rec.MediaKind = models.MediaKind(m[1])
			rec.MediaPath = m[2]
		case mdStatsRe.MatchString(trimmed):
			m := mdStatsRe.FindStringSubmatch(trimmed)
			rec.Views, _ = strconv.Atoi(m[1])
			rec.Forwards, _ = strconv.Atoi(m[2])
			rec.Replies, _ = strconv.Atoi(m[3])
		case mdEditedRe.MatchString(trimmed):
			if ts, err := time.Parse(mdTimeFormat, mdEditedRe.FindStringSubmatch(trimmed)[1]); err == nil {
				utc := ts.UTC()
				rec.Edited = &utc
			}
		default:
			textLines = append(textLines, line)
		}
	}
	rec.Text = strings.TrimSpace(strings.Join(textLines, "\n"))
}

// CountEntries counts message entries in the persisted file by scanning for
// header lines carrying a timestamp. Returns 0 when the file is absent.
func (s *MarkdownSink) CountEntries() (int, error) {
	f, err := os.Open(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "## ") && !strings.HasPrefix(line, "### ") {
			continue
		}
		if mdAnyHeader.MatchString(line) {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return count, nil
}
