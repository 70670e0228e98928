package export

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/blockedby/channel-archiver/internal/models"
)

const htmlPageTemplate = `<!DOCTYPE html>
<html lang="ru">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>%s</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 800px; margin: 0 auto; padding: 20px; background-color: #f5f5f5; }
.header { background: linear-gradient(135deg, #667eea 0%%, #764ba2 100%%); color: #fff; padding: 24px; border-radius: 8px; margin-bottom: 20px; }
.message { background: #fff; border-radius: 8px; padding: 16px; margin-bottom: 12px; box-shadow: 0 1px 3px rgba(0,0,0,.1); }
.message-header { color: #888; font-size: 13px; margin-bottom: 8px; }
.message-text { white-space: pre-wrap; word-wrap: break-word; }
.message-media a { color: #667eea; }
.message-stats { color: #aaa; font-size: 12px; margin-top: 8px; }
</style>
</head>
<body>
<div class="header">
<h1>%s</h1>
<p>Exported %s</p>
<p>Total messages: <strong>%d</strong></p>
</div>
%s</body>
</html>
`

// htmlEntryRe recovers records from the sink's own output. Fields live in
// data attributes so the parse does not depend on the visible markup.
var (
	htmlEntryRe = regexp.MustCompile(`(?s)<div class="message" data-id="(\d+)" data-date="([^"]*)" data-author="([^"]*)" data-media-kind="([^"]*)" data-media-path="([^"]*)" data-views="(\d+)" data-forwards="(\d+)" data-replies="(\d+)" data-edited="([^"]*)">`)
	htmlTextRe  = regexp.MustCompile(`(?s)<div class="message-text">(.*?)</div>`)
)

// HTMLSink writes the archive as a standalone browsable page.
type HTMLSink struct {
	dir   string
	title string
}

// NewHTMLSink creates an html sink for one channel directory.
func NewHTMLSink(dir, channelTitle string) *HTMLSink {
	return &HTMLSink{dir: dir, title: channelTitle}
}

func (s *HTMLSink) Name() string { return "html" }

func (s *HTMLSink) Path() string {
	return filepath.Join(s.dir, models.SanitizeFilename(s.title)+".html")
}

// Write persists the records, merging with the existing file in append mode.
func (s *HTMLSink) Write(messages []models.MessageRecord, appendMode bool) (string, error) {
	records := prepare(s, messages, appendMode)

	var body strings.Builder
	for _, m := range records {
		edited := ""
		if m.Edited != nil {
			edited = m.Edited.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&body,
			`<div class="message" data-id="%d" data-date="%s" data-author="%s" data-media-kind="%s" data-media-path="%s" data-views="%d" data-forwards="%d" data-replies="%d" data-edited="%s">`+"\n",
			m.ID,
			m.Date.UTC().Format(time.RFC3339),
			html.EscapeString(m.Author),
			m.MediaKind,
			html.EscapeString(m.MediaPath),
			m.Views, m.Forwards, m.Replies,
			edited,
		)

		fmt.Fprintf(&body, `<div class="message-header">#%d &middot; %s</div>`+"\n",
			m.ID, m.Date.Format("02.01.2006 15:04"))

		if m.MediaPath != "" {
			fmt.Fprintf(&body, `<div class="message-media"><a href="%s">%s</a></div>`+"\n",
				html.EscapeString(m.MediaPath), m.MediaKind)
		}

		fmt.Fprintf(&body, `<div class="message-text">%s</div>`+"\n", html.EscapeString(m.Text))

		if m.Views > 0 || m.Forwards > 0 {
			fmt.Fprintf(&body, `<div class="message-stats">%d views &middot; %d forwards</div>`+"\n",
				m.Views, m.Forwards)
		}

		body.WriteString("</div>\n")
	}

	page := fmt.Sprintf(htmlPageTemplate,
		html.EscapeString(s.title),
		html.EscapeString(s.title),
		time.Now().Format("2006-01-02 15:04:05"),
		len(records),
		body.String(),
	)

	path := s.Path()
	if err := writeFile(path, []byte(page)); err != nil {
		return "", fmt.Errorf("write html export: %w", err)
	}
	return path, nil
}

// ParseExisting reads the sink's own file back into records.
func (s *HTMLSink) ParseExisting() ([]models.MessageRecord, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	content := string(data)
	entries := htmlEntryRe.FindAllStringSubmatchIndex(content, -1)

	var out []models.MessageRecord
	for i, e := range entries {
		sub := htmlEntryRe.FindStringSubmatch(content[e[0]:e[1]])

		id, err := strconv.Atoi(sub[1])
		if err != nil {
			continue
		}
		date, err := time.Parse(time.RFC3339, sub[2])
		if err != nil {
			continue
		}

		rec := models.MessageRecord{
			ID:        id,
			Date:      date.UTC(),
			Author:    html.UnescapeString(sub[3]),
			MediaKind: models.MediaKind(sub[4]),
			MediaPath: html.UnescapeString(sub[5]),
		}
		rec.Views, _ = strconv.Atoi(sub[6])
		rec.Forwards, _ = strconv.Atoi(sub[7])
		rec.Replies, _ = strconv.Atoi(sub[8])
		if sub[9] != "" {
			if ts, err := time.Parse(time.RFC3339, sub[9]); err == nil {
				utc := ts.UTC()
				rec.Edited = &utc
			}
		}

		end := len(content)
		if i+1 < len(entries) {
			end = entries[i+1][0]
		}
		if m := htmlTextRe.FindStringSubmatch(content[e[1]:end]); m != nil {
			rec.Text = html.UnescapeString(m[1])
		}

		out = append(out, rec)
	}
	return out, nil
}
