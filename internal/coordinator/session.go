package coordinator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExportSession carries the counters for one export run (one-shot or one
// scheduler tick). It replaces ambient global statistics: every component
// that needs to report progress receives the session explicitly.
type ExportSession struct {
	ID        string
	StartedAt time.Time

	mu                sync.Mutex
	channelsProcessed int
	channelsFailed    int
	newMessages       int
	filteredMessages  int
	downloadedFiles   int
	failedDownloads   int
	downloadedBytes   int64
	reexports         int
}

// NewSession starts a fresh export session.
func NewSession() *ExportSession {
	return &ExportSession{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
}

func (s *ExportSession) ChannelProcessed()     { s.mu.Lock(); s.channelsProcessed++; s.mu.Unlock() }
func (s *ExportSession) ChannelFailed()        { s.mu.Lock(); s.channelsFailed++; s.mu.Unlock() }
func (s *ExportSession) AddNewMessages(n int)  { s.mu.Lock(); s.newMessages += n; s.mu.Unlock() }
func (s *ExportSession) AddFiltered(n int)     { s.mu.Lock(); s.filteredMessages += n; s.mu.Unlock() }
func (s *ExportSession) AddDownloaded(n int)   { s.mu.Lock(); s.downloadedFiles += n; s.mu.Unlock() }
func (s *ExportSession) AddFailedDownloads(n int) {
	s.mu.Lock()
	s.failedDownloads += n
	s.mu.Unlock()
}
func (s *ExportSession) AddDownloadedBytes(n int64) {
	s.mu.Lock()
	s.downloadedBytes += n
	s.mu.Unlock()
}
func (s *ExportSession) Reexport() { s.mu.Lock(); s.reexports++; s.mu.Unlock() }

// Snapshot is a point-in-time copy of the session counters.
type Snapshot struct {
	ID                string    `json:"id"`
	StartedAt         time.Time `json:"started_at"`
	ChannelsProcessed int       `json:"channels_processed"`
	ChannelsFailed    int       `json:"channels_failed"`
	NewMessages       int       `json:"new_messages"`
	FilteredMessages  int       `json:"filtered_messages"`
	DownloadedFiles   int       `json:"downloaded_files"`
	FailedDownloads   int       `json:"failed_downloads"`
	DownloadedMB      float64   `json:"downloaded_mb"`
	Reexports         int       `json:"reexports"`
}

// Snapshot returns a consistent copy of the counters.
func (s *ExportSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:                s.ID,
		StartedAt:         s.StartedAt,
		ChannelsProcessed: s.channelsProcessed,
		ChannelsFailed:    s.channelsFailed,
		NewMessages:       s.newMessages,
		FilteredMessages:  s.filteredMessages,
		DownloadedFiles:   s.downloadedFiles,
		FailedDownloads:   s.failedDownloads,
		DownloadedMB:      float64(s.downloadedBytes) / (1024 * 1024),
		Reexports:         s.reexports,
	}
}
