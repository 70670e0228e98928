package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/blockedby/channel-archiver/internal/checkpoint"
	"github.com/blockedby/channel-archiver/internal/export"
	"github.com/blockedby/channel-archiver/internal/models"
	"github.com/blockedby/channel-archiver/internal/publisher"
	"github.com/blockedby/channel-archiver/internal/telegram"
)

type fakeSource struct {
	mu       sync.Mutex
	channels map[int64]*telegram.Channel
	history  map[int64][]telegram.FetchedMessage // ascending by id

	resolveErr map[int64]error
	listErrs   []error // consumed one per ListSince call
	listMinIDs []int
	countCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		channels:   make(map[int64]*telegram.Channel),
		history:    make(map[int64][]telegram.FetchedMessage),
		resolveErr: make(map[int64]error),
	}
}

func (f *fakeSource) addChannel(id int64, title string, msgs []telegram.FetchedMessage) {
	f.channels[id] = &telegram.Channel{ID: id, AccessHash: id * 7, Title: title}
	f.history[id] = msgs
}

func (f *fakeSource) ResolveChannel(_ context.Context, ref models.ChannelRef) (*telegram.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.resolveErr[ref.ID]; err != nil {
		return nil, err
	}
	ch, ok := f.channels[ref.ID]
	if !ok {
		return nil, fmt.Errorf("channel not found: %d", ref.ID)
	}
	return ch, nil
}

func (f *fakeSource) ListSince(_ context.Context, ch *telegram.Channel, minID int) ([]telegram.FetchedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listMinIDs = append(f.listMinIDs, minID)
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []telegram.FetchedMessage
	for _, fm := range f.history[ch.ID] {
		if fm.Record.ID > minID {
			out = append(out, fm)
		}
	}
	return out, nil
}

func (f *fakeSource) CountAll(_ context.Context, ch *telegram.Channel) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	return int64(len(f.history[ch.ID])), nil
}

type fakeAcquirer struct {
	mu    sync.Mutex
	fail  map[int]bool
	calls [][]models.DownloadTask
}

func (f *fakeAcquirer) Acquire(_ context.Context, tasks []models.DownloadTask) map[int]string {
	f.mu.Lock()
	f.calls = append(f.calls, tasks)
	f.mu.Unlock()

	results := make(map[int]string)
	for _, task := range tasks {
		if f.fail[task.MessageID] {
			continue
		}
		_ = os.MkdirAll(filepath.Dir(task.TargetPath), 0o755)
		_ = os.WriteFile(task.TargetPath, []byte("media"), 0o644)
		results[task.MessageID] = task.TargetPath
	}
	return results
}

func (f *fakeAcquirer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type filterFunc func(string) (bool, string)

func (f filterFunc) Classify(text string) (bool, string) { return f(text) }

func passAll(string) (bool, string) { return false, "" }

type fakeNotifier struct {
	mu        sync.Mutex
	successes []string
	noNews    []string
	failures  []string
}

func (n *fakeNotifier) NotifySuccess(_ context.Context, title string, _ int) {
	n.mu.Lock()
	n.successes = append(n.successes, title)
	n.mu.Unlock()
}

func (n *fakeNotifier) NotifyNoNew(_ context.Context, title string) {
	n.mu.Lock()
	n.noNews = append(n.noNews, title)
	n.mu.Unlock()
}

func (n *fakeNotifier) NotifyFailure(_ context.Context, title string, _ error) {
	n.mu.Lock()
	n.failures = append(n.failures, title)
	n.mu.Unlock()
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publisher.ChannelExportedEvent
}

func (p *fakePublisher) PublishChannelExported(_ context.Context, ev publisher.ChannelExportedEvent) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func newTestStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	store, err := checkpoint.NewStore(db)
	require.NoError(t, err)
	return store
}

type testRig struct {
	coord    *Coordinator
	source   *fakeSource
	acquirer *fakeAcquirer
	store    *checkpoint.Store
	notifier *fakeNotifier
	pub      *fakePublisher
	baseDir  string
	waits    []time.Duration
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		source:   newFakeSource(),
		acquirer: &fakeAcquirer{fail: map[int]bool{}},
		store:    newTestStore(t),
		notifier: &fakeNotifier{},
		pub:      &fakePublisher{},
		baseDir:  t.TempDir(),
	}
	cfg := DefaultConfig(rig.baseDir)
	cfg.InterChannelGap = 0
	rig.coord = New(rig.source, filterFunc(passAll), rig.acquirer, rig.store, rig.notifier, rig.pub, cfg)
	rig.coord.sleep = func(ctx context.Context, d time.Duration) bool {
		rig.waits = append(rig.waits, d)
		return ctx.Err() == nil
	}
	return rig
}

func msg(id int, text string) telegram.FetchedMessage {
	return telegram.FetchedMessage{
		Record: models.MessageRecord{
			ID:   id,
			Date: time.Date(2024, 3, id%28+1, 12, 0, 0, 0, time.UTC),
			Text: text,
		},
	}
}

func msgWithPhoto(id int, text string) telegram.FetchedMessage {
	fm := msg(id, text)
	fm.Record.MediaKind = models.MediaPhoto
	fm.Media = &models.DownloadTask{
		MessageID: id,
		Kind:      models.MediaPhoto,
		Ext:       ".jpg",
	}
	return fm
}

func channelDir(base, title string) string {
	return filepath.Join(base, models.SanitizeFilename(title))
}

func TestExportChannel_InitialFullExport(t *testing.T) {
	rig := newTestRig(t)
	rig.source.addChannel(100, "News Feed", []telegram.FetchedMessage{
		msg(1, "first"),
		msgWithPhoto(2, "photo post"),
		msg(3, "third"),
		msgWithPhoto(4, "another photo"),
		msg(5, "fifth"),
	})
	ref := models.ChannelRef{ID: 100, Title: "News Feed", Export: models.ExportBoth}
	session := NewSession()

	require.NoError(t, rig.coord.ExportChannel(context.Background(), ref, session))

	dir := channelDir(rig.baseDir, "News Feed")
	for _, ext := range []string{".json", ".html", ".md"} {
		assert.FileExists(t, filepath.Join(dir, models.SanitizeFilename("News Feed")+ext))
	}

	cp, err := rig.store.Load(100)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(5), cp.LastMessageID)
	assert.Equal(t, int64(5), cp.TotalMessages)

	snap := session.Snapshot()
	assert.Equal(t, 1, snap.ChannelsProcessed)
	assert.Equal(t, 0, snap.ChannelsFailed)
	assert.Equal(t, 5, snap.NewMessages)
	assert.Equal(t, 2, snap.DownloadedFiles)

	assert.Equal(t, []string{"News Feed"}, rig.notifier.successes)
	require.Len(t, rig.pub.events, 1)
	assert.Equal(t, int64(100), rig.pub.events[0].ChannelID)
	assert.Equal(t, 5, rig.pub.events[0].NewMessages)
}

func TestExportChannel_IncrementalFetchesOnlyNew(t *testing.T) {
	rig := newTestRig(t)
	history := []telegram.FetchedMessage{
		msg(1, "first"), msg(2, "second"), msg(3, "third"),
		msg(4, "fourth"), msg(5, "fifth"),
	}
	rig.source.addChannel(100, "News Feed", history)
	ref := models.ChannelRef{ID: 100, Title: "News Feed", Export: models.ExportBoth}

	require.NoError(t, rig.coord.ExportChannel(context.Background(), ref, NewSession()))

	// two new messages appear upstream
	rig.source.addChannel(100, "News Feed", append(history, msg(6, "sixth"), msg(7, "seventh")))

	session := NewSession()
	require.NoError(t, rig.coord.ExportChannel(context.Background(), ref, session))

	// second cycle was incremental from the checkpoint
	require.GreaterOrEqual(t, len(rig.source.listMinIDs), 2)
	assert.Equal(t, 0, rig.source.listMinIDs[0])
	assert.Equal(t, 5, rig.source.listMinIDs[1])
	assert.Equal(t, 2, session.Snapshot().NewMessages)

	sink := export.NewMarkdownSink(channelDir(rig.baseDir, "News Feed"), "News Feed")
	records, err := sink.ParseExisting()
	require.NoError(t, err)
	require.Len(t, records, 7)
	for i := 1; i < len(records); i++ {
		assert.Greater(t, records[i].ID, records[i-1].ID)
	}

	cp, err := rig.store.Load(100)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cp.LastMessageID)
	assert.Equal(t, int64(7), cp.TotalMessages)
}

func TestExportChannel_NoNewMessages(t *testing.T) {
	rig := newTestRig(t)
	rig.source.addChannel(100, "News Feed", []telegram.FetchedMessage{msg(1, "only")})
	ref := models.ChannelRef{ID: 100, Title: "News Feed"}

	require.NoError(t, rig.coord.ExportChannel(context.Background(), ref, NewSession()))

	session := NewSession()
	require.NoError(t, rig.coord.ExportChannel(context.Background(), ref, session))

	assert.Equal(t, 0, session.Snapshot().NewMessages)
	assert.Contains(t, rig.notifier.noNews, "News Feed")
}

func TestExportChannel_TruncatedSinkTriggersReexport(t *testing.T) {
	rig := newTestRig(t)
	var history []telegram.FetchedMessage
	for i := 1; i <= 10; i++ {
		history = append(history, msg(i, fmt.Sprintf("message %d", i)))
	}
	rig.source.addChannel(100, "News Feed", history)
	ref := models.ChannelRef{ID: 100, Title: "News Feed"}

	require.NoError(t, rig.coord.ExportChannel(context.Background(), ref, NewSession()))

	// truncate the canonical sink to 3 of 10 messages
	sink := export.NewMarkdownSink(channelDir(rig.baseDir, "News Feed"), "News Feed")
	records, err := sink.ParseExisting()
	require.NoError(t, err)
	require.Len(t, records, 10)
	_, err = sink.Write(records[:3], false)
	require.NoError(t, err)

	session := NewSession()
	require.NoError(t, rig.coord.ExportChannel(context.Background(), ref, session))

	count, err := sink.CountEntries()
	require.NoError(t, err)
	assert.Equal(t, 10, count, "re-export must restore all messages")
	assert.GreaterOrEqual(t, session.Snapshot().Reexports, 1)

	cp, err := rig.store.Load(100)
	require.NoError(t, err)
	assert.Equal(t, int64(10), cp.TotalMessages)
}

func TestExportChannel_FloodRetryHonorsCooldownCap(t *testing.T) {
	rig := newTestRig(t)
	rig.source.addChannel(100, "News Feed", []telegram.FetchedMessage{msg(1, "hello")})
	rig.source.listErrs = []error{errors.New("rpc error code 420: FLOOD_WAIT_900")}
	ref := models.ChannelRef{ID: 100, Title: "News Feed"}

	session := NewSession()
	require.NoError(t, rig.coord.ExportChannel(context.Background(), ref, session))

	require.NotEmpty(t, rig.waits)
	assert.Equal(t, 5*time.Minute, rig.waits[0], "cooldown capped at five minutes")
	assert.Equal(t, 1, session.Snapshot().ChannelsProcessed)
}

func TestExportChannel_FloodRetriesExhausted(t *testing.T) {
	rig := newTestRig(t)
	rig.source.addChannel(100, "News Feed", []telegram.FetchedMessage{msg(1, "hello")})
	flood := errors.New("rpc error code 420: FLOOD_WAIT_30")
	rig.source.listErrs = []error{flood, flood, flood}
	ref := models.ChannelRef{ID: 100, Title: "News Feed"}

	session := NewSession()
	err := rig.coord.ExportChannel(context.Background(), ref, session)

	require.Error(t, err)
	assert.Equal(t, 1, session.Snapshot().ChannelsFailed)
	assert.Contains(t, rig.notifier.failures, "News Feed")

	cp, loadErr := rig.store.Load(100)
	require.NoError(t, loadErr)
	assert.Nil(t, cp, "checkpoint untouched on failure")
}

func TestExportChannel_FailedDownloadClearsMedia(t *testing.T) {
	rig := newTestRig(t)
	rig.acquirer.fail[2] = true
	rig.source.addChannel(100, "News Feed", []telegram.FetchedMessage{
		msg(1, "plain"),
		msgWithPhoto(2, "lost media"),
		msgWithPhoto(3, "kept media"),
	})
	ref := models.ChannelRef{ID: 100, Title: "News Feed"}

	require.NoError(t, rig.coord.ExportChannel(context.Background(), ref, NewSession()))

	sink := export.NewMarkdownSink(channelDir(rig.baseDir, "News Feed"), "News Feed")
	records, err := sink.ParseExisting()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.False(t, records[1].HasMedia(), "failed download must clear media fields")
	assert.Empty(t, records[1].MediaPath)
	assert.True(t, records[2].HasMedia())
	assert.FileExists(t, filepath.Join(channelDir(rig.baseDir, "News Feed"), records[2].MediaPath))
}

func TestExportChannel_MessagesOnlySkipsDownloads(t *testing.T) {
	rig := newTestRig(t)
	rig.source.addChannel(100, "News Feed", []telegram.FetchedMessage{
		msgWithPhoto(1, "photo post"),
		msg(2, "plain"),
	})
	ref := models.ChannelRef{ID: 100, Title: "News Feed", Export: models.ExportMessagesOnly}

	require.NoError(t, rig.coord.ExportChannel(context.Background(), ref, NewSession()))

	assert.Equal(t, 0, rig.acquirer.callCount(), "messages_only must not download media")
}

func TestExportChannel_FilesOnlyKeepsMediaMessages(t *testing.T) {
	rig := newTestRig(t)
	rig.source.addChannel(100, "News Feed", []telegram.FetchedMessage{
		msgWithPhoto(1, "photo post"),
		msg(2, "plain"),
		msgWithPhoto(3, "second photo"),
	})
	ref := models.ChannelRef{ID: 100, Title: "News Feed", Export: models.ExportFilesOnly}

	require.NoError(t, rig.coord.ExportChannel(context.Background(), ref, NewSession()))

	sink := export.NewJSONSink(channelDir(rig.baseDir, "News Feed"), "News Feed")
	records, err := sink.ParseExisting()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].ID)
	assert.Equal(t, 3, records[1].ID)
}

func TestExportChannel_FilteredMessagesDropped(t *testing.T) {
	rig := newTestRig(t)
	rig.source.addChannel(100, "News Feed", []telegram.FetchedMessage{
		msg(1, "keep me"),
		msg(2, "SPAM"),
		msg(3, "keep me too"),
	})
	cfg := DefaultConfig(rig.baseDir)
	cfg.InterChannelGap = 0
	rig.coord = New(rig.source, filterFunc(func(text string) (bool, string) {
		return text == "SPAM", "advertisement"
	}), rig.acquirer, rig.store, nil, nil, cfg)
	rig.coord.sleep = func(ctx context.Context, _ time.Duration) bool { return ctx.Err() == nil }
	ref := models.ChannelRef{ID: 100, Title: "News Feed"}

	session := NewSession()
	require.NoError(t, rig.coord.ExportChannel(context.Background(), ref, session))

	snap := session.Snapshot()
	assert.Equal(t, 1, snap.FilteredMessages)
	assert.Equal(t, 2, snap.NewMessages)

	sink := export.NewMarkdownSink(channelDir(rig.baseDir, "News Feed"), "News Feed")
	records, err := sink.ParseExisting()
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestExportBatch_FailureContainment(t *testing.T) {
	rig := newTestRig(t)
	rig.source.addChannel(100, "Broken", nil)
	rig.source.resolveErr[100] = errors.New("rpc error code 400: CHANNEL_PRIVATE")
	rig.source.addChannel(200, "Healthy", []telegram.FetchedMessage{msg(1, "fine")})

	channels := []models.ChannelRef{
		{ID: 100, Title: "Broken"},
		{ID: 200, Title: "Healthy"},
	}
	session := NewSession()
	require.NoError(t, rig.coord.ExportBatch(context.Background(), channels, session))

	snap := session.Snapshot()
	assert.Equal(t, 1, snap.ChannelsFailed)
	assert.Equal(t, 1, snap.ChannelsProcessed)

	sink := export.NewMarkdownSink(channelDir(rig.baseDir, "Healthy"), "Healthy")
	count, err := sink.CountEntries()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestExportBatch_StopsOnCancel(t *testing.T) {
	rig := newTestRig(t)
	rig.source.addChannel(100, "One", []telegram.FetchedMessage{msg(1, "a")})
	rig.source.addChannel(200, "Two", []telegram.FetchedMessage{msg(1, "b")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rig.coord.ExportBatch(ctx, []models.ChannelRef{
		{ID: 100, Title: "One"}, {ID: 200, Title: "Two"},
	}, NewSession())
	assert.ErrorIs(t, err, context.Canceled)
}
