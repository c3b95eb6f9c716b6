package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"feedsync/internal/config"
	"feedsync/internal/events"
	"feedsync/internal/jobs"
	"feedsync/internal/logger"
	"feedsync/internal/models"
	"feedsync/internal/options"
	"feedsync/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notifyCall struct {
	url      string
	feedType string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *fakeNotifier) Notify(ctx context.Context, downloadURL, feedType string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{url: downloadURL, feedType: feedType})
	return fmt.Sprintf("upload-%d", len(n.calls))
}

type fakeMirror struct {
	files map[string]string
}

func (m *fakeMirror) Mirror(ctx context.Context, feedType, filePath string) error {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	m.files[feedType] = string(raw)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

// failingSource fails on one batch number.
type failingSource struct {
	RecordSource
	failOn int
}

func (s *failingSource) GetBatch(ctx context.Context, batchNumber, batchSize int, cursor string) ([]Record, error) {
	if batchNumber == s.failOn {
		return nil, errors.New("catalog unavailable")
	}
	return s.RecordSource.GetBatch(ctx, batchNumber, batchSize, cursor)
}

type harness struct {
	registry  *Registry
	scheduler *jobs.MemoryScheduler
	store     options.Store
	source    *StaticSource
	notifier  *fakeNotifier
	mirror    *fakeMirror
	events    *fakePublisher
	history   *History
	cfg       *config.Config
}

func exampleSource() *StaticSource {
	return &StaticSource{
		Columns: []string{"id", "title"},
		Rows: []Row{
			{ID: "1", Values: []string{"1", "Shoe"}},
			{ID: "2", Values: []string{"2", "Hat"}},
			{ID: "3", Values: []string{"3", "Sock"}},
		},
	}
}

func newHarness(t *testing.T, feedCfg config.FeedConfig, source RecordSource) *harness {
	t.Helper()

	db := testutil.NewDatabase(t)
	log := logger.NewNop()

	cfg := &config.Config{
		BaseURL: "https://shop.test",
		FeedDir: t.TempDir(),
		Feeds:   map[string]config.FeedConfig{"example": feedCfg},
	}

	mux := jobs.NewMux()
	sched := jobs.NewMemoryScheduler(mux, log)
	h := &harness{
		scheduler: sched,
		store:     options.NewGormStore(db.DB),
		notifier:  &fakeNotifier{},
		mirror:    &fakeMirror{files: map[string]string{}},
		events:    &fakePublisher{},
		history:   NewHistory(db.DB, log),
		cfg:       cfg,
	}
	if static, ok := source.(*StaticSource); ok {
		h.source = static
	}

	reg, err := NewRegistry(cfg, Deps{
		Options:   h.store,
		Scheduler: sched,
		Mux:       mux,
		Sources:   map[string]RecordSource{"example": source},
		Notifier:  h.notifier,
		Mirror:    h.mirror,
		Events:    h.events,
		Recorder:  h.history,
		Types:     []string{"example"},
		Logger:    log,
	})
	require.NoError(t, err)
	h.registry = reg
	return h
}

func (h *harness) publicFile(t *testing.T) string {
	t.Helper()
	def, err := h.registry.Definition("example")
	require.NoError(t, err)
	path, err := def.Writer.FilePath(context.Background())
	require.NoError(t, err)
	return path
}

func TestRegistry_ExampleFeedEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.FeedConfig{BatchSize: 1}, exampleSource())

	queued, err := h.registry.Regenerate(ctx, "example")
	require.NoError(t, err)
	require.True(t, queued)

	_, err = h.scheduler.RunPending(ctx)
	require.NoError(t, err)

	want := "id,title\n1,Shoe\n2,Hat\n3,Sock\n"
	assert.Equal(t, want, readFile(t, h.publicFile(t)))
	assert.Equal(t, want, h.mirror.files["example"])

	downloadURL, err := h.registry.DownloadURL(ctx, "example")
	require.NoError(t, err)
	require.Len(t, h.notifier.calls, 1)
	assert.Equal(t, notifyCall{url: downloadURL, feedType: "example"}, h.notifier.calls[0])

	require.Len(t, h.events.events, 2)
	assert.Equal(t, events.TypeFeedGenerated, h.events.events[0].Type)
	assert.Equal(t, events.TypeFeedUploaded, h.events.events[1].Type)
	assert.Equal(t, "upload-1", h.events.events[1].UploadID)

	run, err := h.history.LastRun(ctx, "example")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.FeedRunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.Batches)
	assert.Equal(t, 3, run.Records)
	assert.Equal(t, jobs.ModeChained, run.Mode)
}

func TestRegistry_PublicFileUntouchedMidRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.FeedConfig{BatchSize: 1}, exampleSource())

	_, err := h.registry.Regenerate(ctx, "example")
	require.NoError(t, err)
	_, err = h.scheduler.RunPending(ctx)
	require.NoError(t, err)
	before := readFile(t, h.publicFile(t))

	h.source.Rows = append(h.source.Rows, Row{ID: "4", Values: []string{"4", "Belt"}})
	_, err = h.registry.Regenerate(ctx, "example")
	require.NoError(t, err)

	// start and the first two batches
	for i := 0; i < 3; i++ {
		ran, err := h.scheduler.RunNext(ctx)
		require.NoError(t, err)
		require.True(t, ran)
		assert.Equal(t, before, readFile(t, h.publicFile(t)))
	}

	_, err = h.scheduler.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+"4,Belt\n", readFile(t, h.publicFile(t)))
}

func TestRegistry_FailedRunKeepsPreviousFile(t *testing.T) {
	ctx := context.Background()
	source := &failingSource{RecordSource: exampleSource()}
	h := newHarness(t, config.FeedConfig{BatchSize: 1}, source)

	_, err := h.registry.Regenerate(ctx, "example")
	require.NoError(t, err)
	_, err = h.scheduler.RunPending(ctx)
	require.NoError(t, err)
	before := readFile(t, h.publicFile(t))

	source.failOn = 2
	_, err = h.registry.Regenerate(ctx, "example")
	require.NoError(t, err)
	_, err = h.scheduler.RunPending(ctx)
	require.Error(t, err)

	assert.Equal(t, before, readFile(t, h.publicFile(t)))
	assert.Len(t, h.notifier.calls, 1)

	run, err := h.history.LastRun(ctx, "example")
	require.NoError(t, err)
	assert.Equal(t, models.FeedRunStatusAborted, run.Status)
	require.NotNil(t, run.Error)
	assert.Contains(t, *run.Error, "catalog unavailable")

	// the next run starts from a truncated temp file
	source.failOn = 0
	_, err = h.registry.Regenerate(ctx, "example")
	require.NoError(t, err)
	_, err = h.scheduler.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, readFile(t, h.publicFile(t)))
}

func TestRegistry_RegenerateWhileRunning(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.FeedConfig{BatchSize: 1}, exampleSource())

	queued, err := h.registry.Regenerate(ctx, "example")
	require.NoError(t, err)
	assert.True(t, queued)

	queued, err = h.registry.Regenerate(ctx, "example")
	require.NoError(t, err)
	assert.False(t, queued)

	_, err = h.registry.Regenerate(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownFeed)
}

func TestRegistry_RegenerateNowUnbounded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.FeedConfig{BatchSize: jobs.Unbounded}, exampleSource())

	require.NoError(t, h.registry.RegenerateNow(ctx, "example"))
	assert.Equal(t, "id,title\n1,Shoe\n2,Hat\n3,Sock\n", readFile(t, h.publicFile(t)))

	// completion runs as its own task
	assert.Empty(t, h.notifier.calls)
	_, err := h.scheduler.RunPending(ctx)
	require.NoError(t, err)
	assert.Len(t, h.notifier.calls, 1)
}

func TestRegistry_Secret(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.FeedConfig{}, exampleSource())

	secret, err := h.registry.Secret(ctx, "example")
	require.NoError(t, err)
	assert.Len(t, secret, 64)

	again, err := h.registry.Secret(ctx, "example")
	require.NoError(t, err)
	assert.Equal(t, secret, again)

	stored, ok, err := h.store.Get(ctx, secretKey("example"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, secret, stored)

	assert.NoError(t, h.registry.CheckSecret(ctx, "example", secret))
	assert.ErrorIs(t, h.registry.CheckSecret(ctx, "example", strings.ToUpper(secret)), ErrUnauthorized)
	assert.ErrorIs(t, h.registry.CheckSecret(ctx, "example", ""), ErrUnauthorized)
}

func TestRegistry_SecretSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.FeedConfig{}, exampleSource())

	secret, err := h.registry.Secret(ctx, "example")
	require.NoError(t, err)

	reg, err := NewRegistry(h.cfg, Deps{
		Options:   h.store,
		Scheduler: h.scheduler,
		Mux:       jobs.NewMux(),
		Sources:   map[string]RecordSource{"example": exampleSource()},
		Types:     []string{"example"},
	})
	require.NoError(t, err)

	again, err := reg.Secret(ctx, "example")
	require.NoError(t, err)
	assert.Equal(t, secret, again)
}

func TestRegistry_CheckSecretWithoutStoredSecret(t *testing.T) {
	h := newHarness(t, config.FeedConfig{}, exampleSource())

	err := h.registry.CheckSecret(context.Background(), "example", "anything")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, ok, err := h.store.Get(context.Background(), secretKey("example"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_DownloadURL(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.FeedConfig{}, exampleSource())

	raw, err := h.registry.DownloadURL(ctx, "example")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "shop.test", u.Host)
	assert.Equal(t, "/", u.Path)
	assert.Equal(t, "feedsync_get_feed_data_example", u.Query().Get(RequestParam))

	secret, _ := h.registry.Secret(ctx, "example")
	assert.Equal(t, secret, u.Query().Get("secret"))

	def, ok := h.registry.ByRequestAction("feedsync_get_feed_data_example")
	require.True(t, ok)
	assert.Equal(t, "example", def.Name)
}

func TestRegistry_UnknownSource(t *testing.T) {
	_, err := NewRegistry(&config.Config{}, Deps{
		Options:   options.NewGormStore(testutil.NewDatabase(t).DB),
		Scheduler: jobs.NewMemoryScheduler(jobs.NewMux(), logger.NewNop()),
		Mux:       jobs.NewMux(),
		Sources:   map[string]RecordSource{},
	})
	assert.ErrorIs(t, err, ErrUnknownFeed)
}

func TestRegistry_DefinitionDefaults(t *testing.T) {
	h := newHarness(t, config.FeedConfig{Interval: time.Millisecond}, exampleSource())

	def, err := h.registry.Definition("example")
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, def.BatchSize)
	assert.Equal(t, MinInterval, def.Interval)
	assert.True(t, def.Enabled)
	assert.Equal(t, "feedsync_regenerate_feed_example", def.RegenerateAction())
	assert.Equal(t, "feedsync_feed_generation_completed_example", def.CompletedAction())
}

func TestRegistry_ScheduleFeedGeneration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.FeedConfig{BatchSize: 2, Interval: time.Hour}, exampleSource())
	def, _ := h.registry.Definition("example")
	hook := def.RegenerateAction()

	require.NoError(t, h.registry.ScheduleFeedGeneration(ctx))
	require.NoError(t, h.registry.ScheduleFeedGeneration(ctx))
	assert.Equal(t, []string{hook}, h.scheduler.PendingHooks())

	// the recurring task starts a run and re-queues itself
	ran, err := h.scheduler.RunNext(ctx)
	require.NoError(t, err)
	require.True(t, ran)
	assert.ElementsMatch(t, []string{hook, def.Job.StartHook()}, h.scheduler.PendingHooks())

	_, err = h.scheduler.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{hook}, h.scheduler.PendingHooks())
	assert.FileExists(t, h.publicFile(t))

	def.Enabled = false
	require.NoError(t, h.registry.ScheduleFeedGeneration(ctx))
	assert.Empty(t, h.scheduler.PendingHooks())
}

func TestRegistry_HeartbeatHook(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.FeedConfig{}, exampleSource())

	require.NoError(t, h.scheduler.Enqueue(ctx, jobs.Task{Hook: HeartbeatHook}))
	ran, err := h.scheduler.RunNext(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	assert.Equal(t, []string{"feedsync_regenerate_feed_example"}, h.scheduler.PendingHooks())
}
