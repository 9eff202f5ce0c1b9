package submitter_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cavefire/Tapo-Directory/internal/catalog"
	"github.com/cavefire/Tapo-Directory/internal/history"
	"github.com/cavefire/Tapo-Directory/internal/metrics"
	"github.com/cavefire/Tapo-Directory/internal/publisher/memory"
	"github.com/cavefire/Tapo-Directory/internal/submitter"
	"github.com/cavefire/Tapo-Directory/internal/wayback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var creationA = time.Date(2016, 3, 8, 11, 42, 49, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

type fakeIDGen struct{ id string }

func (f *fakeIDGen) NewID() (string, error) { return f.id, nil }

type fakeRecorder struct {
	records []history.RunRecord
}

func (f *fakeRecorder) Record(_ context.Context, rec history.RunRecord) error {
	f.records = append(f.records, rec)
	return nil
}

type submitResult struct {
	url string
	err error
}

// fakeArchiver replays canned results in order. When given a clock and a
// latency it advances time on every call, standing in for slow submissions.
type fakeArchiver struct {
	clock   *fakeClock
	latency time.Duration
	results []submitResult
	hook    func(pageURL string)
	calls   []string
}

func (f *fakeArchiver) Submit(_ context.Context, pageURL string) (string, error) {
	if f.hook != nil {
		f.hook(pageURL)
	}
	f.calls = append(f.calls, pageURL)
	if f.clock != nil && f.latency > 0 {
		f.clock.Advance(f.latency)
	}
	if len(f.results) == 0 {
		return "", errors.New("unexpected submission")
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res.url, res.err
}

type fakePauser struct {
	pauses []time.Duration
}

func (f *fakePauser) Pause(_ context.Context, d time.Duration) {
	f.pauses = append(f.pauses, d)
}

func seedCatalog(t *testing.T, path string, entries ...*catalog.Entry) {
	t.Helper()
	table := catalog.NewTable()
	for _, e := range entries {
		require.NoError(t, table.Append(e))
	}
	require.NoError(t, catalog.SaveFile(path, table))
}

func pendingEntry(path string) *catalog.Entry {
	return &catalog.Entry{Creation: creationA, Size: 100, FullPath: path, Added: "2026-08-01"}
}

func mustLookup(t *testing.T, table *catalog.Table, path string) *catalog.Entry {
	t.Helper()
	entry, ok := table.Lookup(path)
	require.True(t, ok, "missing catalog entry %s", path)
	return entry
}

func newTestRunner(
	archiver submitter.Archiver,
	recorder history.Recorder,
	pub submitter.Publisher,
	clock *fakeClock,
	pauser submitter.Pauser,
	cfg submitter.Config,
) *submitter.Runner {
	metrics.Init()
	return submitter.NewRunner(
		archiver,
		recorder,
		pub,
		&fakeIDGen{id: "run-1"},
		clock,
		pauser,
		cfg,
		zap.NewNop(),
	)
}

func TestRunner_Run_ArchivesPendingEntries(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "all_keys.csv")

	archived := pendingEntry("firmware/a.bin")
	archived.WaybackURL = "https://web.archive.org/web/1/http://download.tplinkcloud.com/firmware/a.bin"
	removed := pendingEntry("firmware/b.bin")
	removed.Removed = "2026-08-10"
	seedCatalog(t, catalogPath, archived, removed, pendingEntry("firmware/c.bin"))

	clock := &fakeClock{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	archiver := &fakeArchiver{results: []submitResult{
		{url: "https://web.archive.org/web/2/http://download.tplinkcloud.com/firmware/c.bin"},
	}}
	recorder := &fakeRecorder{}
	pub := memory.New()
	pauser := &fakePauser{}

	runner := newTestRunner(archiver, recorder, pub, clock, pauser, submitter.Config{
		CatalogPath: catalogPath,
		ReportDir:   dir,
		Delay:       2 * time.Second,
		Topic:       "runs",
	})

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Archived)
	assert.Equal(t, 1, stats.AlreadyArchived)
	assert.Equal(t, 0, stats.Failed)
	assert.False(t, stats.BudgetExhausted)

	// Only the pending entry is submitted: archived and removed rows are
	// skipped without touching the service.
	require.Equal(t, []string{"http://download.tplinkcloud.com/firmware/c.bin"}, archiver.calls)

	table, err := catalog.LoadFile(catalogPath)
	require.NoError(t, err)
	entry := mustLookup(t, table, "firmware/c.bin")
	assert.Equal(t, "https://web.archive.org/web/2/http://download.tplinkcloud.com/firmware/c.bin", entry.WaybackURL)

	data, err := os.ReadFile(filepath.Join(dir, "archive_stats.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new_archives=1\nalready_archived=1\nfailed=0\nbudget_exhausted=false\n", string(data))

	require.Len(t, recorder.records, 1)
	rec := recorder.records[0]
	assert.Equal(t, "run-1", rec.ID)
	assert.Equal(t, history.KindArchive, rec.Kind)
	assert.Equal(t, 1, rec.Archived)
	assert.Equal(t, 1, rec.Skipped)
	assert.Equal(t, 3, rec.CatalogSize)
	assert.Empty(t, rec.Error)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "runs", msgs[0].Topic)

	assert.Equal(t, []time.Duration{2 * time.Second}, pauser.pauses)
}

func TestRunner_Run_BudgetExhausted(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "all_keys.csv")
	seedCatalog(t, catalogPath,
		pendingEntry("firmware/a.bin"),
		pendingEntry("firmware/b.bin"),
		pendingEntry("firmware/c.bin"),
	)

	// Each submission takes two minutes against a three minute budget. The
	// budget is checked before each submission, so the second one is allowed
	// to start at +2m and overrun; the third finds the budget spent.
	clock := &fakeClock{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	archiver := &fakeArchiver{
		clock:   clock,
		latency: 2 * time.Minute,
		results: []submitResult{
			{url: "https://web.archive.org/web/1/a"},
			{url: "https://web.archive.org/web/2/b"},
		},
	}
	recorder := &fakeRecorder{}

	runner := newTestRunner(archiver, recorder, nil, clock, &fakePauser{}, submitter.Config{
		CatalogPath: catalogPath,
		ReportDir:   dir,
		Budget:      3 * time.Minute,
	})

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Archived)
	assert.True(t, stats.BudgetExhausted)
	assert.Len(t, archiver.calls, 2)

	table, err := catalog.LoadFile(catalogPath)
	require.NoError(t, err)
	assert.True(t, mustLookup(t, table, "firmware/a.bin").Archived())
	assert.True(t, mustLookup(t, table, "firmware/b.bin").Archived())
	assert.False(t, mustLookup(t, table, "firmware/c.bin").Archived())

	data, err := os.ReadFile(filepath.Join(dir, "archive_stats.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new_archives=2\nalready_archived=0\nfailed=0\nbudget_exhausted=true\n", string(data))

	require.Len(t, recorder.records, 1)
	assert.True(t, recorder.records[0].BudgetExhausted)
}

func TestRunner_Run_FailedSubmissionDoesNotStopTheRun(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "all_keys.csv")
	seedCatalog(t, catalogPath,
		pendingEntry("firmware/a.bin"),
		pendingEntry("firmware/b.bin"),
		pendingEntry("firmware/c.bin"),
	)

	clock := &fakeClock{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	archiver := &fakeArchiver{results: []submitResult{
		{err: &wayback.SubmissionError{URL: "http://download.tplinkcloud.com/firmware/a.bin", Status: 502}},
		{url: "https://web.archive.org/web/1/b"},
		{url: "https://web.archive.org/web/2/c"},
	}}

	runner := newTestRunner(archiver, nil, nil, clock, &fakePauser{}, submitter.Config{
		CatalogPath: catalogPath,
		ReportDir:   dir,
	})

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Archived)
	assert.Equal(t, 1, stats.Failed)
	assert.Len(t, archiver.calls, 3)

	table, err := catalog.LoadFile(catalogPath)
	require.NoError(t, err)
	assert.False(t, mustLookup(t, table, "firmware/a.bin").Archived())
	assert.True(t, mustLookup(t, table, "firmware/b.bin").Archived())
	assert.True(t, mustLookup(t, table, "firmware/c.bin").Archived())
}

func TestRunner_Run_RateLimitCoolsDownWithoutRetry(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "all_keys.csv")
	seedCatalog(t, catalogPath,
		pendingEntry("firmware/a.bin"),
		pendingEntry("firmware/b.bin"),
	)

	clock := &fakeClock{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	archiver := &fakeArchiver{results: []submitResult{
		{err: wayback.ErrRateLimited},
		{url: "https://web.archive.org/web/1/b"},
	}}
	pauser := &fakePauser{}

	runner := newTestRunner(archiver, nil, nil, clock, pauser, submitter.Config{
		CatalogPath:       catalogPath,
		ReportDir:         dir,
		Delay:             2 * time.Second,
		RateLimitCooldown: 45 * time.Second,
	})

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Archived)
	assert.Equal(t, 1, stats.Failed)

	// The throttled entry is skipped, not retried, and the cooldown replaces
	// the politeness delay for that entry.
	assert.Len(t, archiver.calls, 2)
	assert.Equal(t, []time.Duration{45 * time.Second, 2 * time.Second}, pauser.pauses)

	table, err := catalog.LoadFile(catalogPath)
	require.NoError(t, err)
	assert.False(t, mustLookup(t, table, "firmware/a.bin").Archived())
	assert.True(t, mustLookup(t, table, "firmware/b.bin").Archived())
}

func TestRunner_Run_ServiceDownBeforeProgressFails(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "all_keys.csv")
	seedCatalog(t, catalogPath,
		pendingEntry("firmware/a.bin"),
		pendingEntry("firmware/b.bin"),
	)

	clock := &fakeClock{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	archiver := &fakeArchiver{results: []submitResult{{err: wayback.ErrUnavailable}}}
	recorder := &fakeRecorder{}

	runner := newTestRunner(archiver, recorder, nil, clock, &fakePauser{}, submitter.Config{
		CatalogPath: catalogPath,
		ReportDir:   dir,
	})

	stats, err := runner.Run(context.Background())
	require.ErrorIs(t, err, wayback.ErrUnavailable)
	assert.Equal(t, 0, stats.Archived)
	assert.Equal(t, 1, stats.Failed)
	assert.Len(t, archiver.calls, 1)

	// The aborted run still leaves its counts on disk, matching the recorded
	// run history.
	data, err := os.ReadFile(filepath.Join(dir, "archive_stats.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new_archives=0\nalready_archived=0\nfailed=1\nbudget_exhausted=false\n", string(data))

	require.Len(t, recorder.records, 1)
	assert.NotEmpty(t, recorder.records[0].Error)
}

func TestRunner_Run_ServiceDownAfterProgressSucceeds(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "all_keys.csv")
	seedCatalog(t, catalogPath,
		pendingEntry("firmware/a.bin"),
		pendingEntry("firmware/b.bin"),
		pendingEntry("firmware/c.bin"),
	)

	clock := &fakeClock{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	archiver := &fakeArchiver{results: []submitResult{
		{url: "https://web.archive.org/web/1/a"},
		{err: wayback.ErrUnavailable},
	}}

	runner := newTestRunner(archiver, nil, nil, clock, &fakePauser{}, submitter.Config{
		CatalogPath: catalogPath,
		ReportDir:   dir,
	})

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Archived)
	assert.Equal(t, 1, stats.Failed)
	assert.Len(t, archiver.calls, 2)

	table, err := catalog.LoadFile(catalogPath)
	require.NoError(t, err)
	assert.True(t, mustLookup(t, table, "firmware/a.bin").Archived())
	assert.False(t, mustLookup(t, table, "firmware/b.bin").Archived())
}

func TestRunner_Run_MissingCatalogFails(t *testing.T) {
	dir := t.TempDir()

	clock := &fakeClock{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	archiver := &fakeArchiver{}

	runner := newTestRunner(archiver, nil, nil, clock, &fakePauser{}, submitter.Config{
		CatalogPath: filepath.Join(dir, "all_keys.csv"),
		ReportDir:   dir,
	})

	_, err := runner.Run(context.Background())
	require.ErrorIs(t, err, fs.ErrNotExist)
	assert.Empty(t, archiver.calls)
}

func TestRunner_Run_PersistsEverySuccessImmediately(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "all_keys.csv")
	seedCatalog(t, catalogPath,
		pendingEntry("firmware/a.bin"),
		pendingEntry("firmware/b.bin"),
	)

	clock := &fakeClock{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	archiver := &fakeArchiver{results: []submitResult{
		{url: "https://web.archive.org/web/1/a"},
		{url: "https://web.archive.org/web/2/b"},
	}}
	archiver.hook = func(pageURL string) {
		if pageURL != "http://download.tplinkcloud.com/firmware/b.bin" {
			return
		}
		// By the time the second entry is submitted, the first success must
		// already be on disk.
		table, err := catalog.LoadFile(catalogPath)
		require.NoError(t, err)
		assert.True(t, mustLookup(t, table, "firmware/a.bin").Archived())
	}

	runner := newTestRunner(archiver, nil, nil, clock, &fakePauser{}, submitter.Config{
		CatalogPath: catalogPath,
		ReportDir:   dir,
	})

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Archived)
}
