package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shishobooks/shelfsync/pkg/books"
	"github.com/shishobooks/shelfsync/pkg/feed"
	"github.com/shishobooks/shelfsync/pkg/ledger"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/shishobooks/shelfsync/pkg/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listBooks(t *testing.T, f *fixture) []*models.Book {
	t.Helper()
	all, err := books.NewService(f.db).ListBooks(context.Background(), books.ListBooksOptions{})
	require.NoError(t, err)
	return all
}

func cursorOf(t *testing.T, f *fixture, feedName string) *models.SyncCursor {
	t.Helper()
	cursors, err := ledger.NewService(f.db).ListCursors(context.Background())
	require.NoError(t, err)
	for _, c := range cursors {
		if c.Feed == feedName {
			return c
		}
	}
	return nil
}

func isLedgered(t *testing.T, f *fixture, feedName string, itemID int) bool {
	t.Helper()
	_, err := ledger.NewService(f.db).Lookup(context.Background(), feedName, itemID)
	if isNotFound(err) {
		return false
	}
	require.NoError(t, err)
	return true
}

func ledgerSize(t *testing.T, f *fixture) int {
	t.Helper()
	_, total, err := ledger.NewService(f.db).ListRecordsWithTotal(context.Background(), ledger.ListRecordsOptions{})
	require.NoError(t, err)
	return total
}

// failLedgerWrites makes every ledger insert for feedName abort, so the
// transaction of an item fails after its catalog changes.
func failLedgerWrites(t *testing.T, f *fixture, feedName string) {
	t.Helper()
	_, err := f.db.ExecContext(context.Background(), `
		CREATE TRIGGER fail_ledger_writes BEFORE INSERT ON ledger_records
		WHEN NEW.feed = '`+feedName+`'
		BEGIN SELECT RAISE(ABORT, 'ledger unavailable'); END`)
	require.NoError(t, err)
}

func TestRunMetadataSync_AddsThenSkipsOnRerun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.client.add(metadataChannel,
		post(1, "Author: Jane Doe\nTitle: Voyage\nGenre: #sf"),
		post(2, "Author: John Roe\nTitle: Harbor\nRating: 7\nA quiet town."),
		post(3, "no labels here"),
	)

	result, err := f.orchestrator.RunMetadataSync(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Errors)
	require.Len(t, result.Details, 3)
	assert.Equal(t, 3, result.Details[0].SourceItemID, "newest first")
	assert.Equal(t, "missing_title_or_author", result.Details[0].Reason)
	assert.Len(t, listBooks(t, f), 2)
	assert.Equal(t, 3, ledgerSize(t, f))

	again, err := f.orchestrator.RunMetadataSync(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, again.Skipped)
	assert.Equal(t, 0, again.Added)
	assert.Equal(t, 0, again.Updated)
	assert.Equal(t, 3, ledgerSize(t, f))
	for _, d := range again.Details {
		assert.Equal(t, ReasonAlreadyProcessed, d.Reason)
	}
	assert.Len(t, listBooks(t, f), 2)

	c := cursorOf(t, f, models.FeedMetadata)
	require.NotNil(t, c)
	assert.Equal(t, models.CursorStateIdle, c.State)
	assert.Nil(t, c.LastItemID, "a pass that reaches the start of the channel clears the position")
}

func TestRunMetadataSync_TwoPostsSameKey(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// The newer post is processed first and lacks a description.
	f.client.add(metadataChannel,
		post(20, "Author: Jane Doe\nTitle: Voyage\nGenre: #sf"),
		post(10, "Author: jane  DOE\nTitle: VOYAGE\nRating: 8\nA long trip."),
	)

	result, err := f.orchestrator.RunMetadataSync(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, "merged description, rating", result.Details[1].Reason)

	all := listBooks(t, f)
	require.Len(t, all, 1)
	book, err := books.NewService(f.db).RetrieveBook(ctx, books.RetrieveBookOptions{ID: &all[0].ID})
	require.NoError(t, err)
	require.NotNil(t, book.Description)
	assert.Equal(t, "A long trip.", *book.Description)
	assert.Equal(t, []string{"sf"}, book.Genres)

	record, err := ledger.NewService(f.db).Lookup(ctx, models.FeedMetadata, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, record.Status)
	assert.Equal(t, book.ID, *record.CatalogEntryID)
}

func TestRunMetadataSync_ReorderedCompositionReplacesSeries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.client.add(metadataChannel, post(10, "Author: Jane Doe\nTitle: Voyage (cycle)\nComposition:\n1. Alpha (2001)\n2. Beta (2002)"))
	result, err := f.orchestrator.RunMetadataSync(ctx, RunOptions{})
	require.NoError(t, err)
	require.Len(t, result.Details, 1)
	assert.Equal(t, StatusAdded, result.Details[0].Status)
	assert.Equal(t, "added; "+ReasonSeriesCreated, result.Details[0].Reason)

	f.client.add(metadataChannel, post(11, "Author: Jane Doe\nTitle: Voyage (cycle)\nComposition:\n1. Beta (2002)\n2. Alpha (2001)"))
	result, err = f.orchestrator.RunMetadataSync(ctx, RunOptions{})
	require.NoError(t, err)
	require.Len(t, result.Details, 2)
	assert.Equal(t, StatusUpdated, result.Details[0].Status)
	assert.Equal(t, ReasonSeriesReplaced, result.Details[0].Reason)
	assert.Equal(t, ReasonAlreadyProcessed, result.Details[1].Reason)

	all := listBooks(t, f)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].SeriesID)
	s, err := series.NewService(f.db).RetrieveSeries(ctx, series.RetrieveSeriesOptions{ID: all[0].SeriesID})
	require.NoError(t, err)
	require.Len(t, s.Works, 2)
	assert.Equal(t, "Beta", s.Works[0].Title)
	assert.Equal(t, "Alpha", s.Works[1].Title)
}

func TestRunMetadataSync_StoresCover(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.client.media["p1"] = pngBytes(t)
	f.client.add(metadataChannel, photoPost(5, "Author: Jane Doe\nTitle: Voyage", "p1"))

	result, err := f.orchestrator.RunMetadataSync(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)

	all := listBooks(t, f)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].CoverRef)
	assert.Equal(t, "/objects/covers/5-cover.jpg", *all[0].CoverRef)
}

func TestRunMetadataSync_CoverTimeoutStillAdds(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(o *Options) { o.PhotoTimeout = 20 * time.Millisecond })
	ctx := context.Background()

	f.client.slow["p1"] = true
	f.client.add(metadataChannel, photoPost(5, "Author: Jane Doe\nTitle: Voyage", "p1"))

	result, err := f.orchestrator.RunMetadataSync(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)

	all := listBooks(t, f)
	require.Len(t, all, 1)
	assert.Nil(t, all[0].CoverRef)
}

func TestRunMetadataSync_DryRunWritesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.client.add(metadataChannel, post(1, "Author: Jane Doe\nTitle: Voyage"))

	result, err := f.orchestrator.RunMetadataSync(ctx, RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.Added)
	assert.Empty(t, listBooks(t, f))
	assert.Nil(t, cursorOf(t, f, models.FeedMetadata))

	assert.False(t, isLedgered(t, f, models.FeedMetadata, 1))
}

func TestRunMetadataSync_LimitAndResume(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		f.client.add(metadataChannel, post(i, "Author: A\nTitle: Book "+string(rune('A'+i))))
	}

	result, err := f.orchestrator.RunMetadataSync(ctx, RunOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	c := cursorOf(t, f, models.FeedMetadata)
	require.NotNil(t, c)
	require.NotNil(t, c.LastItemID)
	assert.Equal(t, 4, *c.LastItemID)

	result, err = f.orchestrator.RunMetadataSync(ctx, RunOptions{Limit: 2, Resume: true})
	require.NoError(t, err)
	require.Len(t, result.Details, 2)
	assert.Equal(t, 3, result.Details[0].SourceItemID)
	assert.Equal(t, 2, result.Details[1].SourceItemID)

	result, err = f.orchestrator.RunMetadataSync(ctx, RunOptions{Resume: true})
	require.NoError(t, err)
	require.Len(t, result.Details, 1)
	assert.Equal(t, 1, result.Details[0].SourceItemID)
	assert.Len(t, listBooks(t, f), 5)

	c = cursorOf(t, f, models.FeedMetadata)
	assert.Nil(t, c.LastItemID)
	assert.Equal(t, models.CursorStateIdle, c.State)
}

func TestRunMetadataSync_LimitIgnoresLedgeredItems(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.client.add(metadataChannel, post(1, "Author: A\nTitle: One"))
	_, err := f.orchestrator.RunMetadataSync(ctx, RunOptions{})
	require.NoError(t, err)

	f.client.add(metadataChannel, post(2, "Author: A\nTitle: Two"), post(3, "Author: A\nTitle: Three"))
	result, err := f.orchestrator.RunMetadataSync(ctx, RunOptions{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.Skipped)
}

func TestRunMetadataSync_RetriesTransientFetchErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(o *Options) { o.FetchRetries = 2 })
	ctx := context.Background()

	transient := &feed.TransientError{Err: errors.New("flood wait"), RetryAfter: time.Millisecond}
	f.client.fetchErrs = []error{transient, transient}
	f.client.add(metadataChannel, post(1, "Author: A\nTitle: One"))

	result, err := f.orchestrator.RunMetadataSync(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
}

func TestRunMetadataSync_FetchFailureStopsPass(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(o *Options) { o.FetchRetries = 1 })
	ctx := context.Background()

	transient := &feed.TransientError{Err: errors.New("flood wait"), RetryAfter: time.Millisecond}
	f.client.fetchErrs = []error{transient, transient}
	f.client.add(metadataChannel, post(1, "Author: A\nTitle: One"))

	result, err := f.orchestrator.RunMetadataSync(ctx, RunOptions{})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 2, f.client.fetches)

	c := cursorOf(t, f, models.FeedMetadata)
	require.NotNil(t, c)
	assert.Equal(t, models.CursorStateStopped, c.State)

	// The next pass restarts the stopped cursor.
	result, err = f.orchestrator.RunMetadataSync(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
}

func TestRunMetadataSync_PermanentFetchErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(o *Options) { o.FetchRetries = 3 })

	f.client.fetchErrs = []error{feed.ErrChannelNotFound}

	_, err := f.orchestrator.RunMetadataSync(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, feed.ErrChannelNotFound)
	assert.Equal(t, 1, f.client.fetches)
}

func TestRun_PassInProgress(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.orchestrator.running.Lock()
	_, err := f.orchestrator.RunMetadataSync(ctx, RunOptions{})
	assert.ErrorIs(t, err, ErrPassInProgress)
	f.orchestrator.running.Unlock()

	release, err := acquireLock(f.orchestrator.opts.LockFilePath)
	require.NoError(t, err)
	_, err = f.orchestrator.RunFileSync(ctx, RunOptions{})
	assert.ErrorIs(t, err, ErrPassInProgress)
	release()

	_, err = f.orchestrator.RunFileSync(ctx, RunOptions{})
	assert.NoError(t, err)
}

func TestRunMetadataSync_FailedCommitLeavesNothingBehind(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	failLedgerWrites(t, f, models.FeedMetadata)
	f.client.media["c1"] = pngBytes(t)
	f.client.add(metadataChannel, photoPost(5, "Author: Jane Doe\nTitle: Voyage (cycle)\nComposition:\n1. Alpha (2001)", "c1"))

	result, err := f.orchestrator.RunMetadataSync(ctx, RunOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, result.Details, 1)
	assert.Equal(t, StatusError, result.Details[0].Status)
	assert.Contains(t, result.Details[0].Reason, "ledger unavailable")

	assert.Empty(t, listBooks(t, f))
	assert.False(t, isLedgered(t, f, models.FeedMetadata, 5))
	assert.NoFileExists(t, f.store.Path("/objects/covers/5-cover.jpg"), "the stored cover is removed again")

	allSeries, err := series.NewService(f.db).ListSeries(ctx, series.ListSeriesOptions{})
	require.NoError(t, err)
	assert.Empty(t, allSeries)

	c := cursorOf(t, f, models.FeedMetadata)
	require.NotNil(t, c)
	assert.Nil(t, c.LastItemID)
}
