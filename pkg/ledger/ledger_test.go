package ledger

import (
	"context"
	"testing"

	"github.com/shishobooks/shelfsync/pkg/books"
	"github.com/shishobooks/shelfsync/pkg/errcodes"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/shishobooks/shelfsync/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int {
	return &i
}

func TestWriteAndLookup(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()
	svc := NewService(db)

	_, err := svc.Lookup(ctx, models.FeedMetadata, 10)
	assert.ErrorIs(t, err, errcodes.NotFound("Ledger record"))

	require.NoError(t, svc.Write(ctx, &models.LedgerRecord{Feed: models.FeedMetadata, SourceItemID: 10, Status: "skipped"}))

	record, err := svc.Lookup(ctx, models.FeedMetadata, 10)
	require.NoError(t, err)
	assert.Equal(t, "skipped", record.Status)
	assert.False(t, record.ProcessedAt.IsZero())

	// Same id on the other feed is a separate item.
	_, err = svc.Lookup(ctx, models.FeedFiles, 10)
	assert.ErrorIs(t, err, errcodes.NotFound("Ledger record"))
}

func TestWrite_UpsertsOnNaturalKey(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()
	svc := NewService(db)

	require.NoError(t, svc.Write(ctx, &models.LedgerRecord{Feed: models.FeedFiles, SourceItemID: 5, Status: "skipped", AttachedFileSourceID: intPtr(5)}))
	require.NoError(t, svc.Write(ctx, &models.LedgerRecord{Feed: models.FeedFiles, SourceItemID: 5, Status: "updated"}))

	records, total, err := svc.ListRecordsWithTotal(ctx, ListRecordsOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "updated", records[0].Status)
	require.NotNil(t, records[0].AttachedFileSourceID)
	assert.Equal(t, 5, *records[0].AttachedFileSourceID)
}

func TestWrite_UnknownFeed(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)

	err := NewService(db).Write(context.Background(), &models.LedgerRecord{Feed: "other", SourceItemID: 1, Status: "added"})
	assert.Error(t, err)
}

func TestLinkFile(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()
	svc := NewService(db)

	book := &models.Book{Author: "A", Title: "T"}
	require.NoError(t, books.NewService(db).CreateBook(ctx, book))
	require.NoError(t, svc.Write(ctx, &models.LedgerRecord{Feed: models.FeedMetadata, SourceItemID: 3, CatalogEntryID: &book.ID, Status: "added"}))

	require.NoError(t, svc.LinkFile(ctx, book.ID, 4))

	record, err := svc.Lookup(ctx, models.FeedMetadata, 3)
	require.NoError(t, err)
	require.NotNil(t, record.AttachedFileSourceID)
	assert.Equal(t, 4, *record.AttachedFileSourceID)
}

func TestListRecords_Range(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()
	svc := NewService(db)

	for i := 1; i <= 5; i++ {
		require.NoError(t, svc.Write(ctx, &models.LedgerRecord{Feed: models.FeedMetadata, SourceItemID: i, Status: "added"}))
	}

	feed := models.FeedMetadata
	records, err := svc.ListRecords(ctx, ListRecordsOptions{Feed: &feed, FromID: intPtr(2), ToID: intPtr(4)})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 4, records[0].SourceItemID)
	assert.Equal(t, 2, records[2].SourceItemID)
}

func TestCursor_Transitions(t *testing.T) {
	t.Parallel()

	c := &Cursor{&models.SyncCursor{State: models.CursorStateIdle}}

	require.NoError(t, c.Transition(models.CursorStateFetching))
	require.NoError(t, c.Transition(models.CursorStateProcessing))
	require.NoError(t, c.Transition(models.CursorStateFetching))
	require.NoError(t, c.Transition(models.CursorStateProcessing))
	require.NoError(t, c.Transition(models.CursorStateIdle))

	err := c.Transition(models.CursorStateProcessing)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.CursorStateIdle, c.State)

	require.NoError(t, c.Transition(models.CursorStateStopped))
	assert.ErrorIs(t, c.Transition(models.CursorStateIdle), ErrInvalidTransition)
}

func TestCursor_LoadSaveReset(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()
	svc := NewService(db)

	c, err := svc.LoadCursor(ctx, models.FeedMetadata, "books")
	require.NoError(t, err)
	assert.Equal(t, models.CursorStateIdle, c.State)
	assert.Equal(t, 0, c.Position())

	require.NoError(t, c.Transition(models.CursorStateFetching))
	c.Advance(42)
	require.NoError(t, svc.SaveCursor(ctx, c))

	loaded, err := svc.LoadCursor(ctx, models.FeedMetadata, "books")
	require.NoError(t, err)
	assert.Equal(t, models.CursorStateIdle, loaded.State, "an interrupted pass restarts as idle")
	assert.Equal(t, 42, loaded.Position())

	moved, err := svc.LoadCursor(ctx, models.FeedMetadata, "other-channel")
	require.NoError(t, err)
	assert.Equal(t, 0, moved.Position())

	cursors, err := svc.ListCursors(ctx)
	require.NoError(t, err)
	assert.Len(t, cursors, 1)

	require.NoError(t, svc.ResetCursor(ctx, models.FeedMetadata))
	assert.ErrorIs(t, svc.ResetCursor(ctx, models.FeedMetadata), errcodes.NotFound("Cursor"))

	fresh, err := svc.LoadCursor(ctx, models.FeedMetadata, "books")
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.Position())
}
