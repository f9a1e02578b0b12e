package books

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shishobooks/shelfsync/pkg/errcodes"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/shishobooks/shelfsync/pkg/normalize"
	"github.com/shishobooks/shelfsync/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func strPtr(s string) *string {
	return &s
}

func TestCreateBook_WithGenresAndTags(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()
	svc := NewService(db)

	book := &models.Book{
		Author:      "Jane  Doe",
		Title:       "The Long Voyage",
		Description: strPtr("A voyage."),
		Genres:      []string{"sf", "adventure"},
		Tags:        []string{"sf", "voyage"},
	}
	require.NoError(t, svc.CreateBook(ctx, book))
	assert.NotZero(t, book.ID)
	assert.Equal(t, "jane doe", book.NormalizedAuthor)
	assert.Equal(t, "the long voyage", book.NormalizedTitle)
	assert.Equal(t, "doe, jane", book.SortAuthor)
	assert.Equal(t, "long voyage, the", book.SortTitle)

	retrieved, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &book.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"sf", "adventure"}, retrieved.Genres)
	assert.Equal(t, []string{"sf", "voyage"}, retrieved.Tags)
	assert.True(t, retrieved.HasDescription())
	assert.False(t, retrieved.HasFile())
}

func TestRetrieveBook_NotFound(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)

	id := 999
	_, err := NewService(db).RetrieveBook(context.Background(), RetrieveBookOptions{ID: &id})
	assert.ErrorIs(t, err, errcodes.NotFound("Book"))
}

func TestFindByKey_NewestFirst(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()
	svc := NewService(db)

	older := &models.Book{Author: "Jane Doe", Title: "Voyage", CreatedAt: time.Now().Add(-time.Hour)}
	newer := &models.Book{Author: "JANE DOE", Title: " voyage ", CreatedAt: time.Now()}
	other := &models.Book{Author: "Jane Doe", Title: "Another"}
	for _, b := range []*models.Book{older, newer, other} {
		require.NoError(t, svc.CreateBook(ctx, b))
	}

	found, err := svc.FindByKey(ctx, normalize.Key("jane doe"), normalize.Key("VOYAGE"))
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, newer.ID, found[0].ID)
	assert.Equal(t, older.ID, found[1].ID)

	found, err = svc.FindByKey(ctx, "nobody", "nothing")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSearchByToken(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()
	svc := NewService(db)

	require.NoError(t, svc.CreateBook(ctx, &models.Book{Author: "Jane Doe", Title: "Voyage"}))
	require.NoError(t, svc.CreateBook(ctx, &models.Book{Author: "John Roe", Title: "100% Voyager"}))
	require.NoError(t, svc.CreateBook(ctx, &models.Book{Author: "Ann Poe", Title: "Home"}))

	found, err := svc.SearchByToken(ctx, "voyage")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = svc.SearchByToken(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "John Roe", found[0].Author)

	found, err = svc.SearchByToken(ctx, "oe")
	require.NoError(t, err)
	assert.Len(t, found, 3)
}

func TestUpdateBook_ReplacesGenresAndColumns(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()
	svc := NewService(db)

	book := &models.Book{Author: "A", Title: "T", Genres: []string{"old"}}
	require.NoError(t, svc.CreateBook(ctx, book))

	rating := 8.5
	book.Rating = &rating
	book.Genres = []string{"new", "newer"}
	err := svc.UpdateBook(ctx, book, UpdateBookOptions{Columns: []string{"rating"}, UpdateGenres: true})
	require.NoError(t, err)

	retrieved, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &book.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "newer"}, retrieved.Genres)
	require.NotNil(t, retrieved.Rating)
	assert.InDelta(t, 8.5, *retrieved.Rating, 0.0001)

	missing := &models.Book{ID: 12345}
	err = svc.UpdateBook(ctx, missing, UpdateBookOptions{Columns: []string{"rating"}})
	assert.ErrorIs(t, err, errcodes.NotFound("Book"))
}

func TestListBooks_HasFileAndSearch(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()
	svc := NewService(db)

	require.NoError(t, svc.CreateBook(ctx, &models.Book{Author: "Jane Doe", Title: "With File", FileRef: strPtr("/objects/files/1.fb2")}))
	require.NoError(t, svc.CreateBook(ctx, &models.Book{Author: "Jane Doe", Title: "Without File"}))

	hasFile := true
	books, total, err := svc.ListBooksWithTotal(ctx, ListBooksOptions{HasFile: &hasFile})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "With File", books[0].Title)

	noFile := false
	books, err = svc.ListBooks(ctx, ListBooksOptions{HasFile: &noFile, Search: strPtr("WITHOUT")})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Without File", books[0].Title)
}

func TestCreateBook_InsideTransaction(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()

	err := db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return NewService(tx).CreateBook(ctx, &models.Book{Author: "A", Title: "T", Tags: []string{"x1"}})
	})
	require.NoError(t, err)

	books, err := NewService(db).ListBooks(ctx, ListBooksOptions{})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, []string{"x1"}, books[0].Tags)
}

func TestListBooks_Sort(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()
	svc := NewService(db)

	require.NoError(t, svc.CreateBook(ctx, &models.Book{Author: "Zed Adams", Title: "The Zoo"}))
	require.NoError(t, svc.CreateBook(ctx, &models.Book{Author: "Amy Young", Title: "Middle"}))
	require.NoError(t, svc.CreateBook(ctx, &models.Book{Author: "Bob Brown", Title: "A Beginning"}))

	titles := func(books []*models.Book) []string {
		out := make([]string, 0, len(books))
		for _, b := range books {
			out = append(out, b.Title)
		}
		return out
	}

	byCreation, err := svc.ListBooks(ctx, ListBooksOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"The Zoo", "Middle", "A Beginning"}, titles(byCreation))

	byTitle, err := svc.ListBooks(ctx, ListBooksOptions{Sort: SortTitle})
	require.NoError(t, err)
	assert.Equal(t, []string{"A Beginning", "Middle", "The Zoo"}, titles(byTitle))

	byAuthor, err := svc.ListBooks(ctx, ListBooksOptions{Sort: SortAuthor})
	require.NoError(t, err)
	assert.Equal(t, []string{"The Zoo", "A Beginning", "Middle"}, titles(byAuthor))
}
