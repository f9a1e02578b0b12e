package genres

import (
	"context"
	"testing"

	"github.com/shishobooks/shelfsync/pkg/errcodes"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/shishobooks/shelfsync/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOrCreateGenre_CaseInsensitive(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()
	svc := NewService(db)

	first, err := svc.FindOrCreateGenre(ctx, "  Fantasy ")
	require.NoError(t, err)
	assert.Equal(t, "Fantasy", first.Name)

	second, err := svc.FindOrCreateGenre(ctx, "FANTASY")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = svc.FindOrCreateGenre(ctx, " ")
	assert.Error(t, err)
}

func TestRetrieveGenre_NotFound(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	svc := NewService(db)

	id := 42
	_, err := svc.RetrieveGenre(context.Background(), RetrieveGenreOptions{ID: &id})
	assert.ErrorIs(t, err, errcodes.NotFound("Genre"))
}

func TestSetBookGenres(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()
	svc := NewService(db)

	book := &models.Book{Author: "A", Title: "T", NormalizedAuthor: "a", NormalizedTitle: "t"}
	_, err := db.NewInsert().Model(book).Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.SetBookGenres(ctx, book.ID, []string{"sf", "horror", "SF"}))
	require.NoError(t, svc.SetBookGenres(ctx, book.ID, []string{"horror", "sf"}))

	var links []*models.BookGenre
	err = db.NewSelect().Model(&links).Relation("Genre").Where("bg.book_id = ?", book.ID).Order("bg.position ASC").Scan(ctx)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "horror", links[0].Genre.Name)
	assert.Equal(t, "sf", links[1].Genre.Name)

	genres, total, err := svc.ListGenresWithTotal(ctx, ListGenresOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, g := range genres {
		assert.Equal(t, 1, g.BookCount)
	}
}
