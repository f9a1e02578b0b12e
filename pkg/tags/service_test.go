package tags

import (
	"context"
	"testing"

	"github.com/shishobooks/shelfsync/pkg/errcodes"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/shishobooks/shelfsync/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOrCreateTag_CaseInsensitive(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()
	svc := NewService(db)

	first, err := svc.FindOrCreateTag(ctx, "  Epic ")
	require.NoError(t, err)
	assert.Equal(t, "Epic", first.Name)

	second, err := svc.FindOrCreateTag(ctx, "EPIC")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = svc.FindOrCreateTag(ctx, " ")
	assert.Error(t, err)
}

func TestRetrieveTag_NotFound(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	svc := NewService(db)

	id := 42
	_, err := svc.RetrieveTag(context.Background(), RetrieveTagOptions{ID: &id})
	assert.ErrorIs(t, err, errcodes.NotFound("Tag"))
}

func TestSetBookTags(t *testing.T) {
	t.Parallel()
	db := testutils.NewDB(t)
	ctx := context.Background()
	svc := NewService(db)

	book := &models.Book{Author: "A", Title: "T", NormalizedAuthor: "a", NormalizedTitle: "t"}
	_, err := db.NewInsert().Model(book).Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.SetBookTags(ctx, book.ID, []string{"space", "horror", "SPACE"}))
	require.NoError(t, svc.SetBookTags(ctx, book.ID, []string{"horror", "space"}))

	var links []*models.BookTag
	err = db.NewSelect().Model(&links).Relation("Tag").Where("bt.book_id = ?", book.ID).Order("bt.position ASC").Scan(ctx)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "horror", links[0].Tag.Name)
	assert.Equal(t, "space", links[1].Tag.Name)

	tags, total, err := svc.ListTagsWithTotal(ctx, ListTagsOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, tag := range tags {
		assert.Equal(t, 1, tag.BookCount)
	}
}
