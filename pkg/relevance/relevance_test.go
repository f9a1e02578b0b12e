package relevance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	books []*models.Book
	err   error
	calls []string
}

func (f *fakeSearcher) SearchByToken(_ context.Context, token string) ([]*models.Book, error) {
	f.calls = append(f.calls, token)
	if f.err != nil {
		return nil, f.err
	}
	var found []*models.Book
	for _, b := range f.books {
		if strings.Contains(strings.ToLower(b.Author+" "+b.Title), token) {
			found = append(found, b)
		}
	}
	return found, nil
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"jane", "doe", "the", "long", "voyage"}, Tokenize("Jane Doe - The_Long  Voyage"))
	assert.Equal(t, []string{"иван", "дорога"}, Tokenize("Иван. Дорога, Иван!"))
	assert.Equal(t, []string{"vol", "12"}, Tokenize("a vol 12 b"))
	assert.Empty(t, Tokenize("- . _"))
}

func TestScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, Score([]string{"doe", "voyag", "zzz"}, []string{"jane", "doe", "voyage"}))
	assert.Equal(t, 1, Score([]string{"voyages"}, []string{"voyage"}))
	assert.Equal(t, 0, Score([]string{"alpha"}, []string{"beta"}))
}

func TestMatch_ThresholdAndOrdering(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{books: []*models.Book{
		{ID: 1, Author: "Jane Doe", Title: "The Long Voyage"},
		{ID: 2, Author: "John Roe", Title: "Voyage Home"},
		{ID: 3, Author: "Jane Doe", Title: "Short Stories"},
		{ID: 4, Author: "Someone Else", Title: "Unrelated"},
	}}
	m := NewMatcher(searcher)

	candidates, err := m.Match(context.Background(), "Jane Doe - The Long Voyage.fb2")
	require.NoError(t, err)

	require.Len(t, candidates, 2)
	assert.Equal(t, 1, candidates[0].Book.ID)
	assert.Equal(t, 5, candidates[0].Score)
	assert.Equal(t, 3, candidates[1].Book.ID)
	assert.Equal(t, 2, candidates[1].Score)
	assert.NotContains(t, searcher.calls, "fb2")
}

func TestMatch_SingleTokenOverlapIsDropped(t *testing.T) {
	t.Parallel()

	m := NewMatcher(&fakeSearcher{books: []*models.Book{
		{ID: 1, Author: "Jane Doe", Title: "Voyage"},
	}})

	candidates, err := m.Match(context.Background(), "voyage.epub")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestMatch_CapsCandidates(t *testing.T) {
	t.Parallel()

	var books []*models.Book
	for i := 1; i <= 8; i++ {
		books = append(books, &models.Book{ID: i, Author: "Jane Doe", Title: "Voyage"})
	}
	m := NewMatcher(&fakeSearcher{books: books})

	candidates, err := m.Match(context.Background(), "doe voyage.zip")
	require.NoError(t, err)
	require.Len(t, candidates, MaxCandidates)
	for i, c := range candidates {
		assert.Equal(t, i+1, c.Book.ID)
	}
}

func TestMatch_SearchError(t *testing.T) {
	t.Parallel()

	m := NewMatcher(&fakeSearcher{err: errors.New("boom")})

	_, err := m.Match(context.Background(), "doe voyage.zip")
	assert.ErrorContains(t, err, "boom")
}
