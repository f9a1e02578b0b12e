package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const fullPost = `📖 Author: Jane Doe
Title: The Long Voyage (cycle)
Genre: #sf #adventure #completed
Rating: 8,7 / 10
A crew sets out
across the dark.

Composition:
1. Alpha (2001)
2. Beta (2002)
#voyage #SF #выше8`

func TestParse(t *testing.T) {
	t.Parallel()

	md := Parse(fullPost)

	assert.Equal(t, "Jane Doe", md.Author)
	assert.Equal(t, "The Long Voyage (cycle)", md.Title)
	assert.True(t, md.SeriesFlag)
	assert.Equal(t, []string{"sf", "adventure"}, md.Genres)
	assert.Equal(t, []string{"sf", "adventure", "voyage"}, md.Tags)
	assert.InDelta(t, 8.7, md.Rating, 0.0001)
	assert.Equal(t, "A crew sets out\nacross the dark.", md.Description)
	assert.Equal(t, []Work{{Title: "Alpha", Year: 2001}, {Title: "Beta", Year: 2002}}, md.Composition)
}

func TestParse_Russian(t *testing.T) {
	t.Parallel()

	md := Parse("Автор: Иван Петров\nНазвание: Дорога (Цикл)\nЖанры: #фэнтези #рейтинг_9plus\nРейтинг: 9.1\nОписание книги.\nСостав:\n1. Первая (1999)\n#завершён")

	assert.Equal(t, "Иван Петров", md.Author)
	assert.Equal(t, "Дорога (Цикл)", md.Title)
	assert.True(t, md.SeriesFlag)
	assert.Equal(t, []string{"фэнтези"}, md.Genres)
	assert.Equal(t, []string{"фэнтези"}, md.Tags)
	assert.InDelta(t, 9.1, md.Rating, 0.0001)
	assert.Equal(t, "Описание книги.", md.Description)
	assert.Equal(t, []Work{{Title: "Первая", Year: 1999}}, md.Composition)
}

func TestParse_Composition(t *testing.T) {
	t.Parallel()

	md := Parse("Composition:\n1. Alpha (2001)\n2. Beta (2002)")

	assert.Equal(t, []Work{{Title: "Alpha", Year: 2001}, {Title: "Beta", Year: 2002}}, md.Composition)
	assert.Empty(t, md.Description, "no rating line means no description")
}

func TestParse_CompositionSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	md := Parse("Composition:\n1. Alpha (2001)\nnot a work\n2. Beta (20)\n3. Gamma (2003).")

	assert.Equal(t, []Work{{Title: "Alpha", Year: 2001}, {Title: "Gamma", Year: 2003}}, md.Composition)
}

func TestParse_LabelsAreCaseInsensitive(t *testing.T) {
	t.Parallel()

	md := Parse("AUTHOR: A\ntitle: T\nRATING: 7")

	assert.Equal(t, "A", md.Author)
	assert.Equal(t, "T", md.Title)
	assert.InDelta(t, 7.0, md.Rating, 0.0001)
}

func TestParse_LabelInsideWordDoesNotMatch(t *testing.T) {
	t.Parallel()

	md := Parse("Subtitle: nope\nTitle: yes")

	assert.Equal(t, "yes", md.Title)
}

func TestParse_DescriptionRunsToEndWithoutComposition(t *testing.T) {
	t.Parallel()

	md := Parse("Rating: 5\n\n  Just a description.  \n")

	assert.Equal(t, "Just a description.", md.Description)
}

func TestParse_TagsDeduplicateCaseInsensitively(t *testing.T) {
	t.Parallel()

	md := Parse("#Fantasy #fantasy #FANTASY #magic #finished #rating8plus #above_9")

	assert.Equal(t, []string{"Fantasy", "magic"}, md.Tags)
	assert.Empty(t, md.Genres)
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", "   ", "Author:", "Rating: none", "#", "Composition:"} {
		md := Parse(text)
		assert.Empty(t, md.Author, text)
		assert.Empty(t, md.Title, text)
		assert.Zero(t, md.Rating, text)
		assert.Empty(t, md.Composition, text)
	}
}

func TestParse_SeriesFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		title string
		want  bool
	}{
		{"Book One", false},
		{"The SERIES collection", true},
		{"Серия книг", true},
		{"Lifecycle", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Parse("Title: "+tt.title).SeriesFlag, tt.title)
	}
}

func TestNew_ExtraStoplist(t *testing.T) {
	t.Parallel()

	e := New("#Draft", " wip ")
	md := e.Parse("Genre: #draft #horror\n#WIP #gothic")

	assert.Equal(t, []string{"horror"}, md.Genres)
	assert.Equal(t, []string{"horror", "gothic"}, md.Tags)
}
