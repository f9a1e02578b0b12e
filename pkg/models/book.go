package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Book is a catalog entry. NormalizedAuthor and NormalizedTitle together form
// its matching key.
type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID               int          `bun:",pk,nullzero" json:"id"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	Author           string       `bun:",nullzero" json:"author"`
	Title            string       `bun:",nullzero" json:"title"`
	NormalizedAuthor string       `bun:",nullzero" json:"-"`
	NormalizedTitle  string       `bun:",nullzero" json:"-"`
	SortAuthor       string       `json:"sort_author"`
	SortTitle        string       `json:"sort_title"`
	Description      *string      `json:"description,omitempty"`
	Rating           *float64     `json:"rating,omitempty"`
	IsSeries         bool         `json:"is_series"`
	CoverRef         *string      `json:"cover_ref,omitempty"`
	FileRef          *string      `json:"file_ref,omitempty"`
	FileMimeType     *string      `json:"file_mime_type,omitempty"`
	SeriesID         *int         `json:"series_id,omitempty"`
	Series           *Series      `bun:"rel:belongs-to,join:series_id=id" json:"series,omitempty"`
	SourceItemID     *int         `json:"source_item_id,omitempty"`
	BookGenres       []*BookGenre `bun:"rel:has-many,join:id=book_id" json:"-"`
	BookTags         []*BookTag   `bun:"rel:has-many,join:id=book_id" json:"-"`
	Genres           []string     `bun:"-" json:"genres"`
	Tags             []string     `bun:"-" json:"tags"`
}

// HasDescription reports whether the book carries a non-blank description.
func (b *Book) HasDescription() bool {
	return b.Description != nil && *b.Description != ""
}

func (b *Book) HasRating() bool {
	return b.Rating != nil && *b.Rating > 0
}

func (b *Book) HasCover() bool {
	return b.CoverRef != nil && *b.CoverRef != ""
}

func (b *Book) HasFile() bool {
	return b.FileRef != nil && *b.FileRef != ""
}

// LoadNames copies the names of the loaded genre and tag relations into
// Genres and Tags.
func (b *Book) LoadNames() {
	b.Genres = make([]string, 0, len(b.BookGenres))
	for _, bg := range b.BookGenres {
		if bg.Genre != nil {
			b.Genres = append(b.Genres, bg.Genre.Name)
		}
	}
	b.Tags = make([]string, 0, len(b.BookTags))
	for _, bt := range b.BookTags {
		if bt.Tag != nil {
			b.Tags = append(b.Tags, bt.Tag.Name)
		}
	}
}
