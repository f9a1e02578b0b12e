package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Series struct {
	bun.BaseModel `bun:"table:series,alias:s"`

	ID          int           `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Title       string        `bun:",nullzero" json:"title"`
	Author      string        `bun:",nullzero" json:"author"`
	Description *string       `json:"description,omitempty"`
	Rating      *float64      `json:"rating,omitempty"`
	Genres      []string      `json:"genres"`
	Tags        []string      `json:"tags"`
	Works       []*SeriesWork `bun:"rel:has-many,join:id=series_id" json:"works"`
	Books       []*Book       `bun:"rel:has-many,join:id=series_id" json:"books,omitempty"`
}

// SeriesWork is one constituent work of a series, in composition order.
type SeriesWork struct {
	bun.BaseModel `bun:"table:series_works,alias:sw"`

	ID       int    `bun:",pk,nullzero" json:"id"`
	SeriesID int    `bun:",nullzero" json:"series_id"`
	Position int    `json:"position"`
	Title    string `bun:",nullzero" json:"title"`
	Year     int    `json:"year"`
}
