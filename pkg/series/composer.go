package series

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/shelfsync/pkg/books"
	"github.com/shishobooks/shelfsync/pkg/errcodes"
	"github.com/shishobooks/shelfsync/pkg/extract"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/uptrace/bun"
)

type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCreated   Outcome = "created"
	OutcomeReplaced  Outcome = "replaced"
	OutcomeUnchanged Outcome = "unchanged"
)

// Composer keeps the series composition of a catalog entry in step with the
// latest post that enumerates it.
type Composer struct {
	seriesService *Service
	bookService   *books.Service
}

func NewComposer(db bun.IDB) *Composer {
	return &Composer{
		seriesService: NewService(db),
		bookService:   books.NewService(db),
	}
}

// Compose creates a series for book from meta.Composition, or replaces the
// linked series wholesale when its works differ element-wise. Metadata without
// a composition is a no-op.
func (c *Composer) Compose(ctx context.Context, book *models.Book, meta extract.Metadata) (Outcome, *models.Series, error) {
	if len(meta.Composition) == 0 {
		return OutcomeNone, nil, nil
	}
	log := logger.FromContext(ctx)

	if book.SeriesID != nil {
		existing, err := c.seriesService.RetrieveSeries(ctx, RetrieveSeriesOptions{ID: book.SeriesID})
		if err != nil && !errors.Is(err, errcodes.NotFound("Series")) {
			return OutcomeNone, nil, err
		}
		if existing != nil {
			if SameWorks(existing.Works, meta.Composition) {
				return OutcomeUnchanged, existing, nil
			}

			describe(existing, book, meta)
			err = c.seriesService.UpdateSeries(ctx, existing, UpdateSeriesOptions{
				Columns: []string{"title", "author", "description", "rating", "genres", "tags"},
			})
			if err != nil {
				return OutcomeNone, nil, err
			}
			existing.Works = worksFrom(meta.Composition)
			if err := c.seriesService.ReplaceWorks(ctx, existing.ID, existing.Works); err != nil {
				return OutcomeNone, nil, err
			}
			log.Info("series composition replaced", logger.Data{"series_id": existing.ID, "book_id": book.ID, "works": len(existing.Works)})
			return OutcomeReplaced, existing, nil
		}
	}

	series := &models.Series{Works: worksFrom(meta.Composition)}
	describe(series, book, meta)
	if err := c.seriesService.CreateSeries(ctx, series); err != nil {
		return OutcomeNone, nil, err
	}

	book.SeriesID = &series.ID
	book.IsSeries = true
	err := c.bookService.UpdateBook(ctx, book, books.UpdateBookOptions{Columns: []string{"series_id", "is_series"}})
	if err != nil {
		return OutcomeNone, nil, err
	}
	log.Info("series created", logger.Data{"series_id": series.ID, "book_id": book.ID, "works": len(series.Works)})
	return OutcomeCreated, series, nil
}

// SameWorks compares stored works with a parsed composition by length and by
// title and year at each position.
func SameWorks(stored []*models.SeriesWork, composition []extract.Work) bool {
	if len(stored) != len(composition) {
		return false
	}
	for i, w := range stored {
		if w.Title != composition[i].Title || w.Year != composition[i].Year {
			return false
		}
	}
	return true
}

// describe copies the descriptive fields onto s. Values from meta win and the
// book fills whatever meta leaves empty.
func describe(s *models.Series, book *models.Book, meta extract.Metadata) {
	s.Title = book.Title
	s.Author = book.Author

	s.Description = book.Description
	if meta.Description != "" {
		s.Description = &meta.Description
	}
	s.Rating = book.Rating
	if meta.Rating > 0 {
		s.Rating = &meta.Rating
	}
	s.Genres = book.Genres
	if len(meta.Genres) > 0 {
		s.Genres = meta.Genres
	}
	s.Tags = book.Tags
	if len(meta.Tags) > 0 {
		s.Tags = meta.Tags
	}
}

func worksFrom(composition []extract.Work) []*models.SeriesWork {
	works := make([]*models.SeriesWork, len(composition))
	for i, w := range composition {
		works[i] = &models.SeriesWork{Title: w.Title, Year: w.Year}
	}
	return works
}
