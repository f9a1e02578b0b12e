package genres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shishobooks/shelfsync/pkg/errcodes"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/uptrace/bun"
)

type RetrieveGenreOptions struct {
	ID   *int
	Name *string
}

type ListGenresOptions struct {
	Limit  *int
	Offset *int
	Search *string

	includeTotal bool
}

type Service struct {
	db bun.IDB
}

// NewService accepts either a *bun.DB or a bun.Tx so the same service can run
// inside a caller's transaction.
func NewService(db bun.IDB) *Service {
	return &Service{db}
}

func (svc *Service) CreateGenre(ctx context.Context, genre *models.Genre) error {
	now := time.Now()
	if genre.CreatedAt.IsZero() {
		genre.CreatedAt = now
	}
	genre.UpdatedAt = genre.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(genre).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveGenre(ctx context.Context, opts RetrieveGenreOptions) (*models.Genre, error) {
	genre := &models.Genre{}

	q := svc.db.
		NewSelect().
		Model(genre)

	if opts.ID != nil {
		q = q.Where("g.id = ?", *opts.ID)
	}
	if opts.Name != nil {
		q = q.Where("g.name = ? COLLATE NOCASE", *opts.Name)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Genre")
		}
		return nil, errors.WithStack(err)
	}

	return genre, nil
}

// FindOrCreateGenre finds an existing genre or creates a new one (case-insensitive match).
func (svc *Service) FindOrCreateGenre(ctx context.Context, name string) (*models.Genre, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("genre name cannot be empty")
	}

	genre, err := svc.RetrieveGenre(ctx, RetrieveGenreOptions{Name: &name})
	if err == nil {
		return genre, nil
	}
	if !errors.Is(err, errcodes.NotFound("Genre")) {
		return nil, err
	}

	genre = &models.Genre{Name: name}
	err = svc.CreateGenre(ctx, genre)
	if err != nil {
		return nil, err
	}
	return genre, nil
}

func (svc *Service) ListGenres(ctx context.Context, opts ListGenresOptions) ([]*models.Genre, error) {
	g, _, err := svc.listGenresWithTotal(ctx, opts)
	return g, errors.WithStack(err)
}

func (svc *Service) ListGenresWithTotal(ctx context.Context, opts ListGenresOptions) ([]*models.Genre, int, error) {
	opts.includeTotal = true
	return svc.listGenresWithTotal(ctx, opts)
}

func (svc *Service) listGenresWithTotal(ctx context.Context, opts ListGenresOptions) ([]*models.Genre, int, error) {
	var genres []*models.Genre
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&genres).
		ColumnExpr("g.*").
		ColumnExpr("(SELECT COUNT(*) FROM book_genres bg WHERE bg.genre_id = g.id) AS book_count").
		Order("g.name ASC")

	if opts.Search != nil && *opts.Search != "" {
		q = q.Where("g.name LIKE ?", "%"+strings.TrimSpace(*opts.Search)+"%")
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return genres, total, nil
}

// SetBookGenres replaces the genres of a book with names, in order.
func (svc *Service) SetBookGenres(ctx context.Context, bookID int, names []string) error {
	_, err := svc.db.NewDelete().
		Model((*models.BookGenre)(nil)).
		Where("book_id = ?", bookID).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	seen := map[int]struct{}{}
	for _, name := range names {
		genre, err := svc.FindOrCreateGenre(ctx, name)
		if err != nil {
			return err
		}
		if _, ok := seen[genre.ID]; ok {
			continue
		}
		seen[genre.ID] = struct{}{}

		_, err = svc.db.NewInsert().
			Model(&models.BookGenre{BookID: bookID, GenreID: genre.ID, Position: len(seen) - 1}).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
