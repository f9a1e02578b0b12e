package books

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shishobooks/shelfsync/pkg/errcodes"
	"github.com/shishobooks/shelfsync/pkg/genres"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/shishobooks/shelfsync/pkg/normalize"
	"github.com/shishobooks/shelfsync/pkg/sortname"
	"github.com/shishobooks/shelfsync/pkg/tags"
	"github.com/uptrace/bun"
)

const searchByTokenLimit = 100

const (
	SortCreated = "created"
	SortTitle   = "title"
	SortAuthor  = "author"
)

type RetrieveBookOptions struct {
	ID *int
}

type ListBooksOptions struct {
	Limit    *int
	Offset   *int
	SeriesID *int
	HasFile  *bool
	Search   *string
	Sort     string

	includeTotal bool
}

type UpdateBookOptions struct {
	Columns      []string
	UpdateGenres bool
	UpdateTags   bool
}

type Service struct {
	db bun.IDB
}

// NewService accepts either a *bun.DB or a bun.Tx so the same service can run
// inside a caller's transaction.
func NewService(db bun.IDB) *Service {
	return &Service{db}
}

// CreateBook inserts book along with its genres and tags. The normalized key
// and sort keys are always derived from Author and Title.
func (svc *Service) CreateBook(ctx context.Context, book *models.Book) error {
	now := time.Now()
	if book.CreatedAt.IsZero() {
		book.CreatedAt = now
	}
	book.UpdatedAt = book.CreatedAt
	book.NormalizedAuthor = normalize.Key(book.Author)
	book.NormalizedTitle = normalize.Key(book.Title)
	book.SortAuthor = sortname.Author(book.Author)
	book.SortTitle = sortname.Title(book.Title)

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.
			NewInsert().
			Model(book).
			Returning("*").
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		if len(book.Genres) > 0 {
			if err := genres.NewService(tx).SetBookGenres(ctx, book.ID, book.Genres); err != nil {
				return err
			}
		}
		if len(book.Tags) > 0 {
			if err := tags.NewService(tx).SetBookTags(ctx, book.ID, book.Tags); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.WithStack(err)
}

func (svc *Service) RetrieveBook(ctx context.Context, opts RetrieveBookOptions) (*models.Book, error) {
	book := &models.Book{}

	q := withRelations(svc.db.NewSelect().Model(book))

	if opts.ID != nil {
		q = q.Where("b.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Book")
		}
		return nil, errors.WithStack(err)
	}

	book.LoadNames()
	return book, nil
}

func (svc *Service) ListBooks(ctx context.Context, opts ListBooksOptions) ([]*models.Book, error) {
	b, _, err := svc.listBooksWithTotal(ctx, opts)
	return b, errors.WithStack(err)
}

func (svc *Service) ListBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	opts.includeTotal = true
	return svc.listBooksWithTotal(ctx, opts)
}

func (svc *Service) listBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	books := []*models.Book{}
	var total int
	var err error

	q := withRelations(svc.db.NewSelect().Model(&books))
	switch opts.Sort {
	case SortTitle:
		q = q.Order("b.sort_title ASC", "b.sort_author ASC", "b.id ASC")
	case SortAuthor:
		q = q.Order("b.sort_author ASC", "b.sort_title ASC", "b.id ASC")
	default:
		q = q.Order("b.created_at ASC", "b.id ASC")
	}

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.SeriesID != nil {
		q = q.Where("b.series_id = ?", *opts.SeriesID)
	}
	if opts.HasFile != nil {
		if *opts.HasFile {
			q = q.Where("b.file_ref IS NOT NULL AND b.file_ref != ''")
		} else {
			q = q.Where("(b.file_ref IS NULL OR b.file_ref = '')")
		}
	}
	if opts.Search != nil && *opts.Search != "" {
		pattern := likePattern(normalize.Key(*opts.Search))
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where(`b.normalized_title LIKE ? ESCAPE '\'`, pattern).
				WhereOr(`b.normalized_author LIKE ? ESCAPE '\'`, pattern)
		})
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	for _, b := range books {
		b.LoadNames()
	}
	return books, total, nil
}

// UpdateBook writes the given columns and, when asked, replaces the book's
// genres or tags with book.Genres and book.Tags.
func (svc *Service) UpdateBook(ctx context.Context, book *models.Book, opts UpdateBookOptions) error {
	if len(opts.Columns) == 0 && !opts.UpdateGenres && !opts.UpdateTags {
		return nil
	}

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if opts.UpdateGenres {
			if err := genres.NewService(tx).SetBookGenres(ctx, book.ID, book.Genres); err != nil {
				return err
			}
		}
		if opts.UpdateTags {
			if err := tags.NewService(tx).SetBookTags(ctx, book.ID, book.Tags); err != nil {
				return err
			}
		}

		book.UpdatedAt = time.Now()
		columns := append(opts.Columns, "updated_at")

		res, err := tx.
			NewUpdate().
			Model(book).
			Column(columns...).
			WherePK().
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errcodes.NotFound("Book")
		}
		return nil
	})
	return errors.WithStack(err)
}

// FindByKey returns every book sharing the normalized (author, title) key,
// newest first.
func (svc *Service) FindByKey(ctx context.Context, normalizedAuthor, normalizedTitle string) ([]*models.Book, error) {
	books := []*models.Book{}

	err := withRelations(svc.db.NewSelect().Model(&books)).
		Where("b.normalized_author = ?", normalizedAuthor).
		Where("b.normalized_title = ?", normalizedTitle).
		Order("b.created_at DESC", "b.id DESC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	for _, b := range books {
		b.LoadNames()
	}
	return books, nil
}

// SearchByToken returns books whose normalized author or title contains
// token.
func (svc *Service) SearchByToken(ctx context.Context, token string) ([]*models.Book, error) {
	books := []*models.Book{}
	pattern := likePattern(token)

	err := svc.db.NewSelect().
		Model(&books).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where(`b.normalized_title LIKE ? ESCAPE '\'`, pattern).
				WhereOr(`b.normalized_author LIKE ? ESCAPE '\'`, pattern)
		}).
		Order("b.id ASC").
		Limit(searchByTokenLimit).
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return books, nil
}

func withRelations(q *bun.SelectQuery) *bun.SelectQuery {
	return q.
		Relation("Series").
		Relation("BookGenres", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Order("bg.position ASC")
		}).
		Relation("BookGenres.Genre").
		Relation("BookTags", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Order("bt.position ASC")
		}).
		Relation("BookTags.Tag")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
