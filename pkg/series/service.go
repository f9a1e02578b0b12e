package series

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

type RetrieveSeriesOptions struct {
	ID *int
}

type ListSeriesOptions struct {
	Limit  *int
	Offset *int
	Search *string

	includeTotal bool
}

type UpdateSeriesOptions struct {
	Columns []string
}

type Service struct {
	db bun.IDB
}

// NewService accepts either a *bun.DB or a bun.Tx so the same service can run
// inside a caller's transaction.
func NewService(db bun.IDB) *Service {
	return &Service{db}
}

// CreateSeries inserts series and its works, numbering the works by their
// order in series.Works.
func (svc *Service) CreateSeries(ctx context.Context, series *models.Series) error {
	now := time.Now()
	if series.CreatedAt.IsZero() {
		series.CreatedAt = now
	}
	series.UpdatedAt = series.CreatedAt

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.
			NewInsert().
			Model(series).
			Returning("*").
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		return insertWorks(ctx, tx, series.ID, series.Works)
	})
	return errors.WithStack(err)
}

func (svc *Service) RetrieveSeries(ctx context.Context, opts RetrieveSeriesOptions) (*models.Series, error) {
	series := &models.Series{}

	q := svc.db.
		NewSelect().
		Model(series).
		Relation("Works", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Order("sw.position ASC")
		}).
		Relation("Books", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Order("b.id ASC")
		})

	if opts.ID != nil {
		q = q.Where("s.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Series")
		}
		return nil, errors.WithStack(err)
	}

	return series, nil
}

func (svc *Service) ListSeries(ctx context.Context, opts ListSeriesOptions) ([]*models.Series, error) {
	s, _, err := svc.listSeriesWithTotal(ctx, opts)
	return s, errors.WithStack(err)
}

func (svc *Service) ListSeriesWithTotal(ctx context.Context, opts ListSeriesOptions) ([]*models.Series, int, error) {
	opts.includeTotal = true
	return svc.listSeriesWithTotal(ctx, opts)
}

func (svc *Service) listSeriesWithTotal(ctx context.Context, opts ListSeriesOptions) ([]*models.Series, int, error) {
	var series []*models.Series
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&series).
		Relation("Works", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Order("sw.position ASC")
		}).
		Order("s.title ASC", "s.id ASC")

	if opts.Search != nil && *opts.Search != "" {
		q = q.Where("s.title LIKE ?", "%"+strings.TrimSpace(*opts.Search)+"%")
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

	return series, total, nil
}

func (svc *Service) UpdateSeries(ctx context.Context, series *models.Series, opts UpdateSeriesOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	now := time.Now()
	series.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	res, err := svc.db.
		NewUpdate().
		Model(series).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errcodes.NotFound("Series")
	}
	return nil
}

// ReplaceWorks swaps the whole composition of a series for works.
func (svc *Service) ReplaceWorks(ctx context.Context, seriesID int, works []*models.SeriesWork) error {
	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*models.SeriesWork)(nil)).
			Where("series_id = ?", seriesID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		return insertWorks(ctx, tx, seriesID, works)
	})
}

func insertWorks(ctx context.Context, tx bun.Tx, seriesID int, works []*models.SeriesWork) error {
	if len(works) == 0 {
		return nil
	}
	for i, w := range works {
		w.ID = 0
		w.SeriesID = seriesID
		w.Position = i + 1
	}
	_, err := tx.
		NewInsert().
		Model(&works).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}
