package tags

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

type RetrieveTagOptions struct {
	ID   *int
	Name *string
}

type ListTagsOptions struct {
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

func (svc *Service) CreateTag(ctx context.Context, tag *models.Tag) error {
	now := time.Now()
	if tag.CreatedAt.IsZero() {
		tag.CreatedAt = now
	}
	tag.UpdatedAt = tag.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(tag).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveTag(ctx context.Context, opts RetrieveTagOptions) (*models.Tag, error) {
	tag := &models.Tag{}

	q := svc.db.
		NewSelect().
		Model(tag)

	if opts.ID != nil {
		q = q.Where("t.id = ?", *opts.ID)
	}
	if opts.Name != nil {
		q = q.Where("t.name = ? COLLATE NOCASE", *opts.Name)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Tag")
		}
		return nil, errors.WithStack(err)
	}

	return tag, nil
}

// FindOrCreateTag finds an existing tag or creates a new one (case-insensitive match).
func (svc *Service) FindOrCreateTag(ctx context.Context, name string) (*models.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("tag name cannot be empty")
	}

	tag, err := svc.RetrieveTag(ctx, RetrieveTagOptions{Name: &name})
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, errcodes.NotFound("Tag")) {
		return nil, err
	}

	tag = &models.Tag{Name: name}
	err = svc.CreateTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	return tag, nil
}

func (svc *Service) ListTags(ctx context.Context, opts ListTagsOptions) ([]*models.Tag, error) {
	g, _, err := svc.listTagsWithTotal(ctx, opts)
	return g, errors.WithStack(err)
}

func (svc *Service) ListTagsWithTotal(ctx context.Context, opts ListTagsOptions) ([]*models.Tag, int, error) {
	opts.includeTotal = true
	return svc.listTagsWithTotal(ctx, opts)
}

func (svc *Service) listTagsWithTotal(ctx context.Context, opts ListTagsOptions) ([]*models.Tag, int, error) {
	var tags []*models.Tag
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&tags).
		ColumnExpr("t.*").
		ColumnExpr("(SELECT COUNT(*) FROM book_tags bt WHERE bt.tag_id = t.id) AS book_count").
		Order("t.name ASC")

	if opts.Search != nil && *opts.Search != "" {
		q = q.Where("t.name LIKE ?", "%"+strings.TrimSpace(*opts.Search)+"%")
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

	return tags, total, nil
}

// SetBookTags replaces the tags of a book with names, in order.
func (svc *Service) SetBookTags(ctx context.Context, bookID int, names []string) error {
	_, err := svc.db.NewDelete().
		Model((*models.BookTag)(nil)).
		Where("book_id = ?", bookID).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	seen := map[int]struct{}{}
	for _, name := range names {
		tag, err := svc.FindOrCreateTag(ctx, name)
		if err != nil {
			return err
		}
		if _, ok := seen[tag.ID]; ok {
			continue
		}
		seen[tag.ID] = struct{}{}

		_, err = svc.db.NewInsert().
			Model(&models.BookTag{BookID: bookID, TagID: tag.ID, Position: len(seen) - 1}).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
