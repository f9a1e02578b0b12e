package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shishobooks/shelfsync/pkg/errcodes"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/uptrace/bun"
)

type ListRecordsOptions struct {
	Limit  *int
	Offset *int
	Feed   *string
	Status *string
	FromID *int
	ToID   *int

	includeTotal bool
}

type Service struct {
	db bun.IDB
}

// NewService accepts either a *bun.DB or a bun.Tx so ledger writes can share
// the transaction of the catalog mutation they record.
func NewService(db bun.IDB) *Service {
	return &Service{db}
}

// Lookup returns the record for a source item of feed.
func (svc *Service) Lookup(ctx context.Context, feed string, sourceItemID int) (*models.LedgerRecord, error) {
	record := &models.LedgerRecord{}

	err := svc.db.
		NewSelect().
		Model(record).
		Where("lr.feed = ?", feed).
		Where("lr.source_item_id = ?", sourceItemID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Ledger record")
		}
		return nil, errors.WithStack(err)
	}

	return record, nil
}

// Write records record, replacing the outcome of an earlier record for the
// same (feed, source item).
func (svc *Service) Write(ctx context.Context, record *models.LedgerRecord) error {
	if record.Feed != models.FeedMetadata && record.Feed != models.FeedFiles {
		return errors.Errorf("unknown feed %q", record.Feed)
	}
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now()
	}
	// The row is addressed by its natural key.
	record.ID = 0

	_, err := svc.db.
		NewInsert().
		Model(record).
		On("CONFLICT (feed, source_item_id) DO UPDATE").
		Set("catalog_entry_id = EXCLUDED.catalog_entry_id").
		Set("attached_file_source_id = COALESCE(EXCLUDED.attached_file_source_id, attached_file_source_id)").
		Set("status = EXCLUDED.status").
		Set("reason = EXCLUDED.reason").
		Set("processed_at = EXCLUDED.processed_at").
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

// LinkFile back-links a stored file onto the metadata record of the catalog
// entry it was attached to.
func (svc *Service) LinkFile(ctx context.Context, catalogEntryID, fileSourceID int) error {
	_, err := svc.db.
		NewUpdate().
		Model((*models.LedgerRecord)(nil)).
		Set("attached_file_source_id = ?", fileSourceID).
		Where("feed = ?", models.FeedMetadata).
		Where("catalog_entry_id = ?", catalogEntryID).
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) ListRecords(ctx context.Context, opts ListRecordsOptions) ([]*models.LedgerRecord, error) {
	r, _, err := svc.listRecordsWithTotal(ctx, opts)
	return r, errors.WithStack(err)
}

func (svc *Service) ListRecordsWithTotal(ctx context.Context, opts ListRecordsOptions) ([]*models.LedgerRecord, int, error) {
	opts.includeTotal = true
	return svc.listRecordsWithTotal(ctx, opts)
}

func (svc *Service) listRecordsWithTotal(ctx context.Context, opts ListRecordsOptions) ([]*models.LedgerRecord, int, error) {
	records := []*models.LedgerRecord{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&records).
		Order("lr.source_item_id DESC", "lr.feed ASC")

	if opts.Feed != nil {
		q = q.Where("lr.feed = ?", *opts.Feed)
	}
	if opts.Status != nil {
		q = q.Where("lr.status = ?", *opts.Status)
	}
	if opts.FromID != nil {
		q = q.Where("lr.source_item_id >= ?", *opts.FromID)
	}
	if opts.ToID != nil {
		q = q.Where("lr.source_item_id <= ?", *opts.ToID)
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

	return records, total, nil
}
