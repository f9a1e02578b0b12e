package ingest

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/shelfsync/pkg/books"
	"github.com/shishobooks/shelfsync/pkg/errcodes"
	"github.com/shishobooks/shelfsync/pkg/feed"
	"github.com/shishobooks/shelfsync/pkg/ledger"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/shishobooks/shelfsync/pkg/reconcile"
	"github.com/shishobooks/shelfsync/pkg/series"
	"github.com/shishobooks/shelfsync/pkg/storage"
	"github.com/uptrace/bun"
)

func (o *Orchestrator) processMetadataPage(ctx context.Context, p *pass, items []feed.RawItem) (int, error) {
	counted := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return counted, errors.WithStack(err)
		}
		if p.limitReached() {
			break
		}

		record, err := o.ledgered(ctx, models.FeedMetadata, item.ID)
		if err != nil {
			p.result.add(errorDetail(ctx, item.ID, err))
			continue
		}
		if record != nil {
			p.result.add(&Detail{
				SourceItemID:   item.ID,
				Status:         StatusSkipped,
				Reason:         ReasonAlreadyProcessed,
				CatalogEntryID: record.CatalogEntryID,
			})
			continue
		}

		if p.remaining > 0 {
			p.remaining--
		}
		counted++
		p.result.add(o.processMetadataItem(ctx, p, item))
	}
	return counted, nil
}

func (o *Orchestrator) processMetadataItem(ctx context.Context, p *pass, item feed.RawItem) *Detail {
	log := logger.FromContext(ctx).Data(logger.Data{"feed": models.FeedMetadata, "source_item_id": item.ID})

	meta := o.extractor.Parse(item.Text)
	d, err := o.engine.Decide(ctx, reconcile.Input{Meta: meta, HasCover: item.HasPhoto(), SourceItemID: item.ID})
	if err != nil {
		return errorDetail(ctx, item.ID, err)
	}

	if p.opts.DryRun {
		detail := &Detail{SourceItemID: item.ID, Status: string(d.Action), Reason: d.Reason}
		if d.Existing != nil {
			detail.CatalogEntryID = &d.Existing.ID
		}
		return detail
	}

	if d.WantsCover {
		ref, err := o.fetchCover(ctx, item)
		if err != nil {
			log.Warn("cover could not be fetched; continuing without it", logger.Data{"error": err.Error()})
			d.DropCover()
		} else {
			d.CoverRef = &ref
		}
	}

	detail := &Detail{SourceItemID: item.ID, Status: string(d.Action), Reason: d.Reason}
	err = o.commit(ctx, p, item.ID, func(ctx context.Context, tx bun.Tx) error {
		book, err := o.engine.Apply(ctx, books.NewService(tx), d)
		if err != nil {
			return err
		}

		if book != nil {
			detail.CatalogEntryID = &book.ID
			outcome, _, err := series.NewComposer(tx).Compose(ctx, book, d.Meta())
			if err != nil {
				return err
			}
			applySeriesOutcome(detail, outcome)
		}

		reason := detail.Reason
		return ledger.NewService(tx).Write(ctx, &models.LedgerRecord{
			Feed:           models.FeedMetadata,
			SourceItemID:   item.ID,
			CatalogEntryID: detail.CatalogEntryID,
			Status:         detail.Status,
			Reason:         &reason,
		})
	})
	if err != nil {
		if d.CoverRef != nil {
			o.discard(ctx, *d.CoverRef)
		}
		return errorDetail(ctx, item.ID, err)
	}

	log.Info("metadata item processed", logger.Data{"status": detail.Status, "reason": detail.Reason})
	return detail
}

// applySeriesOutcome folds a series change into the item outcome. A post that
// only changed the series counts as an update.
func applySeriesOutcome(detail *Detail, outcome series.Outcome) {
	var reason string
	switch outcome {
	case series.OutcomeCreated:
		reason = ReasonSeriesCreated
	case series.OutcomeReplaced:
		reason = ReasonSeriesReplaced
	default:
		return
	}

	switch detail.Status {
	case StatusSkipped:
		detail.Status = StatusUpdated
		detail.Reason = reason
	default:
		detail.Reason += "; " + reason
	}
}

func (o *Orchestrator) fetchCover(ctx context.Context, item feed.RawItem) (string, error) {
	data, err := o.download(ctx, *item.Media)
	if err != nil {
		return "", err
	}
	return o.store.StoreCover(ctx, storage.ObjectKey(item.ID, "cover"), data)
}

func errorDetail(ctx context.Context, itemID int, err error) *Detail {
	logger.FromContext(ctx).Err(err).Error("item failed", logger.Data{"source_item_id": itemID})
	return &Detail{SourceItemID: itemID, Status: StatusError, Reason: err.Error()}
}

func isNotFound(err error) bool {
	var e *errcodes.Error
	return errors.As(err, &e) && e.Code == "not_found"
}
