package ingest

import (
	"context"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/shelfsync/pkg/books"
	"github.com/shishobooks/shelfsync/pkg/feed"
	"github.com/shishobooks/shelfsync/pkg/ledger"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/shishobooks/shelfsync/pkg/normalize"
	"github.com/shishobooks/shelfsync/pkg/reconcile"
	"github.com/shishobooks/shelfsync/pkg/storage"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
)

// filePlan is the decision for one files feed item. An item with a Detail is
// settled before any download; the rest are downloaded and attached.
type filePlan struct {
	item      feed.RawItem
	candidate *AttachmentCandidate
	book      *models.Book
	detail    *Detail
	// ledgered marks settled outcomes that are recorded so the item isn't
	// looked at again.
	ledgered bool

	data []byte
	err  error
	// ref is set once the file is in the store.
	ref string
}

func (fp *filePlan) pending() bool {
	return fp.detail == nil
}

// claims reports whether the plan means to attach its file to fp.book, now or
// in a dry run.
func (fp *filePlan) claims() bool {
	return fp.book != nil && (fp.pending() || fp.detail.Status == StatusUpdated)
}

// processFilePage plans every item, downloads the matched files in a bounded
// pool and then commits them one at a time in feed order.
func (o *Orchestrator) processFilePage(ctx context.Context, p *pass, items []feed.RawItem) (int, error) {
	plans, counted, err := o.planFiles(ctx, p, items)
	if err != nil {
		return counted, err
	}

	if !p.opts.DryRun {
		if err := o.downloadFiles(ctx, plans); err != nil {
			return counted, err
		}
	}

	for _, fp := range plans {
		if err := ctx.Err(); err != nil {
			return counted, errors.WithStack(err)
		}
		p.result.add(o.settleFile(ctx, p, fp))
	}
	return counted, nil
}

// planFiles settles what it can without downloading. Only the first item of a
// page that matches an entry may attach to it; later ones are skipped without
// a ledger record so a later pass looks at them again.
func (o *Orchestrator) planFiles(ctx context.Context, p *pass, items []feed.RawItem) ([]*filePlan, int, error) {
	plans := make([]*filePlan, 0, len(items))
	counted := 0
	claimed := map[int]int{}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return plans, counted, errors.WithStack(err)
		}
		if p.limitReached() {
			break
		}
		fp := &filePlan{item: item}
		plans = append(plans, fp)

		record, err := o.ledgered(ctx, models.FeedFiles, item.ID)
		if err != nil {
			fp.detail = errorDetail(ctx, item.ID, err)
			continue
		}
		if record != nil {
			fp.detail = &Detail{SourceItemID: item.ID, Status: StatusSkipped, Reason: ReasonAlreadyProcessed, CatalogEntryID: record.CatalogEntryID}
			continue
		}

		if p.remaining > 0 {
			p.remaining--
		}
		counted++
		o.planFile(ctx, p, fp)

		if !fp.claims() {
			continue
		}
		if first, ok := claimed[fp.book.ID]; ok {
			logger.FromContext(ctx).Info("entry already claimed by another file of the page", logger.Data{"source_item_id": item.ID, "book_id": fp.book.ID, "claimed_by": first})
			fp.detail = &Detail{SourceItemID: item.ID, Status: StatusSkipped, Reason: ReasonEntryAlreadyHasFile, CatalogEntryID: &fp.book.ID}
			continue
		}
		claimed[fp.book.ID] = item.ID
	}
	return plans, counted, nil
}

func (o *Orchestrator) planFile(ctx context.Context, p *pass, fp *filePlan) {
	item := fp.item
	log := logger.FromContext(ctx).Data(logger.Data{"feed": models.FeedFiles, "source_item_id": item.ID})

	fp.candidate = ParseCandidate(item)
	if fp.candidate == nil {
		fp.detail = &Detail{SourceItemID: item.ID, Status: StatusSkipped, Reason: ReasonNoDocument}
		fp.ledgered = true
		return
	}

	book, reason, err := o.matchFile(ctx, item, fp.candidate)
	if err != nil {
		fp.detail = errorDetail(ctx, item.ID, err)
		return
	}
	if book == nil {
		log.Info("file not matched", logger.Data{"filename": fp.candidate.Filename, "reason": reason})
		fp.detail = &Detail{SourceItemID: item.ID, Status: StatusSkipped, Reason: reason}
		return
	}
	fp.book = book

	if book.HasFile() {
		fp.detail = &Detail{SourceItemID: item.ID, Status: StatusSkipped, Reason: ReasonEntryAlreadyHasFile, CatalogEntryID: &book.ID}
		fp.ledgered = true
		return
	}

	if p.opts.DryRun {
		fp.detail = &Detail{
			SourceItemID:   item.ID,
			Status:         StatusUpdated,
			Reason:         fmt.Sprintf("would attach %s (%s)", fp.candidate.Filename, reason),
			CatalogEntryID: &book.ID,
		}
	}
}

// matchFile finds the catalog entry a document belongs to. It returns the
// entry and how it was found, or a nil entry and the reason there is none.
func (o *Orchestrator) matchFile(ctx context.Context, item feed.RawItem, c *AttachmentCandidate) (*models.Book, string, error) {
	if item.ReplyToID != 0 {
		book, err := o.replyTarget(ctx, item.ReplyToID)
		if err != nil {
			return nil, "", err
		}
		if book != nil {
			return book, fmt.Sprintf("matched metadata post %d", item.ReplyToID), nil
		}
	}

	if c.Author != "" && c.Title != "" {
		existing, err := o.books.FindByKey(ctx, normalize.Key(c.Author), normalize.Key(c.Title))
		if err != nil {
			return nil, "", err
		}
		if len(existing) > 0 {
			return reconcile.MostComplete(existing), "matched filename key", nil
		}
	}

	candidates, err := o.matcher.Match(ctx, c.Filename)
	if err != nil {
		return nil, "", err
	}
	if len(candidates) == 0 {
		return nil, ReasonNoMatch, nil
	}
	if len(candidates) > 1 && candidates[1].Score == candidates[0].Score {
		return nil, ReasonAmbiguousMatch, nil
	}
	return candidates[0].Book, fmt.Sprintf("matched by relevance (score %d)", candidates[0].Score), nil
}

// replyTarget returns the entry a processed metadata post resolved to, if
// any.
func (o *Orchestrator) replyTarget(ctx context.Context, postID int) (*models.Book, error) {
	record, err := o.ledgered(ctx, models.FeedMetadata, postID)
	if err != nil || record == nil || record.CatalogEntryID == nil {
		return nil, err
	}
	book, err := o.books.RetrieveBook(ctx, books.RetrieveBookOptions{ID: record.CatalogEntryID})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return book, nil
}

// downloadFiles fetches the pending plans with at most DownloadWorkers in
// flight. Failures are kept on the plan rather than stopping the page.
func (o *Orchestrator) downloadFiles(ctx context.Context, plans []*filePlan) error {
	var g errgroup.Group
	g.SetLimit(o.opts.DownloadWorkers)

	for _, fp := range plans {
		if !fp.pending() {
			continue
		}
		g.Go(func() error {
			fp.data, fp.err = o.download(ctx, *fp.item.Media)
			return nil
		})
	}
	return errors.WithStack(g.Wait())
}

// settleFile commits the outcome of a plan and returns its detail.
func (o *Orchestrator) settleFile(ctx context.Context, p *pass, fp *filePlan) *Detail {
	item := fp.item

	if !fp.pending() {
		if !fp.ledgered || p.opts.DryRun {
			return fp.detail
		}
		err := o.commit(ctx, p, item.ID, func(ctx context.Context, tx bun.Tx) error {
			return writeFileRecord(ctx, tx, item.ID, fp.detail)
		})
		if err != nil {
			return errorDetail(ctx, item.ID, err)
		}
		return fp.detail
	}

	if fp.err != nil {
		return errorDetail(ctx, item.ID, fp.err)
	}

	var detail *Detail
	err := o.commit(ctx, p, item.ID, func(ctx context.Context, tx bun.Tx) error {
		var err error
		detail, err = o.attach(ctx, tx, fp)
		return err
	})
	if err != nil {
		if fp.ref != "" {
			o.discard(ctx, fp.ref)
		}
		return errorDetail(ctx, item.ID, err)
	}
	return detail
}

// attach stores the downloaded file and links it to its entry. The entry is
// read again inside tx since an earlier item of the page may have filled it.
func (o *Orchestrator) attach(ctx context.Context, tx bun.Tx, fp *filePlan) (*Detail, error) {
	item := fp.item
	bookService := books.NewService(tx)

	book, err := bookService.RetrieveBook(ctx, books.RetrieveBookOptions{ID: &fp.book.ID})
	if err != nil {
		return nil, err
	}
	if book.HasFile() {
		detail := &Detail{SourceItemID: item.ID, Status: StatusSkipped, Reason: ReasonEntryAlreadyHasFile, CatalogEntryID: &book.ID}
		return detail, writeFileRecord(ctx, tx, item.ID, detail)
	}

	mimeType := item.Media.MimeType
	if mimeType == "" {
		mimeType = mimetype.Detect(fp.data).String()
	}
	ref, err := o.store.StoreObject(ctx, storage.BucketFiles, storage.ObjectKey(item.ID, fp.candidate.Filename), fp.data, mimeType)
	if err != nil {
		return nil, err
	}
	fp.ref = ref

	book.FileRef = &ref
	book.FileMimeType = &mimeType
	err = bookService.UpdateBook(ctx, book, books.UpdateBookOptions{Columns: []string{"file_ref", "file_mime_type"}})
	if err != nil {
		return nil, err
	}

	detail := &Detail{SourceItemID: item.ID, Status: StatusUpdated, Reason: ReasonFileAttached, CatalogEntryID: &book.ID}
	if err := writeFileRecord(ctx, tx, item.ID, detail); err != nil {
		return nil, err
	}
	if err := ledger.NewService(tx).LinkFile(ctx, book.ID, item.ID); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("file attached", logger.Data{"source_item_id": item.ID, "book_id": book.ID, "file_ref": ref, "bytes": len(fp.data)})
	return detail, nil
}

func writeFileRecord(ctx context.Context, tx bun.Tx, itemID int, detail *Detail) error {
	reason := detail.Reason
	record := &models.LedgerRecord{
		Feed:           models.FeedFiles,
		SourceItemID:   itemID,
		CatalogEntryID: detail.CatalogEntryID,
		Status:         detail.Status,
		Reason:         &reason,
	}
	if detail.Reason == ReasonFileAttached {
		record.AttachedFileSourceID = &itemID
	}
	return ledger.NewService(tx).Write(ctx, record)
}
