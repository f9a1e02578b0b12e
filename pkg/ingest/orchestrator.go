// Package ingest drives passes over the metadata and files feeds: it fetches
// pages, reconciles posts into the catalog, attaches files and keeps the
// ledger and cursors current.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/shelfsync/pkg/books"
	"github.com/shishobooks/shelfsync/pkg/config"
	"github.com/shishobooks/shelfsync/pkg/extract"
	"github.com/shishobooks/shelfsync/pkg/feed"
	"github.com/shishobooks/shelfsync/pkg/ledger"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/shishobooks/shelfsync/pkg/reconcile"
	"github.com/shishobooks/shelfsync/pkg/relevance"
	"github.com/uptrace/bun"
	"golang.org/x/time/rate"
)

var (
	ErrPassInProgress = errors.New("a sync pass is already in progress")
	ErrMediaTimeout   = errors.New("media download timed out")
)

const (
	initialFetchBackoff = time.Second
	maxFetchBackoff     = 30 * time.Second
)

// ObjectStore keeps downloaded files and covers.
type ObjectStore interface {
	StoreObject(ctx context.Context, bucket, key string, data []byte, mimeType string) (string, error)
	StoreCover(ctx context.Context, key string, data []byte) (string, error)
	DeleteObject(ctx context.Context, ref string) error
}

type Options struct {
	MetadataChannel string
	FilesChannel    string
	PageSize        int
	BatchDelay      time.Duration
	FetchRetries    int
	PhotoTimeout    time.Duration
	DocumentTimeout time.Duration
	DownloadWorkers int
	LockFilePath    string
	TagStoplist     []string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MetadataChannel: cfg.MetadataChannel,
		FilesChannel:    cfg.FilesChannel,
		PageSize:        cfg.PageSize,
		BatchDelay:      cfg.BatchDelay,
		FetchRetries:    cfg.FetchRetries,
		PhotoTimeout:    cfg.PhotoTimeout,
		DocumentTimeout: cfg.DocumentTimeout,
		DownloadWorkers: cfg.DownloadWorkers,
		LockFilePath:    cfg.LockFilePath,
		TagStoplist:     cfg.TagStoplist,
	}
}

type Orchestrator struct {
	db        *bun.DB
	client    feed.Client
	store     ObjectStore
	opts      Options
	extractor *extract.Extractor
	books     *books.Service
	engine    *reconcile.Engine
	matcher   *relevance.Matcher
	limiter   *rate.Limiter

	// running guards against two passes in this process; the lock file
	// covers other processes.
	running sync.Mutex
}

func New(db *bun.DB, client feed.Client, store ObjectStore, opts Options) *Orchestrator {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.DownloadWorkers <= 0 {
		opts.DownloadWorkers = 1
	}

	limit := rate.Inf
	if opts.BatchDelay > 0 {
		limit = rate.Every(opts.BatchDelay)
	}

	bookService := books.NewService(db)
	return &Orchestrator{
		db:        db,
		client:    client,
		store:     store,
		opts:      opts,
		extractor: extract.New(opts.TagStoplist...),
		books:     bookService,
		engine:    reconcile.NewEngine(bookService),
		matcher:   relevance.NewMatcher(bookService),
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// pageFunc handles one fetched page. It returns how many items counted
// against the pass limit.
type pageFunc func(ctx context.Context, p *pass, items []feed.RawItem) (int, error)

type pass struct {
	feed    string
	channel feed.ChannelRef
	opts    RunOptions
	cursor  *ledger.Cursor
	result  *Result
	// remaining is the number of new items still allowed, or -1.
	remaining int
}

func (p *pass) limitReached() bool {
	return p.remaining == 0
}

// RunMetadataSync runs one pass over the metadata feed.
func (o *Orchestrator) RunMetadataSync(ctx context.Context, opts RunOptions) (*Result, error) {
	return o.run(ctx, models.FeedMetadata, o.opts.MetadataChannel, opts, o.processMetadataPage)
}

// RunFileSync runs one pass over the files feed.
func (o *Orchestrator) RunFileSync(ctx context.Context, opts RunOptions) (*Result, error) {
	return o.run(ctx, models.FeedFiles, o.opts.FilesChannel, opts, o.processFilePage)
}

func (o *Orchestrator) run(ctx context.Context, feedName, channel string, opts RunOptions, process pageFunc) (*Result, error) {
	if !o.running.TryLock() {
		return nil, ErrPassInProgress
	}
	defer o.running.Unlock()

	release, err := acquireLock(o.opts.LockFilePath)
	if err != nil {
		return nil, err
	}
	defer release()

	log := logger.FromContext(ctx)
	result := &Result{DryRun: opts.DryRun, Details: []*Detail{}}

	ref, err := o.client.ResolveChannel(ctx, channel)
	if err != nil {
		return result, errors.Wrapf(err, "resolve %s channel", feedName)
	}

	ledgerService := ledger.NewService(o.db)
	cursor, err := ledgerService.LoadCursor(ctx, feedName, ref.Name)
	if err != nil {
		return result, err
	}

	p := &pass{
		feed:      feedName,
		channel:   ref,
		opts:      opts,
		cursor:    cursor,
		result:    result,
		remaining: -1,
	}
	if opts.Limit > 0 {
		p.remaining = opts.Limit
	}

	beforeID := 0
	if opts.Resume {
		beforeID = cursor.Position()
	}
	log.Info("sync pass started", logger.Data{"feed": feedName, "channel": ref.Name, "before_id": beforeID, "limit": opts.Limit, "dry_run": opts.DryRun})

	err = o.walk(ctx, p, beforeID, process)
	if err != nil {
		_ = cursor.Transition(models.CursorStateStopped)
	} else if cursor.State != models.CursorStateIdle {
		_ = cursor.Transition(models.CursorStateIdle)
	}

	if !opts.DryRun {
		// Persist the final state even when ctx was cancelled.
		if serr := ledgerService.SaveCursor(context.WithoutCancel(ctx), cursor); serr != nil {
			log.Err(serr).Error("failed to save cursor")
		}
	}

	log.Info("sync pass finished", logger.Data{
		"feed":      feedName,
		"processed": result.Processed,
		"added":     result.Added,
		"updated":   result.Updated,
		"skipped":   result.Skipped,
		"errors":    result.Errors,
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

// walk fetches pages from beforeID down to the start of the channel or until
// the limit is reached.
func (o *Orchestrator) walk(ctx context.Context, p *pass, beforeID int, process pageFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}
		if err := o.limiter.Wait(ctx); err != nil {
			return errors.WithStack(err)
		}

		if err := p.cursor.Transition(models.CursorStateFetching); err != nil {
			return err
		}
		items, err := o.fetchPage(ctx, p.channel, beforeID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			// The whole channel has been walked, so the next resume starts
			// over from the newest item.
			if !p.opts.DryRun {
				p.cursor.LastItemID = nil
			}
			return p.cursor.Transition(models.CursorStateIdle)
		}

		if err := p.cursor.Transition(models.CursorStateProcessing); err != nil {
			return err
		}
		if _, err := process(ctx, p, items); err != nil {
			return err
		}
		if p.limitReached() {
			return p.cursor.Transition(models.CursorStateIdle)
		}
		beforeID = items[len(items)-1].ID
	}
}

// fetchPage retries transient feed errors with backoff, honoring any wait the
// feed asks for.
func (o *Orchestrator) fetchPage(ctx context.Context, channel feed.ChannelRef, beforeID int) ([]feed.RawItem, error) {
	log := logger.FromContext(ctx)
	backoff := initialFetchBackoff

	for attempt := 0; ; attempt++ {
		items, err := o.client.FetchPage(ctx, channel, o.opts.PageSize, beforeID)
		if err == nil {
			return items, nil
		}
		if !feed.IsRetriable(err) || attempt >= o.opts.FetchRetries {
			return nil, errors.Wrapf(err, "fetch page before %d", beforeID)
		}

		wait := feed.RetryAfter(err)
		if wait == 0 {
			wait = backoff
			backoff *= 2
			if backoff > maxFetchBackoff {
				backoff = maxFetchBackoff
			}
		}
		log.Warn("transient feed error; retrying", logger.Data{"before_id": beforeID, "attempt": attempt + 1, "wait": wait.String(), "error": err.Error()})
		if err := feed.SleepWithContext(ctx, wait); err != nil {
			return nil, errors.WithStack(err)
		}
	}
}

// download fetches media with the timeout for its kind.
func (o *Orchestrator) download(ctx context.Context, media feed.Media) ([]byte, error) {
	timeout := o.opts.DocumentTimeout
	if media.Kind == feed.MediaPhoto {
		timeout = o.opts.PhotoTimeout
	}
	if timeout <= 0 {
		data, err := o.client.DownloadMedia(ctx, media)
		return data, errors.WithStack(err)
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := o.client.DownloadMedia(dctx, media)
	if err != nil {
		if ctx.Err() == nil && errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrapf(ErrMediaTimeout, "%s after %s", media.Kind, timeout)
		}
		return nil, errors.WithStack(err)
	}
	return data, nil
}

// ledgered returns the record of an item processed by an earlier pass.
func (o *Orchestrator) ledgered(ctx context.Context, feedName string, itemID int) (*models.LedgerRecord, error) {
	record, err := ledger.NewService(o.db).Lookup(ctx, feedName, itemID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// discard removes an object stored for an item whose transaction rolled back.
func (o *Orchestrator) discard(ctx context.Context, ref string) {
	if err := o.store.DeleteObject(ctx, ref); err != nil {
		logger.FromContext(ctx).Err(err).Warn("stored object could not be removed", logger.Data{"ref": ref})
	}
}

// commit runs fn in a transaction and then advances the cursor to itemID in
// the same transaction.
func (o *Orchestrator) commit(ctx context.Context, p *pass, itemID int, fn func(ctx context.Context, tx bun.Tx) error) error {
	previous := p.cursor.LastItemID
	err := o.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if fn != nil {
			if err := fn(ctx, tx); err != nil {
				return err
			}
		}
		p.cursor.Advance(itemID)
		return ledger.NewService(tx).SaveCursor(ctx, p.cursor)
	})
	if err != nil {
		p.cursor.LastItemID = previous
		return errors.WithStack(err)
	}
	return nil
}
