package ingest

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shishobooks/shelfsync/pkg/extract"
	"github.com/shishobooks/shelfsync/pkg/feed"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/shishobooks/shelfsync/pkg/reconcile"
)

const maxInspectItems = 1000

var ErrUnknownFeed = errors.New("unknown feed")

type InspectOptions struct {
	Feed string
	// FromID and ToID bound the inclusive id range. Zero leaves a side open.
	FromID int
	ToID   int
}

// InspectedItem is what a pass would see and decide for one item.
type InspectedItem struct {
	Item      feed.RawItem         `json:"item"`
	Metadata  *extract.Metadata    `json:"metadata,omitempty"`
	Decision  *reconcile.Decision  `json:"decision,omitempty"`
	Candidate *AttachmentCandidate `json:"candidate,omitempty"`
	MatchedID *int                 `json:"matched_id,omitempty"`
	Match     string               `json:"match,omitempty"`
	Record    *models.LedgerRecord `json:"record,omitempty"`
}

// Inspect reports how the items of a feed in an id range parse and match,
// newest first, without writing anything.
func (o *Orchestrator) Inspect(ctx context.Context, opts InspectOptions) ([]*InspectedItem, error) {
	channel, err := o.channelFor(opts.Feed)
	if err != nil {
		return nil, err
	}
	if opts.FromID > 0 && opts.ToID > 0 && opts.FromID > opts.ToID {
		return nil, errors.Errorf("from id %d is above to id %d", opts.FromID, opts.ToID)
	}

	ref, err := o.client.ResolveChannel(ctx, channel)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s channel", opts.Feed)
	}

	beforeID := 0
	if opts.ToID > 0 {
		beforeID = opts.ToID + 1
	}

	inspected := []*InspectedItem{}
	for len(inspected) < maxInspectItems {
		items, err := o.fetchPage(ctx, ref, beforeID)
		if err != nil {
			return inspected, err
		}
		if len(items) == 0 {
			return inspected, nil
		}
		for _, item := range items {
			if item.ID < opts.FromID {
				return inspected, nil
			}
			ii, err := o.inspectItem(ctx, opts.Feed, item)
			if err != nil {
				return inspected, err
			}
			inspected = append(inspected, ii)
			if len(inspected) == maxInspectItems {
				break
			}
		}
		beforeID = items[len(items)-1].ID
	}
	return inspected, nil
}

func (o *Orchestrator) inspectItem(ctx context.Context, feedName string, item feed.RawItem) (*InspectedItem, error) {
	ii := &InspectedItem{Item: item}

	record, err := o.ledgered(ctx, feedName, item.ID)
	if err != nil {
		return nil, err
	}
	ii.Record = record

	if feedName == models.FeedMetadata {
		meta := o.extractor.Parse(item.Text)
		ii.Metadata = &meta
		ii.Decision, err = o.engine.Decide(ctx, reconcile.Input{Meta: meta, HasCover: item.HasPhoto(), SourceItemID: item.ID})
		return ii, err
	}

	ii.Candidate = ParseCandidate(item)
	if ii.Candidate == nil {
		ii.Match = ReasonNoDocument
		return ii, nil
	}
	book, match, err := o.matchFile(ctx, item, ii.Candidate)
	if err != nil {
		return nil, err
	}
	ii.Match = match
	if book != nil {
		ii.MatchedID = &book.ID
	}
	return ii, nil
}

func (o *Orchestrator) channelFor(feedName string) (string, error) {
	switch feedName {
	case models.FeedMetadata:
		return o.opts.MetadataChannel, nil
	case models.FeedFiles:
		return o.opts.FilesChannel, nil
	}
	return "", errors.Wrapf(ErrUnknownFeed, "%q", feedName)
}
