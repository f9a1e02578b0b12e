// Package reconcile decides whether parsed metadata becomes a new catalog
// entry, fills gaps in an existing one, or is skipped as a duplicate.
//
// Existing values are never overwritten: a field is merged only when the
// canonical entry lacks it and the incoming record carries it.
package reconcile

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/shelfsync/pkg/books"
	"github.com/shishobooks/shelfsync/pkg/extract"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/shishobooks/shelfsync/pkg/normalize"
)

type Action string

const (
	ActionAdd    Action = "added"
	ActionUpdate Action = "updated"
	ActionSkip   Action = "skipped"
)

const (
	ReasonAdded                = "added"
	ReasonMissingTitleOrAuthor = "missing_title_or_author"
	ReasonNothingToMerge       = "nothing to merge"
)

const (
	FieldDescription = "description"
	FieldGenres      = "genres"
	FieldTags        = "tags"
	FieldRating      = "rating"
	FieldCover       = "cover"
)

// Finder looks up catalog entries by normalized key.
type Finder interface {
	FindByKey(ctx context.Context, normalizedAuthor, normalizedTitle string) ([]*models.Book, error)
}

// Store is the write side of the catalog that Apply mutates.
type Store interface {
	CreateBook(ctx context.Context, book *models.Book) error
	UpdateBook(ctx context.Context, book *models.Book, opts books.UpdateBookOptions) error
}

type Input struct {
	Meta         extract.Metadata
	HasCover     bool
	SourceItemID int
}

type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
	// Fields lists what an update fills in, in merge order.
	Fields []string `json:"fields,omitempty"`
	// Blockers lists the incoming fields that were dropped because the
	// canonical entry already has them.
	Blockers []string `json:"blockers,omitempty"`
	// Existing is the canonical entry for updates and duplicate skips.
	Existing *models.Book `json:"existing,omitempty"`
	// WantsCover is set when a cover from the post would be used, so the
	// caller knows to fetch it before Apply.
	WantsCover bool `json:"wants_cover"`
	// CoverRef is filled in by the caller once the cover is stored.
	CoverRef *string `json:"cover_ref,omitempty"`

	meta         extract.Metadata
	sourceItemID int
}

// Meta returns the metadata the decision was made for.
func (d *Decision) Meta() extract.Metadata {
	return d.meta
}

// DropCover withdraws the cover from the decision, for when it couldn't be
// fetched. An update that only filled the cover becomes a skip.
func (d *Decision) DropCover() {
	d.WantsCover = false
	d.CoverRef = nil
	if d.Action != ActionUpdate {
		return
	}

	fields := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		if f != FieldCover {
			fields = append(fields, f)
		}
	}
	d.Fields = fields
	if len(fields) > 0 {
		d.Reason = mergeReason(fields)
		return
	}
	d.Action = ActionSkip
	d.Reason = skipReason(d.Blockers)
}

type Engine struct {
	finder Finder
}

func NewEngine(finder Finder) *Engine {
	return &Engine{finder}
}

// Decide classifies in without writing anything.
func (e *Engine) Decide(ctx context.Context, in Input) (*Decision, error) {
	meta := in.Meta
	d := &Decision{meta: meta, sourceItemID: in.SourceItemID}

	if strings.TrimSpace(meta.Author) == "" || strings.TrimSpace(meta.Title) == "" {
		d.Action = ActionSkip
		d.Reason = ReasonMissingTitleOrAuthor
		return d, nil
	}

	existing, err := e.finder.FindByKey(ctx, normalize.Key(meta.Author), normalize.Key(meta.Title))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if len(existing) == 0 {
		d.Action = ActionAdd
		d.Reason = ReasonAdded
		d.WantsCover = in.HasCover
		return d, nil
	}

	canonical := MostComplete(existing)
	if len(existing) > 1 {
		logger.FromContext(ctx).Warn("multiple catalog entries share a key", logger.Data{
			"author":       meta.Author,
			"title":        meta.Title,
			"count":        len(existing),
			"canonical_id": canonical.ID,
		})
	}
	d.Existing = canonical

	d.Fields, d.Blockers = compare(canonical, meta, in.HasCover)
	if len(d.Fields) > 0 {
		d.Action = ActionUpdate
		d.Reason = mergeReason(d.Fields)
		for _, f := range d.Fields {
			if f == FieldCover {
				d.WantsCover = true
			}
		}
		return d, nil
	}

	d.Action = ActionSkip
	d.Reason = skipReason(d.Blockers)
	return d, nil
}

// Apply carries out d against store and returns the resulting entry. Skips
// return the canonical entry, if any, untouched.
func (e *Engine) Apply(ctx context.Context, store Store, d *Decision) (*models.Book, error) {
	meta := d.meta

	switch d.Action {
	case ActionAdd:
		book := &models.Book{
			Author:   strings.TrimSpace(meta.Author),
			Title:    strings.TrimSpace(meta.Title),
			IsSeries: meta.SeriesFlag,
			Genres:   meta.Genres,
			Tags:     meta.Tags,
			CoverRef: d.CoverRef,
		}
		if meta.Description != "" {
			book.Description = &meta.Description
		}
		if meta.Rating > 0 {
			book.Rating = &meta.Rating
		}
		if d.sourceItemID != 0 {
			book.SourceItemID = &d.sourceItemID
		}
		if err := store.CreateBook(ctx, book); err != nil {
			return nil, errors.WithStack(err)
		}
		return book, nil

	case ActionUpdate:
		book := d.Existing
		opts := books.UpdateBookOptions{Columns: []string{}}
		for _, f := range d.Fields {
			switch f {
			case FieldDescription:
				book.Description = &meta.Description
				opts.Columns = append(opts.Columns, "description")
			case FieldRating:
				book.Rating = &meta.Rating
				opts.Columns = append(opts.Columns, "rating")
			case FieldGenres:
				book.Genres = meta.Genres
				opts.UpdateGenres = true
			case FieldTags:
				book.Tags = meta.Tags
				opts.UpdateTags = true
			case FieldCover:
				if d.CoverRef == nil {
					return nil, errors.New("cover merge requested without a stored cover")
				}
				book.CoverRef = d.CoverRef
				opts.Columns = append(opts.Columns, "cover_ref")
			}
		}
		if err := store.UpdateBook(ctx, book, opts); err != nil {
			return nil, errors.WithStack(err)
		}
		return book, nil

	case ActionSkip:
		return d.Existing, nil
	}

	return nil, errors.Errorf("unknown action %q", d.Action)
}

// compare returns the fields meta would fill on b, and the fields it carries
// that b already has.
func compare(b *models.Book, meta extract.Metadata, hasCover bool) (fields, blockers []string) {
	check := func(field string, incoming, present bool) {
		if !incoming {
			return
		}
		if present {
			blockers = append(blockers, field)
			return
		}
		fields = append(fields, field)
	}

	check(FieldDescription, meta.Description != "", b.HasDescription())
	check(FieldGenres, len(meta.Genres) > 0, len(b.Genres) > 0)
	check(FieldTags, len(meta.Tags) > 0, len(b.Tags) > 0)
	check(FieldRating, meta.Rating > 0, b.HasRating())
	check(FieldCover, hasCover, b.HasCover())
	return fields, blockers
}

// MostComplete picks the canonical entry among duplicates: the one with the
// most of description, genres, tags and cover, then the newest.
func MostComplete(candidates []*models.Book) *models.Book {
	sorted := append([]*models.Book{}, candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := completeness(sorted[i]), completeness(sorted[j])
		if ci != cj {
			return ci > cj
		}
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID > sorted[j].ID
	})
	return sorted[0]
}

func completeness(b *models.Book) int {
	n := 0
	for _, ok := range []bool{b.HasDescription(), len(b.Genres) > 0, len(b.Tags) > 0, b.HasCover()} {
		if ok {
			n++
		}
	}
	return n
}

func mergeReason(fields []string) string {
	return "merged " + strings.Join(fields, ", ")
}

func skipReason(blockers []string) string {
	if len(blockers) == 0 {
		return ReasonNothingToMerge
	}
	reasons := make([]string, len(blockers))
	for i, b := range blockers {
		reasons[i] = "existing entry has " + b
	}
	return strings.Join(reasons, "; ")
}
