package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	FeedMetadata = "metadata"
	FeedFiles    = "files"
)

// LedgerRecord marks a source item as fully processed. Its existence for a
// (feed, source item) pair is what makes reprocessing a no-op.
type LedgerRecord struct {
	bun.BaseModel `bun:"table:ledger_records,alias:lr"`

	ID                   int       `bun:",pk,nullzero" json:"id"`
	Feed                 string    `bun:",nullzero" json:"feed"`
	SourceItemID         int       `json:"source_item_id"`
	CatalogEntryID       *int      `json:"catalog_entry_id,omitempty"`
	AttachedFileSourceID *int      `json:"attached_file_source_id,omitempty"`
	Status               string    `bun:",nullzero" json:"status"`
	Reason               *string   `json:"reason,omitempty"`
	ProcessedAt          time.Time `json:"processed_at"`
}
