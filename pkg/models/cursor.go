package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	CursorStateIdle       = "idle"
	CursorStateFetching   = "fetching"
	CursorStateProcessing = "processing"
	CursorStateStopped    = "stopped"
)

type SyncCursor struct {
	bun.BaseModel `bun:"table:sync_cursors,alias:sc"`

	Feed       string    `bun:",pk" json:"feed"`
	Channel    string    `json:"channel"`
	LastItemID *int      `json:"last_item_id,omitempty"`
	State      string    `bun:",nullzero" json:"state"`
	UpdatedAt  time.Time `json:"updated_at"`
}
