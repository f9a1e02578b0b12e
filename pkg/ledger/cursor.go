package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/shelfsync/pkg/errcodes"
	"github.com/shishobooks/shelfsync/pkg/models"
)

var ErrInvalidTransition = errors.New("invalid cursor transition")

var transitions = map[string][]string{
	models.CursorStateIdle:       {models.CursorStateFetching, models.CursorStateStopped},
	models.CursorStateFetching:   {models.CursorStateProcessing, models.CursorStateIdle, models.CursorStateStopped},
	models.CursorStateProcessing: {models.CursorStateFetching, models.CursorStateIdle, models.CursorStateStopped},
	models.CursorStateStopped:    {},
}

// Cursor is the position of a pass over one feed. LastItemID is the last
// source item whose ledger record was committed.
type Cursor struct {
	*models.SyncCursor
}

// Transition moves the cursor to state, rejecting moves the state machine
// doesn't allow. Stopped is terminal for the pass.
func (c *Cursor) Transition(state string) error {
	for _, allowed := range transitions[c.State] {
		if allowed == state {
			c.State = state
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidTransition, "%s -> %s", c.State, state)
}

// Advance records itemID as the last committed item.
func (c *Cursor) Advance(itemID int) {
	c.LastItemID = &itemID
}

// Position returns the exclusive upper bound to resume fetching from, or 0
// for the newest item.
func (c *Cursor) Position() int {
	if c.LastItemID == nil {
		return 0
	}
	return *c.LastItemID
}

// LoadCursor returns the persisted cursor of feed, or a fresh idle one. A
// cursor left mid-pass or stopped by an earlier run is restarted as idle with
// its position kept.
func (svc *Service) LoadCursor(ctx context.Context, feed, channel string) (*Cursor, error) {
	sc := &models.SyncCursor{}

	err := svc.db.
		NewSelect().
		Model(sc).
		Where("sc.feed = ?", feed).
		Scan(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, errors.WithStack(err)
		}
		return &Cursor{&models.SyncCursor{Feed: feed, Channel: channel, State: models.CursorStateIdle}}, nil
	}

	if sc.State != models.CursorStateIdle {
		logger.FromContext(ctx).Warn("restarting cursor left in a non-idle state", logger.Data{"feed": feed, "state": sc.State})
		sc.State = models.CursorStateIdle
	}
	if sc.Channel != channel {
		logger.FromContext(ctx).Warn("cursor channel changed; starting from the newest item", logger.Data{"feed": feed, "old": sc.Channel, "new": channel})
		sc.Channel = channel
		sc.LastItemID = nil
	}
	return &Cursor{sc}, nil
}

// SaveCursor upserts cursor.
func (svc *Service) SaveCursor(ctx context.Context, cursor *Cursor) error {
	cursor.UpdatedAt = time.Now()

	_, err := svc.db.
		NewInsert().
		Model(cursor.SyncCursor).
		On("CONFLICT (feed) DO UPDATE").
		Set("channel = EXCLUDED.channel").
		Set("last_item_id = EXCLUDED.last_item_id").
		Set("state = EXCLUDED.state").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) ListCursors(ctx context.Context) ([]*models.SyncCursor, error) {
	cursors := []*models.SyncCursor{}
	err := svc.db.
		NewSelect().
		Model(&cursors).
		Order("sc.feed ASC").
		Scan(ctx)
	return cursors, errors.WithStack(err)
}

// ResetCursor forgets the position of feed so the next pass starts from the
// newest item.
func (svc *Service) ResetCursor(ctx context.Context, feed string) error {
	res, err := svc.db.
		NewDelete().
		Model((*models.SyncCursor)(nil)).
		Where("feed = ?", feed).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errcodes.NotFound("Cursor")
	}
	return nil
}
