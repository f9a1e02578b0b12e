package ledger

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers ledger and cursor routes on a
// pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB) {
	h := &handler{
		ledgerService: NewService(db),
	}

	g.GET("/records", h.listRecords)
	g.GET("/cursors", h.listCursors)
	g.DELETE("/cursors/:feed", h.resetCursor)
}
