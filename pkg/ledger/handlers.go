package ledger

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/shelfsync/pkg/errcodes"
	"github.com/shishobooks/shelfsync/pkg/models"
)

type handler struct {
	ledgerService *Service
}

func (h *handler) listRecords(c echo.Context) error {
	ctx := c.Request().Context()

	params := ListRecordsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	records, total, err := h.ledgerService.ListRecordsWithTotal(ctx, ListRecordsOptions{
		Limit:  &params.Limit,
		Offset: &params.Offset,
		Feed:   params.Feed,
		Status: params.Status,
		FromID: params.FromID,
		ToID:   params.ToID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Records []*models.LedgerRecord `json:"records"`
		Total   int                    `json:"total"`
	}{records, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) listCursors(c echo.Context) error {
	ctx := c.Request().Context()

	cursors, err := h.ledgerService.ListCursors(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, cursors))
}

func (h *handler) resetCursor(c echo.Context) error {
	ctx := c.Request().Context()
	feed := c.Param("feed")
	if feed != models.FeedMetadata && feed != models.FeedFiles {
		return errcodes.NotFound("Cursor")
	}

	if err := h.ledgerService.ResetCursor(ctx, feed); err != nil {
		return errors.WithStack(err)
	}
	logger.FromContext(ctx).Info("cursor reset", logger.Data{"feed": feed})

	return errors.WithStack(c.NoContent(http.StatusNoContent))
}
