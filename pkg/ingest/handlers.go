package ingest

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shishobooks/shelfsync/pkg/errcodes"
)

type handler struct {
	orchestrator *Orchestrator
}

func (h *handler) inspect(c echo.Context) error {
	ctx := c.Request().Context()

	params := InspectPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}
	if params.FromID > 0 && params.ToID > 0 && params.FromID > params.ToID {
		return errcodes.ValidationError("from_id must not be above to_id.")
	}

	items, err := h.orchestrator.Inspect(ctx, InspectOptions{
		Feed:   params.Feed,
		FromID: params.FromID,
		ToID:   params.ToID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Items []*InspectedItem `json:"items"`
		Total int              `json:"total"`
	}{items, len(items)}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}
