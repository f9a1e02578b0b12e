package genres

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB) {
	h := &handler{
		genreService: NewService(db),
	}

	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
}
