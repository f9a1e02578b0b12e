package ingest

import (
	"github.com/labstack/echo/v4"
)

func RegisterRoutesWithGroup(g *echo.Group, orchestrator *Orchestrator) {
	h := &handler{orchestrator}

	g.POST("/inspect", h.inspect)
}
