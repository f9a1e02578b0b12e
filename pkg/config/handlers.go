package config

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	config *Config
}

// retrieve returns the effective configuration. Fields tagged json:"-" are
// never exposed.
func (h *handler) retrieve(c echo.Context) error {
	return errors.WithStack(c.JSON(http.StatusOK, h.config))
}
