package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/shishobooks/shelfsync/pkg/binder"
	"github.com/shishobooks/shelfsync/pkg/books"
	"github.com/shishobooks/shelfsync/pkg/config"
	"github.com/shishobooks/shelfsync/pkg/errcodes"
	"github.com/shishobooks/shelfsync/pkg/genres"
	"github.com/shishobooks/shelfsync/pkg/ingest"
	"github.com/shishobooks/shelfsync/pkg/jobs"
	"github.com/shishobooks/shelfsync/pkg/ledger"
	"github.com/shishobooks/shelfsync/pkg/series"
	"github.com/shishobooks/shelfsync/pkg/storage"
	"github.com/shishobooks/shelfsync/pkg/tags"
	"github.com/uptrace/bun"
)

func New(cfg *config.Config, db *bun.DB, orchestrator *ingest.Orchestrator, store *storage.Store) (*http.Server, error) {
	e, err := newEcho(cfg, db, orchestrator, store)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

func newEcho(cfg *config.Config, db *bun.DB, orchestrator *ingest.Orchestrator, store *storage.Store) (*echo.Echo, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)
	config.RegisterRoutes(e, cfg)

	books.RegisterRoutesWithGroup(e.Group("/books"), db)
	series.RegisterRoutesWithGroup(e.Group("/series"), db)
	genres.RegisterRoutesWithGroup(e.Group("/genres"), db)
	tags.RegisterRoutesWithGroup(e.Group("/tags"), db)
	ledger.RegisterRoutesWithGroup(e.Group("/ledger"), db)
	jobs.RegisterRoutesWithGroup(e.Group("/jobs"), db)
	ingest.RegisterRoutesWithGroup(e.Group("/sync"), orchestrator)

	// Stored covers and files are served directly when the base URL is a
	// local path.
	if prefix := store.BaseURL(); strings.HasPrefix(prefix, "/") {
		e.Static(prefix, store.Dir())
	}

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	return e, nil
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
