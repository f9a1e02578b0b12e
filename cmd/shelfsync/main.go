package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/shelfsync/pkg/config"
	"github.com/shishobooks/shelfsync/pkg/database"
	"github.com/shishobooks/shelfsync/pkg/feed/export"
	"github.com/shishobooks/shelfsync/pkg/ingest"
	"github.com/shishobooks/shelfsync/pkg/ledger"
	"github.com/shishobooks/shelfsync/pkg/migrations"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/shishobooks/shelfsync/pkg/storage"
	"github.com/shishobooks/shelfsync/pkg/version"
	"github.com/urfave/cli/v2"
)

var runFlags = []cli.Flag{
	&cli.IntFlag{Name: "limit", Usage: "process at most this many new items (0 means no limit)"},
	&cli.BoolFlag{Name: "dry-run", Usage: "report decisions without writing anything"},
	&cli.BoolFlag{Name: "resume", Usage: "continue below the stored cursor"},
}

func main() {
	log := logger.New()

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}
	defer db.Close()

	if _, err := migrations.BringUpToDate(ctx, db); err != nil {
		log.Err(err).Fatal("migrations error")
	}

	store := storage.New(cfg)
	orchestrator := ingest.New(db, export.New(cfg.FeedExportDir), store, ingest.OptionsFromConfig(cfg))

	app := &cli.App{
		Name:    "shelfsync",
		Usage:   "sync the catalog from the metadata and files feeds",
		Version: version.Version,
		Commands: []*cli.Command{
			{
				Name:  "metadata",
				Usage: "run a metadata sync pass",
				Flags: runFlags,
				Action: func(c *cli.Context) error {
					result, err := orchestrator.RunMetadataSync(c.Context, runOptions(c))
					return finish(result, err)
				},
			},
			{
				Name:  "files",
				Usage: "run a file sync pass",
				Flags: runFlags,
				Action: func(c *cli.Context) error {
					result, err := orchestrator.RunFileSync(c.Context, runOptions(c))
					return finish(result, err)
				},
			},
			{
				Name:  "inspect",
				Usage: "show how a range of feed items would be handled",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "feed", Usage: "metadata or files", Required: true},
					&cli.IntFlag{Name: "from-id", Usage: "lowest item id (inclusive)"},
					&cli.IntFlag{Name: "to-id", Usage: "highest item id (inclusive)"},
				},
				Action: func(c *cli.Context) error {
					items, err := orchestrator.Inspect(c.Context, ingest.InspectOptions{
						Feed:   c.String("feed"),
						FromID: c.Int("from-id"),
						ToID:   c.Int("to-id"),
					})
					if err != nil {
						return err
					}
					return printJSON(items)
				},
			},
			{
				Name:  "cursor",
				Usage: "manage sync cursors",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list stored cursors",
						Action: func(c *cli.Context) error {
							cursors, err := ledger.NewService(db).ListCursors(c.Context)
							if err != nil {
								return err
							}
							return printJSON(cursors)
						},
					},
					{
						Name:      "reset",
						Usage:     "forget the stored position of a feed",
						ArgsUsage: "<feed>",
						Action: func(c *cli.Context) error {
							if c.NArg() != 1 {
								return cli.Exit("expected exactly one feed name", 2)
							}
							feed := c.Args().First()
							if feed != models.FeedMetadata && feed != models.FeedFiles {
								return cli.Exit("feed must be metadata or files", 2)
							}
							return ledger.NewService(db).ResetCursor(c.Context, feed)
						},
					},
				},
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Err(err).Fatal("shelfsync error")
	}
}

func runOptions(c *cli.Context) ingest.RunOptions {
	return ingest.RunOptions{
		Limit:  c.Int("limit"),
		DryRun: c.Bool("dry-run"),
		Resume: c.Bool("resume"),
	}
}

// finish prints whatever the pass managed to do before returning its error.
func finish(result *ingest.Result, err error) error {
	if result != nil {
		if perr := printJSON(result); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return errors.WithStack(enc.Encode(v))
}
