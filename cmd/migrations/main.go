package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/shelfsync/pkg/config"
	"github.com/shishobooks/shelfsync/pkg/database"
	"github.com/shishobooks/shelfsync/pkg/migrations"
	"github.com/shishobooks/shelfsync/pkg/version"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v2"
)

func main() {
	log := logger.New()

	// Set up in Before, once config and database are available.
	var migrator *migrate.Migrator

	app := &cli.App{
		Name:    "migrations",
		Usage:   "manage the shelfsync database schema",
		Version: version.Version,
		Before: func(_ *cli.Context) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			db, err := database.New(cfg)
			if err != nil {
				return err
			}
			migrator = migrations.NewMigrator(db)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "create migration tables",
				Action: func(c *cli.Context) error {
					return errors.WithStack(migrator.Init(c.Context))
				},
			},
			{
				Name:  "migrate",
				Usage: "apply every pending migration",
				Action: func(c *cli.Context) error {
					if err := migrator.Init(c.Context); err != nil {
						return errors.WithStack(err)
					}
					group, err := migrator.Migrate(c.Context)
					if err != nil {
						return errors.WithStack(err)
					}
					if group.IsZero() {
						fmt.Println("Already up to date")
						return nil
					}
					fmt.Printf("Migrated to %s\n", group)
					return nil
				},
			},
			{
				Name:  "rollback",
				Usage: "roll back the last migration group",
				Action: func(c *cli.Context) error {
					group, err := migrator.Rollback(c.Context)
					if err != nil {
						return errors.WithStack(err)
					}
					if group.IsZero() {
						fmt.Println("Nothing to roll back")
						return nil
					}
					fmt.Printf("Rolled back %s\n", group)
					return nil
				},
			},
			{
				Name:      "create",
				Usage:     "create a Go migration",
				ArgsUsage: "<words of the name>",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return cli.Exit("a migration name is required", 2)
					}
					name := strings.Join(c.Args().Slice(), "_")
					mf, err := migrator.CreateGoMigration(c.Context, name, migrate.WithGoTemplate(migrationTemplate))
					if err != nil {
						return errors.WithStack(err)
					}
					fmt.Printf("Created %s (%s)\n", mf.Name, mf.Path)
					return nil
				},
			},
			{
				Name:  "status",
				Usage: "list migrations and whether they are applied",
				Action: func(c *cli.Context) error {
					ms, err := migrator.MigrationsWithStatus(c.Context)
					if err != nil {
						return errors.WithStack(err)
					}
					for _, m := range ms {
						state := "pending"
						if m.IsApplied() {
							state = fmt.Sprintf("applied in group %d", m.GroupID)
						}
						fmt.Printf("%s\t%s\n", m.Name, state)
					}
					fmt.Printf("Last group: %s\n", ms.LastGroup())
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Err(err).Fatal("migrations error")
	}
}

const migrationTemplate = `package %s

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(` + "``" + `)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(` + "``" + `)
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
`
