package main

import (
	"context"
	"net"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/shishobooks/shelfsync/pkg/config"
	"github.com/shishobooks/shelfsync/pkg/database"
	"github.com/shishobooks/shelfsync/pkg/feed/export"
	"github.com/shishobooks/shelfsync/pkg/ingest"
	"github.com/shishobooks/shelfsync/pkg/migrations"
	"github.com/shishobooks/shelfsync/pkg/server"
	"github.com/shishobooks/shelfsync/pkg/storage"
	"github.com/shishobooks/shelfsync/pkg/version"
	"github.com/shishobooks/shelfsync/pkg/worker"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting shelfsync", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		log.Err(errors.WithStack(err)).Fatal("storage directory error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	store := storage.New(cfg)
	client := export.New(cfg.FeedExportDir)
	orchestrator := ingest.New(db, client, store, ingest.OptionsFromConfig(cfg))

	wrkr := worker.New(cfg, db, orchestrator)

	srv, err := server.New(cfg, db, orchestrator, store)
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	graceful := signals.Setup()

	go func() {
		lc := net.ListenConfig{}
		listener, err := lc.Listen(ctx, "tcp", srv.Addr)
		if err != nil {
			log.Err(err).Fatal("failed to bind port")
		}
		log.Info("server started", logger.Data{"addr": listener.Addr().String()})

		err = srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Fatal("server stopped")
		}
		log.Info("server stopped")
	}()

	wrkr.Start()
	log.Info("worker started")

	<-graceful
	log.Info("starting graceful shutdown")

	err = srv.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	wrkr.Shutdown()
	log.Info("worker shutdown")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}
