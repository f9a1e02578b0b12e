package worker

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/shelfsync/pkg/ingest"
	"github.com/shishobooks/shelfsync/pkg/models"
)

// ProcessSyncJob runs the pass a sync job asks for and stores its result on
// the job data, including the partial result of a failed pass.
func (w *Worker) ProcessSyncJob(ctx context.Context, job *models.Job) error {
	log := logger.FromContext(ctx)

	data, ok := job.DataParsed.(*models.JobSyncData)
	if !ok || data == nil {
		data = &models.JobSyncData{}
		job.DataParsed = data
	}
	opts := ingest.RunOptions{Limit: data.Limit, DryRun: data.DryRun, Resume: data.Resume}

	run := w.runner.RunMetadataSync
	if job.Type == models.JobTypeFileSync {
		run = w.runner.RunFileSync
	}

	log.Info("processing sync job", logger.Data{"limit": opts.Limit, "dry_run": opts.DryRun, "resume": opts.Resume})
	result, runErr := run(ctx, opts)

	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return errors.WithStack(err)
		}
		data.Result = raw
		log.Info("sync job finished", logger.Data{
			"processed": result.Processed,
			"added":     result.Added,
			"updated":   result.Updated,
			"skipped":   result.Skipped,
			"errors":    result.Errors,
		})
	}
	if err := job.MarshalData(); err != nil {
		return err
	}

	return errors.WithStack(runErr)
}
