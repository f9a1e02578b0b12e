package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/shishobooks/shelfsync/pkg/config"
	"github.com/shishobooks/shelfsync/pkg/ingest"
	"github.com/shishobooks/shelfsync/pkg/jobs"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/uptrace/bun"
)

var processID = randStringBytes(8)

const pollInterval = 5 * time.Second

// Runner runs sync passes. *ingest.Orchestrator satisfies it.
type Runner interface {
	RunMetadataSync(ctx context.Context, opts ingest.RunOptions) (*ingest.Result, error)
	RunFileSync(ctx context.Context, opts ingest.RunOptions) (*ingest.Result, error)
}

type Worker struct {
	config *config.Config
	log    logger.Logger

	processFuncs map[string]func(ctx context.Context, job *models.Job) error

	jobService *jobs.Service
	runner     Runner

	queue          chan *models.Job
	shutdown       chan struct{}
	doneFetching   chan struct{}
	doneProcessing chan struct{}
}

func New(cfg *config.Config, db *bun.DB, runner Runner) *Worker {
	w := &Worker{
		config: cfg,
		log:    logger.New(),

		jobService: jobs.NewService(db),
		runner:     runner,

		queue:          make(chan *models.Job, cfg.WorkerProcesses),
		shutdown:       make(chan struct{}),
		doneFetching:   make(chan struct{}),
		doneProcessing: make(chan struct{}, cfg.WorkerProcesses),
	}

	w.processFuncs = map[string]func(ctx context.Context, job *models.Job) error{
		models.JobTypeMetadataSync: w.ProcessSyncJob,
		models.JobTypeFileSync:     w.ProcessSyncJob,
	}

	return w
}

func (w *Worker) Start() {
	go w.fetchJobs()
	for i := 0; i < w.config.WorkerProcesses; i++ {
		go w.processJobs()
	}
}

func (w *Worker) fetchJobs() {
	timer := time.NewTimer(pollInterval)

	for {
		select {
		case <-w.shutdown:
			// We're shutting down, so stop adding more jobs to the queue.
			w.doneFetching <- struct{}{}
			return
		case <-timer.C:
			j, err := w.jobService.ListJobs(context.Background(), jobs.ListJobsOptions{
				Limit:              pointerutil.Int(1),
				Statuses:           []string{models.JobStatusPending, models.JobStatusInProgress},
				ProcessIDToExclude: &processID,
			})
			if err != nil {
				w.log.Err(err).Error("list jobs error")
				timer.Reset(pollInterval)
				continue
			}
			for _, job := range j {
				select {
				case w.queue <- job:
				case <-w.shutdown:
				}
			}
			timer.Reset(pollInterval)
		}
	}
}

func (w *Worker) processJobs() {
	for {
		select {
		case <-w.shutdown:
			w.doneProcessing <- struct{}{}
			return
		case job := <-w.queue:
			w.processJob(job)
		}
	}
}

// processJob claims job, runs it and records how it ended.
func (w *Worker) processJob(job *models.Job) {
	// Prep the context to be passed down to the process function.
	id, err := uuid.NewRandom()
	if err != nil {
		w.log.Err(err).Error("new uuid error")
		return
	}
	log := w.log.ID(id.String()).Root(logger.Data{"job_id": job.ID, "type": job.Type, "process_id": processID})
	ctx := log.WithContext(context.Background())

	// Update job to be in progress and claimed by this process.
	job.Status = models.JobStatusInProgress
	job.ProcessID = &processID

	err = w.jobService.UpdateJob(ctx, job, jobs.UpdateJobOptions{
		Columns: []string{"status", "process_id"},
	})
	if err != nil {
		log.Err(err).Error("update job error")
		return
	}

	fn, ok := w.processFuncs[job.Type]
	if !ok {
		log.Error("can't find process function for type")
		return
	}

	columns := []string{"status", "data"}
	job.Status = models.JobStatusCompleted
	if err := fn(ctx, job); err != nil {
		log.Err(err).Error("process error")
		msg := err.Error()
		job.Status = models.JobStatusFailed
		job.Error = &msg
		columns = append(columns, "error")
	}

	// Mark the job as finished so that it's not picked up anymore.
	err = w.jobService.UpdateJob(ctx, job, jobs.UpdateJobOptions{Columns: columns})
	if err != nil {
		log.Err(err).Error("update job error")
	}
}

func (w *Worker) Shutdown() {
	close(w.shutdown)

	<-w.doneFetching
	for i := 0; i < w.config.WorkerProcesses; i++ {
		<-w.doneProcessing
	}
}

const letterBytes = "abcdef0123456789"

func randStringBytes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letterBytes[rand.Intn(len(letterBytes))]
	}
	return string(b)
}
