package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	JobStatusPending    = "pending"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const (
	JobTypeMetadataSync = "metadata_sync"
	JobTypeFileSync     = "file_sync"
)

type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID         int         `bun:",pk,nullzero" json:"id"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Type       string      `bun:",nullzero" json:"type"`
	Status     string      `bun:",nullzero" json:"status"`
	Data       string      `bun:",nullzero" json:"-"`
	DataParsed interface{} `bun:"-" json:"data"`
	Progress   int         `json:"progress"`
	ProcessID  *string     `json:"process_id,omitempty"`
	Error      *string     `json:"error,omitempty"`
}

func (job *Job) UnmarshalData() error {
	switch job.Type {
	case JobTypeMetadataSync, JobTypeFileSync:
		job.DataParsed = &JobSyncData{}
	default:
		return errors.Errorf("unknown job type %q", job.Type)
	}

	err := json.Unmarshal([]byte(job.Data), job.DataParsed)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// MarshalData serializes DataParsed back into Data.
func (job *Job) MarshalData() error {
	if job.DataParsed == nil {
		return nil
	}
	data, err := json.Marshal(job.DataParsed)
	if err != nil {
		return errors.WithStack(err)
	}
	job.Data = string(data)
	return nil
}

// JobSyncData carries the options of a sync pass and, once the job has run,
// its aggregate result.
type JobSyncData struct {
	Limit  int             `json:"limit"`
	DryRun bool            `json:"dry_run"`
	Resume bool            `json:"resume"`
	Result json.RawMessage `json:"result,omitempty"`
}
