package ingest

const (
	StatusAdded   = "added"
	StatusUpdated = "updated"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

const (
	ReasonAlreadyProcessed    = "already_processed"
	ReasonEntryAlreadyHasFile = "entry_already_has_file"
	ReasonNoDocument          = "no_document"
	ReasonNoMatch             = "no_match"
	ReasonAmbiguousMatch      = "ambiguous_match"
	ReasonSeriesCreated       = "series created"
	ReasonSeriesReplaced      = "series composition replaced"
	ReasonFileAttached        = "file attached"
)

// RunOptions controls a single pass.
type RunOptions struct {
	// Limit caps the number of items that weren't processed before. Zero
	// means no limit.
	Limit int `json:"limit"`
	// DryRun computes decisions only: nothing is downloaded or written.
	DryRun bool `json:"dry_run"`
	// Resume starts below the stored cursor instead of at the newest item.
	Resume bool `json:"resume"`
}

type Detail struct {
	SourceItemID   int    `json:"source_item_id"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	CatalogEntryID *int   `json:"catalog_entry_id,omitempty"`
}

type Result struct {
	Processed int       `json:"processed"`
	Added     int       `json:"added"`
	Updated   int       `json:"updated"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	DryRun    bool      `json:"dry_run"`
	Details   []*Detail `json:"details"`
}

func (r *Result) add(d *Detail) {
	r.Processed++
	switch d.Status {
	case StatusAdded:
		r.Added++
	case StatusUpdated:
		r.Updated++
	case StatusSkipped:
		r.Skipped++
	case StatusError:
		r.Errors++
	}
	r.Details = append(r.Details, d)
}
