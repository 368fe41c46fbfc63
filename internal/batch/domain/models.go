package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	ErrEmptyBatch     = errors.New("empty_batch")
	ErrBatchTooLarge  = errors.New("batch_too_large")
	ErrJobNotFound    = errors.New("job_not_found")
	ErrEmptyFileName  = errors.New("empty_file_name")
	ErrInvalidService = errors.New("invalid_service")
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs never change
// again and are the only jobs Cleanup removes.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Progress milestones crossed as a job moves through the pipeline. Progress
// only ever increases.
const (
	ProgressClaimed   = 10
	ProgressExtracted = 50
	ProgressResolved  = 90
	ProgressPersisted = 100
)

// RawDocument is one submitted file: name plus its raw bytes.
type RawDocument struct {
	FileName string
	Content  []byte
}

// Options tunes one batch. The zero value asks for the defaults.
type Options struct {
	// MaxConcurrency bounds simultaneously processing jobs. Zero means the
	// configured default; values above the hard ceiling are clamped.
	MaxConcurrency int
	// DetectDuplicates surfaces near-match party candidates during resolution.
	DetectDuplicates bool
	// AutoLinkInvoices writes per-invoice links alongside the document record.
	AutoLinkInvoices bool
	// SkipSupplierCreation restricts resolution to matching only; unmatched
	// parties leave the linkage null instead of creating a record.
	SkipSupplierCreation bool
}

// Job is the externally visible state of one document's run. Snapshots are
// returned by value so callers never observe a mutation in flight.
type Job struct {
	ID           uuid.UUID     `json:"id"`
	FileName     string        `json:"file_name"`
	Status       JobStatus     `json:"status"`
	Progress     int           `json:"progress"`
	Error        string        `json:"error,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	DocumentID   *snowflake.ID `json:"document_id,omitempty"`
	InvoiceCount int           `json:"invoice_count"`
	SubmittedAt  time.Time     `json:"submitted_at"`
	StartTime    *time.Time    `json:"start_time,omitempty"`
	EndTime      *time.Time    `json:"end_time,omitempty"`
}

// Statistics aggregates the registry by status.
type Statistics struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}
