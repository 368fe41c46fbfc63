package domain

import (
	"context"

	"github.com/google/uuid"
)

// Service schedules and tracks document processing jobs.
type Service interface {
	// Submit validates the batch, registers one queued job per document and
	// returns the job ids immediately; processing happens asynchronously.
	Submit(ctx context.Context, documents []RawDocument, opts Options) ([]uuid.UUID, error)

	// JobStatus returns a snapshot of one job.
	JobStatus(id uuid.UUID) (Job, error)

	// AllJobs returns a snapshot of every tracked job.
	AllJobs() []Job

	// Statistics aggregates tracked jobs by status.
	Statistics() Statistics

	// CancelJob requests cancellation. It reports false once the job is
	// terminal or its persistence write already committed.
	CancelJob(id uuid.UUID) bool

	// CancelAll cancels every cancellable job and returns how many it reached.
	CancelAll() int

	// Cleanup drops terminal jobs from the registry and returns the count.
	Cleanup() int

	// Wait blocks until every in-flight job reached a terminal state or the
	// context expires.
	Wait(ctx context.Context) error
}
