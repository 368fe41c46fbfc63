package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/docpipe/internal/batch/domain"
	"github.com/smallbiznis/docpipe/internal/clock"
	documentdomain "github.com/smallbiznis/docpipe/internal/document/domain"
	extractiondomain "github.com/smallbiznis/docpipe/internal/extraction/domain"
	obsmetrics "github.com/smallbiznis/docpipe/internal/observability/metrics"
	resolutiondomain "github.com/smallbiznis/docpipe/internal/resolution/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	GenID         *snowflake.Node
	ExtractionSvc extractiondomain.Service
	ResolutionSvc resolutiondomain.Service
	DocumentSvc   documentdomain.Service
	Config        Config `optional:"true"`
}

// jobState pairs the visible Job snapshot with the scheduling internals the
// registry needs: the pending payload, the per-job cancel handle and the
// persisting latch that makes the final write uninterruptible.
type jobState struct {
	job        domain.Job
	doc        domain.RawDocument
	opts       domain.Options
	cancel     context.CancelFunc
	persisting bool
}

type Service struct {
	log           *zap.Logger
	cfg           Config
	clock         clock.Clock
	genID         *snowflake.Node
	extractionSvc extractiondomain.Service
	resolutionSvc resolutiondomain.Service
	documentSvc   documentdomain.Service
	tracer        trace.Tracer

	mu    sync.Mutex
	jobs  map[uuid.UUID]*jobState
	order []uuid.UUID
	wg    sync.WaitGroup
}

func New(p Params) (domain.Service, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil || p.ExtractionSvc == nil || p.ResolutionSvc == nil || p.DocumentSvc == nil {
		return nil, domain.ErrInvalidService
	}
	return &Service{
		log:           p.Log.Named("batch.service"),
		cfg:           p.Config.withDefaults(),
		clock:         p.Clock,
		genID:         p.GenID,
		extractionSvc: p.ExtractionSvc,
		resolutionSvc: p.ResolutionSvc,
		documentSvc:   p.DocumentSvc,
		tracer:        otel.Tracer("docpipe/batch"),
		jobs:          make(map[uuid.UUID]*jobState),
	}, nil
}

func (s *Service) Submit(ctx context.Context, documents []domain.RawDocument, opts domain.Options) ([]uuid.UUID, error) {
	if len(documents) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	if len(documents) > s.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d documents, limit %d", domain.ErrBatchTooLarge, len(documents), s.cfg.MaxBatchSize)
	}
	for _, doc := range documents {
		if doc.FileName == "" {
			return nil, domain.ErrEmptyFileName
		}
	}

	concurrency := s.cfg.clampConcurrency(opts.MaxConcurrency)
	submittedAt := s.clock.Now()

	ids := make([]uuid.UUID, 0, len(documents))
	s.mu.Lock()
	for _, doc := range documents {
		id := uuid.New()
		s.jobs[id] = &jobState{
			job: domain.Job{
				ID:          id,
				FileName:    doc.FileName,
				Status:      domain.JobStatusQueued,
				SubmittedAt: submittedAt,
			},
			doc:  doc,
			opts: opts,
		}
		s.order = append(s.order, id)
		ids = append(ids, id)
	}
	s.mu.Unlock()

	obsmetrics.Batch().IncBatchSubmitted()
	s.log.Info("batch accepted",
		zap.Int("documents", len(documents)),
		zap.Int("concurrency", concurrency),
	)

	// Processing outlives the Submit call, so the job context keeps the
	// caller's values but not its cancellation.
	base := context.WithoutCancel(ctx)
	sem := make(chan struct{}, concurrency)
	for _, id := range ids {
		jobCtx, cancel := context.WithCancel(base)
		s.mu.Lock()
		if st, ok := s.jobs[id]; ok {
			st.cancel = cancel
		}
		s.mu.Unlock()

		s.wg.Add(1)
		go func(id uuid.UUID, jobCtx context.Context, cancel context.CancelFunc) {
			defer s.wg.Done()
			defer cancel()
			sem <- struct{}{}
			defer func() { <-sem }()
			s.processJob(jobCtx, id)
		}(id, jobCtx, cancel)
	}
	return ids, nil
}

func (s *Service) processJob(ctx context.Context, id uuid.UUID) {
	claimed, doc, opts := s.claim(id)
	if !claimed {
		return
	}

	ctx, span := s.tracer.Start(ctx, "batch.process",
		trace.WithAttributes(
			attribute.String("job.id", id.String()),
			attribute.String("document.file_name", doc.FileName),
		),
	)
	defer span.End()

	log := s.log.With(
		zap.String("job_id", id.String()),
		zap.String("file_name", doc.FileName),
	)
	log.Info("job claimed")

	extraction, ok := s.extractStage(ctx, id, doc, log)
	if !ok {
		return
	}
	if s.cancelIfRequested(ctx, id, log) {
		return
	}

	documentID := s.genID.Generate()
	resolution, ok := s.resolveStage(ctx, id, documentID, extraction, opts, log)
	if !ok {
		return
	}
	if s.cancelIfRequested(ctx, id, log) {
		return
	}

	s.persistStage(ctx, id, documentID, doc, extraction, resolution, opts, log)
}

// claim flips a queued job to processing. A job cancelled while still queued
// is simply never claimed.
func (s *Service) claim(id uuid.UUID) (bool, domain.RawDocument, domain.Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[id]
	if !ok || st.job.Status != domain.JobStatusQueued {
		return false, domain.RawDocument{}, domain.Options{}
	}
	now := s.clock.Now()
	st.job.Status = domain.JobStatusProcessing
	st.job.StartTime = &now
	st.raiseProgress(domain.ProgressClaimed)
	return true, st.doc, st.opts
}

func (s *Service) extractStage(ctx context.Context, id uuid.UUID, doc domain.RawDocument, log *zap.Logger) (extractiondomain.Result, bool) {
	ctx, span := s.tracer.Start(ctx, "batch.extract")
	defer span.End()

	result, err := s.extractionSvc.Extract(ctx, doc.Content, doc.FileName)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.finishCancelled(id, log)
			return extractiondomain.Result{}, false
		}
		s.finishFailed(id, fmt.Errorf("extract: %w", err), log)
		return extractiondomain.Result{}, false
	}

	s.mu.Lock()
	if st, ok := s.jobs[id]; ok {
		st.raiseProgress(domain.ProgressExtracted)
		st.job.InvoiceCount = len(result.Invoices)
		st.job.Warnings = append(st.job.Warnings, result.Warnings...)
	}
	s.mu.Unlock()

	obsmetrics.Batch().AddInvoicesExtracted(len(result.Invoices))
	log.Info("extraction done",
		zap.Int("invoices", len(result.Invoices)),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("low_confidence", result.LowConfidence),
	)
	return result, true
}

func (s *Service) resolveStage(ctx context.Context, id uuid.UUID, documentID snowflake.ID, extraction extractiondomain.Result, opts domain.Options, log *zap.Logger) (resolutiondomain.Resolution, bool) {
	ctx, span := s.tracer.Start(ctx, "batch.resolve")
	defer span.End()

	resolution, err := s.resolutionSvc.Resolve(ctx, extraction.Invoices, documentID, resolutiondomain.Options{
		SkipCreation:     opts.SkipSupplierCreation,
		DetectDuplicates: opts.DetectDuplicates,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.finishCancelled(id, log)
			return resolutiondomain.Resolution{}, false
		}
		s.finishFailed(id, fmt.Errorf("resolve: %w", err), log)
		return resolutiondomain.Resolution{}, false
	}

	var warnings []string
	for _, op := range resolution.Operations {
		if op.CreatedNew {
			obsmetrics.Batch().IncPartyCreated(string(op.PartyType))
		}
		if op.Error != "" {
			warnings = append(warnings, fmt.Sprintf("resolution %s: %s", op.PartyType, op.Error))
		}
	}
	s.mu.Lock()
	if st, ok := s.jobs[id]; ok {
		st.raiseProgress(domain.ProgressResolved)
		st.job.Warnings = append(st.job.Warnings, warnings...)
	}
	s.mu.Unlock()

	log.Info("resolution done", zap.Int("operations", len(resolution.Operations)))
	return resolution, true
}

func (s *Service) persistStage(ctx context.Context, id uuid.UUID, documentID snowflake.ID, doc domain.RawDocument, extraction extractiondomain.Result, resolution resolutiondomain.Resolution, opts domain.Options, log *zap.Logger) {
	// Latch before writing: a cancel that lost this race is refused, and the
	// write itself runs detached from the job context.
	s.mu.Lock()
	st, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if ctx.Err() != nil {
		s.mu.Unlock()
		s.finishCancelled(id, log)
		return
	}
	st.persisting = true
	s.mu.Unlock()

	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "batch.persist")
	defer span.End()

	result, err := s.documentSvc.Persist(ctx, documentdomain.PersistRequest{
		DocumentID:       documentID,
		JobID:            id,
		FileName:         doc.FileName,
		Extraction:       extraction,
		Linkage:          resolution.Linkage,
		AutoLinkInvoices: opts.AutoLinkInvoices,
	})
	if err != nil {
		s.finishFailed(id, fmt.Errorf("persist: %w", err), log)
		return
	}

	now := s.clock.Now()
	s.mu.Lock()
	if st, ok := s.jobs[id]; ok {
		st.raiseProgress(domain.ProgressPersisted)
		st.job.Status = domain.JobStatusCompleted
		st.job.DocumentID = &result.Document.ID
		st.job.EndTime = &now
	}
	s.mu.Unlock()

	obsmetrics.Batch().IncJobFinished(string(domain.JobStatusCompleted))
	s.observeDuration(id)
	log.Info("job completed",
		zap.String("document_id", result.Document.ID.String()),
		zap.Int("invoice_links", len(result.InvoiceLinkIDs)),
	)
}

func (s *Service) cancelIfRequested(ctx context.Context, id uuid.UUID, log *zap.Logger) bool {
	if ctx.Err() == nil {
		return false
	}
	s.finishCancelled(id, log)
	return true
}

func (s *Service) finishFailed(id uuid.UUID, err error, log *zap.Logger) {
	now := s.clock.Now()
	s.mu.Lock()
	st, ok := s.jobs[id]
	if !ok || st.job.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	st.job.Status = domain.JobStatusFailed
	st.job.Error = err.Error()
	st.job.EndTime = &now
	s.mu.Unlock()
	obsmetrics.Batch().IncJobFinished(string(domain.JobStatusFailed))
	s.observeDuration(id)
	log.Warn("job failed", zap.Error(err))
}

func (s *Service) finishCancelled(id uuid.UUID, log *zap.Logger) {
	now := s.clock.Now()
	s.mu.Lock()
	st, ok := s.jobs[id]
	if !ok || st.job.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	st.job.Status = domain.JobStatusCancelled
	st.job.EndTime = &now
	s.mu.Unlock()
	obsmetrics.Batch().IncJobFinished(string(domain.JobStatusCancelled))
	s.observeDuration(id)
	log.Info("job cancelled")
}

func (s *Service) observeDuration(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[id]
	if !ok || st.job.StartTime == nil || st.job.EndTime == nil {
		return
	}
	obsmetrics.Batch().ObserveJobDuration(st.job.EndTime.Sub(*st.job.StartTime))
}

func (s *Service) JobStatus(id uuid.UUID) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return st.snapshot(), nil
}

func (s *Service) AllJobs() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]domain.Job, 0, len(s.order))
	for _, id := range s.order {
		if st, ok := s.jobs[id]; ok {
			jobs = append(jobs, st.snapshot())
		}
	}
	return jobs
}

func (s *Service) Statistics() domain.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.Statistics{Total: len(s.jobs)}
	for _, st := range s.jobs {
		switch st.job.Status {
		case domain.JobStatusQueued:
			stats.Queued++
		case domain.JobStatusProcessing:
			stats.Processing++
		case domain.JobStatusCompleted:
			stats.Completed++
		case domain.JobStatusFailed:
			stats.Failed++
		case domain.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

func (s *Service) CancelJob(id uuid.UUID) bool {
	s.mu.Lock()
	st, ok := s.jobs[id]
	if !ok || st.job.Status.Terminal() || st.persisting {
		s.mu.Unlock()
		return false
	}

	if st.job.Status == domain.JobStatusQueued {
		now := s.clock.Now()
		st.job.Status = domain.JobStatusCancelled
		st.job.EndTime = &now
		cancel := st.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		obsmetrics.Batch().IncJobFinished(string(domain.JobStatusCancelled))
		return true
	}

	// Processing: signal the job context; the worker observes it at the next
	// stage boundary and records the terminal state itself.
	cancel := st.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

func (s *Service) CancelAll() int {
	s.mu.Lock()
	ids := make([]uuid.UUID, 0, len(s.jobs))
	for id, st := range s.jobs {
		if !st.job.Status.Terminal() && !st.persisting {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	cancelled := 0
	for _, id := range ids {
		if s.CancelJob(id) {
			cancelled++
		}
	}
	return cancelled
}

func (s *Service) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		st, ok := s.jobs[id]
		if !ok {
			continue
		}
		if st.job.Status.Terminal() {
			delete(s.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (st *jobState) raiseProgress(milestone int) {
	if milestone > st.job.Progress {
		st.job.Progress = milestone
	}
}

func (st *jobState) snapshot() domain.Job {
	job := st.job
	if len(st.job.Warnings) > 0 {
		job.Warnings = append([]string(nil), st.job.Warnings...)
	}
	return job
}
