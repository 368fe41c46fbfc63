package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/docpipe/internal/batch"
	batchdomain "github.com/smallbiznis/docpipe/internal/batch/domain"
	"github.com/smallbiznis/docpipe/internal/clock"
	"github.com/smallbiznis/docpipe/internal/config"
	"github.com/smallbiznis/docpipe/internal/document"
	"github.com/smallbiznis/docpipe/internal/extraction"
	"github.com/smallbiznis/docpipe/internal/logger"
	obsmetrics "github.com/smallbiznis/docpipe/internal/observability/metrics"
	"github.com/smallbiznis/docpipe/internal/party"
	"github.com/smallbiznis/docpipe/internal/resolution"
	"github.com/smallbiznis/docpipe/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type runFlags struct {
	concurrency      int
	detectDuplicates bool
	autoLink         bool
	skipCreation     bool
	pollInterval     time.Duration
}

func main() {
	flags := runFlags{}
	flag.IntVar(&flags.concurrency, "concurrency", 0, "max jobs processed at once (0 = default)")
	flag.BoolVar(&flags.detectDuplicates, "detect-duplicates", false, "surface near-match party candidates")
	flag.BoolVar(&flags.autoLink, "auto-link", true, "write per-invoice links")
	flag.BoolVar(&flags.skipCreation, "skip-creation", false, "match parties only, never create")
	flag.DurationVar(&flags.pollInterval, "poll-interval", 500*time.Millisecond, "job status poll interval")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: docpipe [flags] <file> [file ...]")
		os.Exit(2)
	}

	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		party.Module,
		extraction.Module,
		resolution.Module,
		document.Module,
		batch.Module,

		fx.Invoke(func(cfg config.Config) {
			obsmetrics.BatchWithConfig(obsmetrics.Config{
				ServiceName: cfg.AppName,
				Environment: cfg.Environment,
			})
		}),
		fx.Invoke(func(lc fx.Lifecycle, sd fx.Shutdowner, svc batchdomain.Service, log *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go func() {
						code := run(context.Background(), svc, log, files, flags)
						_ = sd.Shutdown(fx.ExitCode(code))
					}()
					return nil
				},
			})
		}),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func run(ctx context.Context, svc batchdomain.Service, log *zap.Logger, files []string, flags runFlags) int {
	documents := make([]batchdomain.RawDocument, 0, len(files))
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			log.Error("read file", zap.String("path", path), zap.Error(err))
			return 1
		}
		documents = append(documents, batchdomain.RawDocument{
			FileName: filepath.Base(path),
			Content:  content,
		})
	}

	ids, err := svc.Submit(ctx, documents, batchdomain.Options{
		MaxConcurrency:       flags.concurrency,
		DetectDuplicates:     flags.detectDuplicates,
		AutoLinkInvoices:     flags.autoLink,
		SkipSupplierCreation: flags.skipCreation,
	})
	if err != nil {
		log.Error("submit batch", zap.Error(err))
		return 1
	}
	log.Info("batch submitted", zap.Int("jobs", len(ids)))

	if err := waitForBatch(ctx, svc, ids, flags.pollInterval); err != nil {
		log.Error("wait for batch", zap.Error(err))
		return 1
	}

	failed := 0
	for _, id := range ids {
		job, err := svc.JobStatus(id)
		if err != nil {
			log.Error("job status", zap.String("job_id", id.String()), zap.Error(err))
			failed++
			continue
		}
		printJob(job)
		if job.Status != batchdomain.JobStatusCompleted {
			failed++
		}
	}

	stats := svc.Statistics()
	fmt.Printf("\n%d jobs: %d completed, %d failed, %d cancelled\n",
		stats.Total, stats.Completed, stats.Failed, stats.Cancelled)

	if failed > 0 {
		return 1
	}
	return 0
}

func waitForBatch(ctx context.Context, svc batchdomain.Service, ids []uuid.UUID, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		pending := false
		for _, id := range ids {
			job, err := svc.JobStatus(id)
			if err != nil {
				return err
			}
			if !job.Status.Terminal() {
				pending = true
				break
			}
		}
		if !pending {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJob(job batchdomain.Job) {
	fmt.Printf("%s  %-10s %3d%%  %s", job.ID, job.Status, job.Progress, job.FileName)
	if job.DocumentID != nil {
		fmt.Printf("  document=%s", job.DocumentID.String())
	}
	if job.InvoiceCount > 0 {
		fmt.Printf("  invoices=%d", job.InvoiceCount)
	}
	if job.Error != "" {
		fmt.Printf("  error=%s", job.Error)
	}
	fmt.Println()
	for _, warning := range job.Warnings {
		fmt.Printf("    warning: %s\n", warning)
	}
}
