package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/smallbiznis/docpipe/internal/extraction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Client domain.Client
	Config Config `optional:"true"`
}

type Service struct {
	log    *zap.Logger
	client domain.Client
	cfg    Config
}

func New(p Params) domain.Service {
	return &Service{
		log:    p.Log.Named("extraction.service"),
		client: p.Client,
		cfg:    p.Config.withDefaults(),
	}
}

// Extract drives the provider call with bounded retries and exponential
// backoff, then normalizes whichever payload shape came back into a single
// canonical result. Low confidence and arithmetic drift are surfaced as
// warnings, never as failures.
func (s *Service) Extract(ctx context.Context, raw []byte, fileName string) (domain.Result, error) {
	if len(raw) == 0 {
		return domain.Result{}, domain.ErrEmptyDocument
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Result{}, err
		}

		result, err := s.attempt(ctx, raw, fileName)
		if err == nil {
			s.log.Info("extraction completed",
				zap.String("file", fileName),
				zap.Int("attempt", attempt),
				zap.Int("invoices", len(result.Invoices)),
				zap.Float64("confidence", result.Confidence),
			)
			return result, nil
		}
		if errors.Is(err, context.Canceled) {
			return domain.Result{}, err
		}

		lastErr = err
		s.log.Warn("extraction attempt failed",
			zap.String("file", fileName),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt < s.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return domain.Result{}, ctx.Err()
			case <-time.After(s.backoff(attempt)):
			}
		}
	}

	return domain.Result{}, fmt.Errorf("%w after %d attempts: %v", domain.ErrExtraction, s.cfg.MaxAttempts, lastErr)
}

func (s *Service) attempt(parent context.Context, raw []byte, fileName string) (domain.Result, error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.AttemptTimeout)
	defer cancel()

	payload, err := s.client.ExtractRaw(ctx, raw, fileName)
	if err != nil {
		return domain.Result{}, err
	}

	invoices, docType, providerScore, warnings, err := decodePayload(payload)
	if err != nil {
		return domain.Result{}, err
	}

	result := domain.Result{
		Invoices:     invoices,
		DocumentType: docType,
		Warnings:     warnings,
	}
	result.Confidence = s.confidence(invoices, providerScore)
	for i := range result.Invoices {
		result.Invoices[i].Confidence = result.Confidence
	}

	if result.Confidence < s.cfg.ConfidenceThreshold {
		result.LowConfidence = true
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("low extraction confidence: %.1f%%", result.Confidence*100))
	}

	result.Warnings = append(result.Warnings, s.checkTotals(invoices)...)
	return result, nil
}

func (s *Service) backoff(attempt int) time.Duration {
	delay := s.cfg.BackoffBase << (attempt - 1)
	if delay > s.cfg.BackoffCap {
		delay = s.cfg.BackoffCap
	}
	return delay
}

// confidence prefers the provider-reported score and otherwise falls back to
// a field-completeness heuristic, weighting required fields double.
func (s *Service) confidence(invoices []domain.ExtractedInvoice, providerScore *float64) float64 {
	if providerScore != nil {
		return math.Max(0, math.Min(1, *providerScore))
	}
	if len(invoices) == 0 {
		return 0.2
	}

	var total, completed float64
	for _, inv := range invoices {
		total += 6 // invoice number, issue date, total: double weight
		if inv.InvoiceNumber != "" {
			completed += 2
		}
		if inv.IssueDate != nil {
			completed += 2
		}
		if inv.Totals.Total != 0 {
			completed += 2
		}

		total += 3
		if !inv.Supplier.Empty() {
			completed++
		}
		if !inv.Customer.Empty() {
			completed++
		}
		if inv.Totals.TaxAmount != 0 {
			completed++
		}
	}
	return completed / total
}

// checkTotals validates subtotal + tax against the reported total. A mismatch
// is a warning on the result, not grounds for another attempt.
func (s *Service) checkTotals(invoices []domain.ExtractedInvoice) []string {
	var warnings []string
	for i, inv := range invoices {
		if inv.Totals.Total == 0 || (inv.Totals.Subtotal == 0 && inv.Totals.TaxAmount == 0) {
			continue
		}
		drift := math.Abs(inv.Totals.Subtotal + inv.Totals.TaxAmount - inv.Totals.Total)
		if drift > s.cfg.TotalsTolerance {
			warnings = append(warnings, fmt.Sprintf(
				"invoice %d totals mismatch: subtotal %.2f + tax %.2f != total %.2f",
				i, inv.Totals.Subtotal, inv.Totals.TaxAmount, inv.Totals.Total))
		}
	}
	return warnings
}
