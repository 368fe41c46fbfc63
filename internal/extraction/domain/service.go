package domain

import (
	"context"
	"errors"
)

var (
	// ErrExtraction is returned once every attempt against the extraction
	// provider has been exhausted or the final payload was unusable.
	ErrExtraction = errors.New("extraction_failed")

	ErrEmptyDocument = errors.New("empty_document")
)

// Client is the external OCR/LLM collaborator. It returns the provider's raw
// payload; shape normalization happens in the orchestrator.
type Client interface {
	ExtractRaw(ctx context.Context, raw []byte, fileName string) ([]byte, error)
}

// Service orchestrates extraction calls with retries, per-attempt timeouts
// and payload normalization.
type Service interface {
	Extract(ctx context.Context, raw []byte, fileName string) (Result, error)
}
