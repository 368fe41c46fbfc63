package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/docpipe/internal/extraction/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type clientStub struct {
	responses []func() ([]byte, error)
	calls     int
}

func (c *clientStub) ExtractRaw(ctx context.Context, raw []byte, fileName string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	return c.responses[idx]()
}

func respond(payload string) func() ([]byte, error) {
	return func() ([]byte, error) { return []byte(payload), nil }
}

func fail(err error) func() ([]byte, error) {
	return func() ([]byte, error) { return nil, err }
}

func newTestService(client domain.Client) domain.Service {
	return New(Params{
		Log:    zap.NewNop(),
		Client: client,
		Config: Config{
			BackoffBase: time.Millisecond,
			BackoffCap:  2 * time.Millisecond,
		},
	})
}

const envelopePayloadJSON = `{
	"document_type": "invoice",
	"detected_invoices": [
		{
			"invoice_number": "F-2024-001",
			"issue_date": "2024-03-15",
			"supplier": {"name": "Acme S.L.", "nif_cif": "B-12345678"},
			"customer": {"name": "Cliente SA", "nif": "A-87654321"},
			"base_amount": 100.0,
			"tax_amount": 21.0,
			"total_amount": 121.0
		}
	]
}`

func TestExtract_EmptyDocument(t *testing.T) {
	svc := newTestService(&clientStub{responses: []func() ([]byte, error){respond("{}")}})
	_, err := svc.Extract(context.Background(), nil, "empty.pdf")
	assert.ErrorIs(t, err, domain.ErrEmptyDocument)
}

func TestExtract_EnvelopePayload(t *testing.T) {
	svc := newTestService(&clientStub{responses: []func() ([]byte, error){respond(envelopePayloadJSON)}})

	result, err := svc.Extract(context.Background(), []byte("pdf-bytes"), "invoice.pdf")
	require.NoError(t, err)

	require.Len(t, result.Invoices, 1)
	inv := result.Invoices[0]
	assert.Equal(t, "F-2024-001", inv.InvoiceNumber)
	require.NotNil(t, inv.IssueDate)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), *inv.IssueDate)
	assert.Equal(t, "B-12345678", inv.Supplier.TaxID)
	assert.Equal(t, "A-87654321", inv.Customer.TaxID)
	assert.Equal(t, "invoice", result.DocumentType)
	assert.False(t, result.LowConfidence)
	assert.Empty(t, result.Warnings)
}

func TestExtract_MarkdownFenceSalvage(t *testing.T) {
	fenced := "Here is the structured output:\n```json\n" + envelopePayloadJSON + "\n```\nLet me know if you need anything else."
	svc := newTestService(&clientStub{responses: []func() ([]byte, error){respond(fenced)}})

	result, err := svc.Extract(context.Background(), []byte("pdf-bytes"), "invoice.pdf")
	require.NoError(t, err)
	require.Len(t, result.Invoices, 1)
	assert.Equal(t, "F-2024-001", result.Invoices[0].InvoiceNumber)
}

func TestExtract_FlatSingleInvoicePayload(t *testing.T) {
	flat := `{
		"invoice_number": "F-9",
		"issue_date": "15/03/2024",
		"supplier": {"name": "Acme S.L."},
		"customer": {"name": "Cliente SA"},
		"total_amount": 50.0,
		"tax_amount": 8.68
	}`
	svc := newTestService(&clientStub{responses: []func() ([]byte, error){respond(flat)}})

	result, err := svc.Extract(context.Background(), []byte("pdf-bytes"), "invoice.pdf")
	require.NoError(t, err)
	require.Len(t, result.Invoices, 1)
	require.NotNil(t, result.Invoices[0].IssueDate)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), *result.Invoices[0].IssueDate)
}

func TestExtract_PartialSuccessKeepsValidEntries(t *testing.T) {
	mixed := `{
		"detected_invoices": [
			{"invoice_number": "F-1", "issue_date": "2024-01-01", "total_amount": 10},
			"not an object",
			{"invoice_number": "F-2", "issue_date": "2024-01-02", "total_amount": 20},
			{"invoice_number": "F-3", "issue_date": "2024-01-03", "total_amount": 30}
		]
	}`
	svc := newTestService(&clientStub{responses: []func() ([]byte, error){respond(mixed)}})

	result, err := svc.Extract(context.Background(), []byte("pdf-bytes"), "multi.pdf")
	require.NoError(t, err)

	require.Len(t, result.Invoices, 3)
	assert.Equal(t, "F-1", result.Invoices[0].InvoiceNumber)
	assert.Equal(t, "F-3", result.Invoices[2].InvoiceNumber)

	found := false
	for _, warning := range result.Warnings {
		if strings.Contains(warning, "malformed") {
			found = true
		}
	}
	assert.True(t, found, "malformed entry must surface as a warning")
}

func TestExtract_RetriesThenSucceeds(t *testing.T) {
	stub := &clientStub{responses: []func() ([]byte, error){
		fail(errors.New("rate limited")),
		fail(errors.New("rate limited")),
		respond(envelopePayloadJSON),
	}}
	svc := newTestService(stub)

	result, err := svc.Extract(context.Background(), []byte("pdf-bytes"), "invoice.pdf")
	require.NoError(t, err)
	assert.Equal(t, 3, stub.calls)
	require.Len(t, result.Invoices, 1)
}

func TestExtract_FailsAfterMaxAttempts(t *testing.T) {
	stub := &clientStub{responses: []func() ([]byte, error){fail(errors.New("provider down"))}}
	svc := newTestService(stub)

	_, err := svc.Extract(context.Background(), []byte("pdf-bytes"), "invoice.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExtraction)
	assert.Equal(t, 3, stub.calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestExtract_UndecodablePayloadRetries(t *testing.T) {
	stub := &clientStub{responses: []func() ([]byte, error){respond("I could not read this document, sorry.")}}
	svc := newTestService(stub)

	_, err := svc.Extract(context.Background(), []byte("pdf-bytes"), "invoice.pdf")
	assert.ErrorIs(t, err, domain.ErrExtraction)
	assert.Equal(t, 3, stub.calls)
}

func TestExtract_CancellationAbortsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stub := &clientStub{responses: []func() ([]byte, error){respond(envelopePayloadJSON)}}
	svc := newTestService(stub)

	_, err := svc.Extract(ctx, []byte("pdf-bytes"), "invoice.pdf")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, stub.calls)
}

func TestExtract_ProviderConfidencePreferred(t *testing.T) {
	payload := `{"confidence_score": 0.42, "detected_invoices": [{"invoice_number": "F-1", "issue_date": "2024-01-01", "total_amount": 10}]}`
	svc := newTestService(&clientStub{responses: []func() ([]byte, error){respond(payload)}})

	result, err := svc.Extract(context.Background(), []byte("pdf-bytes"), "invoice.pdf")
	require.NoError(t, err)
	assert.InDelta(t, 0.42, result.Confidence, 1e-9)
	assert.True(t, result.LowConfidence)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "low extraction confidence")
}

func TestExtract_HeuristicConfidence(t *testing.T) {
	// Complete invoice: all weighted fields present.
	svc := newTestService(&clientStub{responses: []func() ([]byte, error){respond(envelopePayloadJSON)}})
	result, err := svc.Extract(context.Background(), []byte("pdf-bytes"), "invoice.pdf")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)

	// Bare invoice: only the invoice number.
	bare := `{"detected_invoices": [{"invoice_number": "F-1"}]}`
	svc = newTestService(&clientStub{responses: []func() ([]byte, error){respond(bare)}})
	result, err = svc.Extract(context.Background(), []byte("pdf-bytes"), "invoice.pdf")
	require.NoError(t, err)
	assert.InDelta(t, 2.0/9.0, result.Confidence, 1e-9)
	assert.True(t, result.LowConfidence)
}

func TestExtract_TotalsMismatchWarns(t *testing.T) {
	payload := `{"detected_invoices": [{
		"invoice_number": "F-1",
		"issue_date": "2024-01-01",
		"supplier": {"name": "Acme"},
		"customer": {"name": "Cliente"},
		"base_amount": 100.0,
		"tax_amount": 21.0,
		"total_amount": 130.0
	}]}`
	svc := newTestService(&clientStub{responses: []func() ([]byte, error){respond(payload)}})

	result, err := svc.Extract(context.Background(), []byte("pdf-bytes"), "invoice.pdf")
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "totals mismatch")
}
