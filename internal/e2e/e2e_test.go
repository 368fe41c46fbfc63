package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	batchdomain "github.com/smallbiznis/docpipe/internal/batch/domain"
	batchservice "github.com/smallbiznis/docpipe/internal/batch/service"
	"github.com/smallbiznis/docpipe/internal/clock"
	"github.com/smallbiznis/docpipe/internal/config"
	documentdomain "github.com/smallbiznis/docpipe/internal/document/domain"
	documentrepository "github.com/smallbiznis/docpipe/internal/document/repository"
	documentservice "github.com/smallbiznis/docpipe/internal/document/service"
	"github.com/smallbiznis/docpipe/internal/extraction/mistral"
	extractionservice "github.com/smallbiznis/docpipe/internal/extraction/service"
	partydomain "github.com/smallbiznis/docpipe/internal/party/domain"
	partyrepository "github.com/smallbiznis/docpipe/internal/party/repository"
	resolutionservice "github.com/smallbiznis/docpipe/internal/resolution/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const providerEnvelope = `{
	"document_type": "invoice",
	"confidence_score": 0.93,
	"detected_invoices": [
		{
			"invoice_number": "F-2024-001",
			"issue_date": "15/03/2024",
			"supplier": {"name": "Acme Suministros S.L.", "nif_cif": "B-12345678"},
			"customer": {"name": "Cliente Industrial SA", "nif": "A-87654321"},
			"base_amount": 100.0,
			"tax_amount": 21.0,
			"total_amount": 121.0
		},
		{
			"invoice_number": "F-2024-002",
			"issue_date": "16/03/2024",
			"supplier": {"name": "Acme Suministros S.L.", "nif_cif": "B-12345678"},
			"customer": {"name": "Cliente Industrial SA", "nif": "A-87654321"},
			"base_amount": 50.0,
			"tax_amount": 10.5,
			"total_amount": 60.5
		}
	]
}`

func newProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "file-e2e"})
	})
	mux.HandleFunc("GET /files/file-e2e/url", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://signed.example/file-e2e"})
	})
	mux.HandleFunc("POST /chat/completions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "```json\n" + providerEnvelope + "\n```"}},
			},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newPipeline(t *testing.T, providerURL string) (batchdomain.Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&partydomain.Party{},
		&documentdomain.Document{},
		&documentdomain.InvoiceLink{},
	))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	clk := clock.NewReal()

	client := mistral.New(mistral.Params{
		Log: log,
		Config: config.Config{
			Mistral: config.MistralConfig{
				APIKey:  "e2e-key",
				BaseURL: providerURL,
				Model:   "mistral-small-latest",
			},
		},
	})
	extractionSvc := extractionservice.New(extractionservice.Params{
		Log:    log,
		Client: client,
	})
	resolutionSvc := resolutionservice.New(resolutionservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  partyrepository.Provide(),
	})
	documentSvc := documentservice.New(documentservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  documentrepository.Provide(),
	})
	batchSvc, err := batchservice.New(batchservice.Params{
		Log:           log,
		Clock:         clk,
		GenID:         node,
		ExtractionSvc: extractionSvc,
		ResolutionSvc: resolutionSvc,
		DocumentSvc:   documentSvc,
	})
	require.NoError(t, err)
	return batchSvc, db
}

func TestPipeline_BatchToPersistedDocuments(t *testing.T) {
	server := newProviderServer(t)
	svc, db := newPipeline(t, server.URL)

	documents := []batchdomain.RawDocument{
		{FileName: "scan-1.pdf", Content: []byte("pdf-one")},
		{FileName: "scan-2.pdf", Content: []byte("pdf-two")},
	}
	ids, err := svc.Submit(context.Background(), documents, batchdomain.Options{
		MaxConcurrency:   2,
		AutoLinkInvoices: true,
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(ctx))

	for _, id := range ids {
		job, err := svc.JobStatus(id)
		require.NoError(t, err)
		assert.Equal(t, batchdomain.JobStatusCompleted, job.Status)
		assert.Equal(t, batchdomain.ProgressPersisted, job.Progress)
		assert.Equal(t, 2, job.InvoiceCount)
		require.NotNil(t, job.DocumentID)
	}

	// Both documents reference the same supplier and customer; racing jobs
	// must converge on a single registry row each.
	var supplierCount, customerCount int64
	require.NoError(t, db.Model(&partydomain.Party{}).
		Where("party_type = ?", partydomain.PartyTypeSupplier).Count(&supplierCount).Error)
	require.NoError(t, db.Model(&partydomain.Party{}).
		Where("party_type = ?", partydomain.PartyTypeCustomer).Count(&customerCount).Error)
	assert.EqualValues(t, 1, supplierCount)
	assert.EqualValues(t, 1, customerCount)

	var supplier partydomain.Party
	require.NoError(t, db.Where("party_type = ?", partydomain.PartyTypeSupplier).First(&supplier).Error)
	assert.Equal(t, "tax:B12345678", supplier.IdentityKey)
	assert.True(t, supplier.AutoCreated)

	var docs []documentdomain.Document
	require.NoError(t, db.Order("file_name").Find(&docs).Error)
	require.Len(t, docs, 2)
	for _, doc := range docs {
		assert.Equal(t, documentdomain.DocumentStatusProcessed, doc.Status)
		assert.InDelta(t, 181.5, doc.TotalAmount, 1e-9)
		require.NotNil(t, doc.SupplierID)
		assert.Equal(t, supplier.ID, *doc.SupplierID)
		require.NotNil(t, doc.CustomerID)
		assert.NotEmpty(t, doc.ExtractedData)
	}

	var linkCount int64
	require.NoError(t, db.Model(&documentdomain.InvoiceLink{}).Count(&linkCount).Error)
	assert.EqualValues(t, 4, linkCount, "two invoices linked per document")
}

func TestPipeline_SkipSupplierCreationLeavesLinkageNull(t *testing.T) {
	server := newProviderServer(t)
	svc, db := newPipeline(t, server.URL)

	ids, err := svc.Submit(context.Background(), []batchdomain.RawDocument{
		{FileName: "scan.pdf", Content: []byte("pdf")},
	}, batchdomain.Options{SkipSupplierCreation: true, AutoLinkInvoices: true})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(ctx))

	job, err := svc.JobStatus(ids[0])
	require.NoError(t, err)
	assert.Equal(t, batchdomain.JobStatusCompleted, job.Status)

	var partyCount int64
	require.NoError(t, db.Model(&partydomain.Party{}).Count(&partyCount).Error)
	assert.EqualValues(t, 0, partyCount)

	var doc documentdomain.Document
	require.NoError(t, db.First(&doc).Error)
	assert.Nil(t, doc.SupplierID)
	assert.Nil(t, doc.CustomerID)

	var linkCount int64
	require.NoError(t, db.Model(&documentdomain.InvoiceLink{}).Count(&linkCount).Error)
	assert.EqualValues(t, 0, linkCount, "no links without a resolved pair")
}
