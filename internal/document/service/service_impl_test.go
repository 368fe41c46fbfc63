package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/docpipe/internal/clock"
	"github.com/smallbiznis/docpipe/internal/document/domain"
	"github.com/smallbiznis/docpipe/internal/document/repository"
	extractiondomain "github.com/smallbiznis/docpipe/internal/extraction/domain"
	resolutiondomain "github.com/smallbiznis/docpipe/internal/resolution/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupDocumentTest(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Document{}, &domain.InvoiceLink{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewReal(),
		Repo:  repository.Provide(),
	})
	return svc, db, node
}

func extractionFixture(issueDate time.Time) extractiondomain.Result {
	return extractiondomain.Result{
		DocumentType: "invoice",
		Confidence:   0.92,
		Invoices: []extractiondomain.ExtractedInvoice{
			{
				InvoiceNumber: "F-001",
				IssueDate:     &issueDate,
				Totals:        extractiondomain.Totals{Subtotal: 100, TaxAmount: 21, Total: 121},
			},
			{
				InvoiceNumber: "F-002",
				Totals:        extractiondomain.Totals{Subtotal: 50, TaxAmount: 10.5, Total: 60.5},
			},
		},
	}
}

func TestPersist_WritesDocumentAndLinks(t *testing.T) {
	svc, db, node := setupDocumentTest(t)
	documentID := node.Generate()
	jobID := uuid.New()
	supplierID := node.Generate()
	issueDate := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	result, err := svc.Persist(context.Background(), domain.PersistRequest{
		DocumentID: documentID,
		JobID:      jobID,
		FileName:   "invoice.pdf",
		Extraction: extractionFixture(issueDate),
		Linkage: resolutiondomain.Linkage{
			DocumentID: documentID,
			SupplierID: &supplierID,
		},
		AutoLinkInvoices: true,
	})
	require.NoError(t, err)

	assert.Equal(t, documentID, result.Document.ID)
	assert.Len(t, result.InvoiceLinkIDs, 2)

	var stored domain.Document
	require.NoError(t, db.Where("id = ?", documentID).First(&stored).Error)
	assert.Equal(t, jobID, stored.JobID)
	assert.Equal(t, domain.DocumentStatusProcessed, stored.Status)
	assert.InDelta(t, 181.5, stored.TotalAmount, 1e-9)
	assert.InDelta(t, 31.5, stored.TaxAmount, 1e-9)
	require.NotNil(t, stored.DocumentDate)
	assert.Equal(t, issueDate, stored.DocumentDate.UTC())
	require.NotNil(t, stored.SupplierID)
	assert.Equal(t, supplierID, *stored.SupplierID)
	assert.Nil(t, stored.CustomerID)
	assert.NotEmpty(t, stored.ExtractedData)

	var links []domain.InvoiceLink
	require.NoError(t, db.Where("document_id = ?", documentID).Order("invoice_number").Find(&links).Error)
	require.Len(t, links, 2)
	assert.Equal(t, "F-001", links[0].InvoiceNumber)
	require.NotNil(t, links[0].SupplierID)
	assert.Equal(t, supplierID, *links[0].SupplierID)
}

func TestPersist_NoAutoLink(t *testing.T) {
	svc, db, node := setupDocumentTest(t)
	documentID := node.Generate()
	supplierID := node.Generate()

	result, err := svc.Persist(context.Background(), domain.PersistRequest{
		DocumentID: documentID,
		JobID:      uuid.New(),
		FileName:   "invoice.pdf",
		Extraction: extractionFixture(time.Now().UTC()),
		Linkage: resolutiondomain.Linkage{
			DocumentID: documentID,
			SupplierID: &supplierID,
		},
	})
	require.NoError(t, err)
	assert.Empty(t, result.InvoiceLinkIDs)

	var count int64
	require.NoError(t, db.Model(&domain.InvoiceLink{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestPersist_UnlinkedDocumentSkipsInvoiceLinks(t *testing.T) {
	svc, db, node := setupDocumentTest(t)
	documentID := node.Generate()

	result, err := svc.Persist(context.Background(), domain.PersistRequest{
		DocumentID:       documentID,
		JobID:            uuid.New(),
		FileName:         "invoice.pdf",
		Extraction:       extractionFixture(time.Now().UTC()),
		Linkage:          resolutiondomain.Linkage{DocumentID: documentID},
		AutoLinkInvoices: true,
	})
	require.NoError(t, err)
	assert.Empty(t, result.InvoiceLinkIDs)

	var stored domain.Document
	require.NoError(t, db.Where("id = ?", documentID).First(&stored).Error)
	assert.Nil(t, stored.SupplierID)
	assert.Nil(t, stored.CustomerID)
}

func TestPersist_RejectsInvalidRequest(t *testing.T) {
	svc, _, node := setupDocumentTest(t)

	_, err := svc.Persist(context.Background(), domain.PersistRequest{
		JobID:    uuid.New(),
		FileName: "invoice.pdf",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)

	_, err = svc.Persist(context.Background(), domain.PersistRequest{
		DocumentID: node.Generate(),
		JobID:      uuid.New(),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)
}

func TestSetLinkage_FillsNullsOnly(t *testing.T) {
	_, db, node := setupDocumentTest(t)
	repo := repository.Provide()
	ctx := context.Background()

	documentID := node.Generate()
	firstSupplier := node.Generate()
	secondSupplier := node.Generate()
	customerID := node.Generate()

	require.NoError(t, db.Create(&domain.Document{
		ID:       documentID,
		JobID:    uuid.New(),
		FileName: "invoice.pdf",
		Status:   domain.DocumentStatusProcessed,
	}).Error)

	require.NoError(t, repo.SetLinkage(ctx, db, documentID, &firstSupplier, nil))
	// Second write must not overwrite the supplier, only fill the customer.
	require.NoError(t, repo.SetLinkage(ctx, db, documentID, &secondSupplier, &customerID))

	var stored domain.Document
	require.NoError(t, db.Where("id = ?", documentID).First(&stored).Error)
	require.NotNil(t, stored.SupplierID)
	assert.Equal(t, firstSupplier, *stored.SupplierID)
	require.NotNil(t, stored.CustomerID)
	assert.Equal(t, customerID, *stored.CustomerID)
}
