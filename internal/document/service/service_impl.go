package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/docpipe/internal/clock"
	"github.com/smallbiznis/docpipe/internal/document/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("document.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Persist(ctx context.Context, req domain.PersistRequest) (domain.PersistResult, error) {
	if req.DocumentID == 0 || req.FileName == "" {
		return domain.PersistResult{}, domain.ErrInvalidDocument
	}

	var totalAmount, taxAmount float64
	for _, invoice := range req.Extraction.Invoices {
		totalAmount += invoice.Totals.Total
		taxAmount += invoice.Totals.TaxAmount
	}

	now := s.clock.Now()
	document := domain.Document{
		ID:            req.DocumentID,
		JobID:         req.JobID,
		FileName:      req.FileName,
		DocumentType:  req.Extraction.DocumentType,
		Status:        domain.DocumentStatusProcessed,
		DocumentDate:  documentDate(req),
		ExtractedData: extractionPayload(req),
		TotalAmount:   totalAmount,
		TaxAmount:     taxAmount,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var linkIDs []snowflake.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &document); err != nil {
			return err
		}
		if err := s.repo.SetLinkage(ctx, tx, document.ID, req.Linkage.SupplierID, req.Linkage.CustomerID); err != nil {
			return err
		}

		if !req.AutoLinkInvoices {
			return nil
		}
		if req.Linkage.SupplierID == nil && req.Linkage.CustomerID == nil {
			return nil
		}
		for _, invoice := range req.Extraction.Invoices {
			link := domain.InvoiceLink{
				ID:            s.genID.Generate(),
				DocumentID:    document.ID,
				InvoiceNumber: invoice.InvoiceNumber,
				SupplierID:    req.Linkage.SupplierID,
				CustomerID:    req.Linkage.CustomerID,
				InvoiceDate:   invoice.IssueDate,
				TotalAmount:   invoice.Totals.Total,
				TaxAmount:     invoice.Totals.TaxAmount,
				CreatedAt:     now,
			}
			if err := s.repo.InsertInvoiceLink(ctx, tx, &link); err != nil {
				return err
			}
			linkIDs = append(linkIDs, link.ID)
		}
		return nil
	})
	if err != nil {
		return domain.PersistResult{}, err
	}

	document.SupplierID = req.Linkage.SupplierID
	document.CustomerID = req.Linkage.CustomerID

	s.log.Info("document persisted",
		zap.String("document_id", document.ID.String()),
		zap.String("job_id", req.JobID.String()),
		zap.Int("invoice_links", len(linkIDs)),
	)
	return domain.PersistResult{Document: document, InvoiceLinkIDs: linkIDs}, nil
}

func documentDate(req domain.PersistRequest) *time.Time {
	for _, invoice := range req.Extraction.Invoices {
		if invoice.IssueDate != nil {
			return invoice.IssueDate
		}
	}
	return nil
}

// extractionPayload round-trips the result through JSON so the stored audit
// artifact has the same shape callers see.
func extractionPayload(req domain.PersistRequest) datatypes.JSONMap {
	payload := datatypes.JSONMap{}
	raw, err := json.Marshal(req.Extraction)
	if err != nil {
		return payload
	}
	_ = json.Unmarshal(raw, (*map[string]any)(&payload))
	return payload
}
