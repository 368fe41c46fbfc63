package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("not_found")
	ErrInvalidDocument = errors.New("invalid_document")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, document *Document) error

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Document, error)

	FindByJobID(ctx context.Context, db *gorm.DB, jobID uuid.UUID) (*Document, error)

	// SetLinkage fills the document's supplier/customer ids, but only where
	// they are still null. A linkage, once written, is never overwritten.
	SetLinkage(ctx context.Context, db *gorm.DB, documentID snowflake.ID, supplierID, customerID *snowflake.ID) error

	// InsertInvoiceLink is idempotent on (document_id, invoice_number).
	InsertInvoiceLink(ctx context.Context, db *gorm.DB, link *InvoiceLink) error
}
