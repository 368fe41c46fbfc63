package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/docpipe/internal/document/domain"
	pkgdb "github.com/smallbiznis/docpipe/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, document *domain.Document) error {
	if document.ID == 0 {
		return domain.ErrInvalidDocument
	}
	return db.WithContext(ctx).Create(document).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Document, error) {
	var document domain.Document
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&document).Error
	if err != nil {
		if pkgdb.IsNotFoundErr(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &document, nil
}

func (r *repo) FindByJobID(ctx context.Context, db *gorm.DB, jobID uuid.UUID) (*domain.Document, error) {
	var document domain.Document
	err := db.WithContext(ctx).
		Where("job_id = ?", jobID).
		First(&document).Error
	if err != nil {
		if pkgdb.IsNotFoundErr(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &document, nil
}

// SetLinkage only fills nulls; COALESCE keeps whatever was resolved first.
func (r *repo) SetLinkage(ctx context.Context, db *gorm.DB, documentID snowflake.ID, supplierID, customerID *snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE documents
		 SET supplier_id = COALESCE(supplier_id, ?),
		     customer_id = COALESCE(customer_id, ?)
		 WHERE id = ?`,
		supplierID,
		customerID,
		documentID,
	).Error
}

func (r *repo) InsertInvoiceLink(ctx context.Context, db *gorm.DB, link *domain.InvoiceLink) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "document_id"}, {Name: "invoice_number"}},
			DoNothing: true,
		}).
		Create(link).Error
}
