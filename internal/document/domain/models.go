package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type DocumentStatus string

const (
	DocumentStatusProcessed DocumentStatus = "processed"
)

// Document is the persisted record of one processed file, including the raw
// extraction payload kept as an audit artifact.
type Document struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	JobID         uuid.UUID         `gorm:"type:uuid;not null;index" json:"job_id"`
	FileName      string            `gorm:"not null" json:"file_name"`
	DocumentType  string            `json:"document_type,omitempty"`
	Status        DocumentStatus    `gorm:"not null" json:"status"`
	DocumentDate  *time.Time        `json:"document_date,omitempty"`
	ExtractedData datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"extracted_data,omitempty"`
	TotalAmount   float64           `json:"total_amount"`
	TaxAmount     float64           `json:"tax_amount"`
	SupplierID    *snowflake.ID     `gorm:"index" json:"supplier_id,omitempty"`
	CustomerID    *snowflake.ID     `gorm:"index" json:"customer_id,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null" json:"updated_at"`
}

func (Document) TableName() string {
	return "documents"
}

// InvoiceLink carries per-invoice party attribution for multi-invoice
// documents, where the document-level linkage only records the first pair.
type InvoiceLink struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	DocumentID    snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_invoice_links" json:"document_id"`
	InvoiceNumber string        `gorm:"uniqueIndex:ux_invoice_links" json:"invoice_number,omitempty"`
	SupplierID    *snowflake.ID `json:"supplier_id,omitempty"`
	CustomerID    *snowflake.ID `json:"customer_id,omitempty"`
	InvoiceDate   *time.Time    `json:"invoice_date,omitempty"`
	TotalAmount   float64       `json:"total_amount"`
	TaxAmount     float64       `json:"tax_amount"`
	CreatedAt     time.Time     `gorm:"not null" json:"created_at"`
}

func (InvoiceLink) TableName() string {
	return "invoice_links"
}
