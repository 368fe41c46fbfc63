package domain

import "time"

// PartyRef is an unresolved supplier or customer reference extracted from
// document text. It is never persisted directly.
type PartyRef struct {
	Name    string `json:"name,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
	Address string `json:"address,omitempty"`
}

func (r PartyRef) Empty() bool {
	return r.Name == "" && r.TaxID == ""
}

type LineItem struct {
	Description string  `json:"description,omitempty"`
	Quantity    float64 `json:"quantity,omitempty"`
	UnitPrice   float64 `json:"unit_price,omitempty"`
	TaxRate     float64 `json:"tax_rate,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
}

type Totals struct {
	Subtotal  float64 `json:"subtotal"`
	TaxAmount float64 `json:"tax_amount"`
	Total     float64 `json:"total"`
}

// ExtractedInvoice is one invoice pulled out of a document. A single document
// may yield several of these.
type ExtractedInvoice struct {
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	IssueDate     *time.Time `json:"issue_date,omitempty"`
	Supplier      PartyRef   `json:"supplier"`
	Customer      PartyRef   `json:"customer"`
	LineItems     []LineItem `json:"line_items,omitempty"`
	Totals        Totals     `json:"totals"`
	Confidence    float64    `json:"confidence"`
}

// Result is the normalized outcome of one extraction call.
type Result struct {
	Invoices      []ExtractedInvoice `json:"invoices"`
	DocumentType  string             `json:"document_type,omitempty"`
	Confidence    float64            `json:"confidence"`
	LowConfidence bool               `json:"low_confidence,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
}
