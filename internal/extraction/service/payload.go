package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/smallbiznis/docpipe/internal/extraction/domain"
)

// The provider answers in one of two shapes: an envelope with a
// detected_invoices array, or a flat single-invoice object. Both are decoded
// into the same canonical list.
type envelopePayload struct {
	DetectedInvoices []json.RawMessage `json:"detected_invoices"`
	DocumentType     string            `json:"document_type"`
	ConfidenceScore  *float64          `json:"confidence_score"`
}

type invoicePayload struct {
	InvoiceNumber string             `json:"invoice_number"`
	IssueDate     string             `json:"issue_date"`
	Supplier      partyPayload       `json:"supplier"`
	Customer      partyPayload       `json:"customer"`
	LineItems     []lineItemPayload  `json:"line_items"`
	BaseAmount    float64            `json:"base_amount"`
	TaxAmount     float64            `json:"tax_amount"`
	TotalAmount   float64            `json:"total_amount"`
}

type partyPayload struct {
	Name    string `json:"name"`
	NIF     string `json:"nif"`
	NIFCIF  string `json:"nif_cif"`
	Address string `json:"address"`
}

type lineItemPayload struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TaxRate     float64 `json:"tax_rate"`
	Amount      float64 `json:"amount"`
}

var jsonFenceRe = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// salvageJSON trims the provider response down to the JSON object it
// contains. Responses regularly arrive wrapped in a markdown fence or
// surrounded by prose.
func salvageJSON(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if m := jsonFenceRe.FindSubmatch(trimmed); m != nil {
		return bytes.TrimSpace(m[1])
	}
	start := bytes.IndexByte(trimmed, '{')
	end := bytes.LastIndexByte(trimmed, '}')
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}

// decodePayload normalizes the raw provider payload into invoices plus
// warnings for entries that could not be decoded. A payload that contains no
// decodable JSON at all returns an error.
func decodePayload(raw []byte) ([]domain.ExtractedInvoice, string, *float64, []string, error) {
	cleaned := salvageJSON(raw)

	var envelope envelopePayload
	if err := json.Unmarshal(cleaned, &envelope); err != nil {
		return nil, "", nil, nil, fmt.Errorf("decode extraction payload: %w", err)
	}

	var warnings []string
	var invoices []domain.ExtractedInvoice

	if envelope.DetectedInvoices != nil {
		for i, entry := range envelope.DetectedInvoices {
			var payload invoicePayload
			if err := json.Unmarshal(entry, &payload); err != nil {
				warnings = append(warnings, fmt.Sprintf("invoice entry %d malformed: %v", i, err))
				continue
			}
			invoices = append(invoices, payload.toInvoice())
		}
		return invoices, envelope.DocumentType, envelope.ConfidenceScore, warnings, nil
	}

	// Flat single-invoice object.
	var payload invoicePayload
	if err := json.Unmarshal(cleaned, &payload); err != nil {
		return nil, "", nil, nil, fmt.Errorf("decode extraction payload: %w", err)
	}
	if payload.empty() {
		return nil, envelope.DocumentType, envelope.ConfidenceScore, warnings, nil
	}
	return []domain.ExtractedInvoice{payload.toInvoice()}, envelope.DocumentType, envelope.ConfidenceScore, warnings, nil
}

func (p invoicePayload) empty() bool {
	return p.InvoiceNumber == "" &&
		p.Supplier.Name == "" && p.Supplier.NIF == "" && p.Supplier.NIFCIF == "" &&
		p.Customer.Name == "" && p.Customer.NIF == "" && p.Customer.NIFCIF == "" &&
		p.TotalAmount == 0
}

func (p invoicePayload) toInvoice() domain.ExtractedInvoice {
	inv := domain.ExtractedInvoice{
		InvoiceNumber: p.InvoiceNumber,
		IssueDate:     parseDate(p.IssueDate),
		Supplier:      p.Supplier.toRef(),
		Customer:      p.Customer.toRef(),
		Totals: domain.Totals{
			Subtotal:  p.BaseAmount,
			TaxAmount: p.TaxAmount,
			Total:     p.TotalAmount,
		},
	}
	for _, item := range p.LineItems {
		inv.LineItems = append(inv.LineItems, domain.LineItem(item))
	}
	return inv
}

func (p partyPayload) toRef() domain.PartyRef {
	taxID := p.NIFCIF
	if taxID == "" {
		taxID = p.NIF
	}
	return domain.PartyRef{
		Name:    p.Name,
		TaxID:   taxID,
		Address: p.Address,
	}
}

// parseDate accepts the ISO and DD/MM/YYYY forms the provider emits. Anything
// else is dropped rather than guessed at.
func parseDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", "02/01/2006", "2/1/2006", "02/01/06"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
