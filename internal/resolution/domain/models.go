package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	extractiondomain "github.com/smallbiznis/docpipe/internal/extraction/domain"
	partydomain "github.com/smallbiznis/docpipe/internal/party/domain"
)

var (
	// ErrResolution marks a party lookup or creation that failed after its
	// retry. It is recorded per operation; resolution itself keeps going.
	ErrResolution = errors.New("resolution_failed")
)

type MatchMethod string

const (
	MatchMethodTaxIDExact  MatchMethod = "taxid_exact"
	MatchMethodNameFuzzy   MatchMethod = "name_fuzzy"
	MatchMethodAutoCreated MatchMethod = "auto_created"
	MatchMethodNone        MatchMethod = "none"
)

// Linkage binds a document to its resolved supplier and customer. Fields are
// only ever filled once: the first resolved pair wins.
type Linkage struct {
	DocumentID snowflake.ID  `json:"document_id"`
	SupplierID *snowflake.ID `json:"supplier_id,omitempty"`
	CustomerID *snowflake.ID `json:"customer_id,omitempty"`
}

// MatchResult records one attempted party resolution.
type MatchResult struct {
	PartyType           partydomain.PartyType `json:"party_type"`
	PartyID             *snowflake.ID         `json:"party_id,omitempty"`
	Method              MatchMethod           `json:"method"`
	Confidence          float64               `json:"confidence"`
	CreatedNew          bool                  `json:"created_new"`
	Input               string                `json:"input,omitempty"`
	DuplicateCandidates []string              `json:"duplicate_candidates,omitempty"`
	Error               string                `json:"error,omitempty"`
}

type Options struct {
	// SkipCreation restricts resolution to matching; unmatched refs leave the
	// linkage field null instead of creating a party.
	SkipCreation bool
	// DetectDuplicates surfaces near-match candidates on each operation.
	DetectDuplicates bool
}

// Resolution is the outcome for one document: the linkage plus the operations
// log for every party reference that was considered.
type Resolution struct {
	Linkage    Linkage       `json:"linkage"`
	Operations []MatchResult `json:"operations"`
}

type Service interface {
	Resolve(ctx context.Context, invoices []extractiondomain.ExtractedInvoice, documentID snowflake.ID, opts Options) (Resolution, error)
}
