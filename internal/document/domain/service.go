package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	extractiondomain "github.com/smallbiznis/docpipe/internal/extraction/domain"
	resolutiondomain "github.com/smallbiznis/docpipe/internal/resolution/domain"
)

// PersistRequest is the write-back for one completed job. The document id is
// allocated by the caller before resolution so the linkage can reference it.
type PersistRequest struct {
	DocumentID       snowflake.ID
	JobID            uuid.UUID
	FileName         string
	Extraction       extractiondomain.Result
	Linkage          resolutiondomain.Linkage
	AutoLinkInvoices bool
}

type PersistResult struct {
	Document       Document
	InvoiceLinkIDs []snowflake.ID
}

type Service interface {
	// Persist writes the document record, its linkage and, when enabled, the
	// per-invoice links in one transaction.
	Persist(ctx context.Context, req PersistRequest) (PersistResult, error)
}
