package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidParty = errors.New("invalid_party")
	ErrNotFound     = errors.New("not_found")
)

type Repository interface {
	// FindByTaxID returns the active party with the given normalized tax id,
	// or nil when none exists.
	FindByTaxID(ctx context.Context, db *gorm.DB, partyType PartyType, normalizedTaxID string) (*Party, error)

	// FindActive lists the most recently created active parties of a type,
	// bounded by limit. Callers score candidates for fuzzy name matching.
	FindActive(ctx context.Context, db *gorm.DB, partyType PartyType, limit int) ([]*Party, error)

	// UpsertIdempotent inserts the party unless a row with the same identity
	// key already exists, and returns the canonical row either way along with
	// whether a new row was created. Racing callers converge to a single row.
	UpsertIdempotent(ctx context.Context, db *gorm.DB, party *Party) (*Party, bool, error)

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Party, error)
}
