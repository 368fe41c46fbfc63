package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/docpipe/internal/party/domain"
	pkgdb "github.com/smallbiznis/docpipe/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByTaxID(ctx context.Context, db *gorm.DB, partyType domain.PartyType, normalizedTaxID string) (*domain.Party, error) {
	var party domain.Party
	err := db.WithContext(ctx).
		Where("party_type = ? AND normalized_tax_id = ? AND status = ?", partyType, normalizedTaxID, domain.PartyStatusActive).
		Limit(1).
		Find(&party).Error
	if err != nil {
		return nil, err
	}
	if party.ID == 0 {
		return nil, nil
	}
	return &party, nil
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, partyType domain.PartyType, limit int) ([]*domain.Party, error) {
	if limit <= 0 {
		limit = 50
	}
	var parties []*domain.Party
	err := db.WithContext(ctx).
		Where("party_type = ? AND status = ?", partyType, domain.PartyStatusActive).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&parties).Error
	if err != nil {
		return nil, err
	}
	return parties, nil
}

// UpsertIdempotent relies on the unique (party_type, identity_key) index: the
// insert is a single atomic create-if-absent, never a check-then-insert across
// two round trips.
func (r *repo) UpsertIdempotent(ctx context.Context, db *gorm.DB, party *domain.Party) (*domain.Party, bool, error) {
	if party.IdentityKey == "" {
		return nil, false, domain.ErrInvalidParty
	}

	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "party_type"}, {Name: "identity_key"}},
			DoNothing: true,
		}).
		Create(party)
	// Some dialects still surface the unique violation instead of swallowing
	// it; either way the canonical row below is the answer.
	if res.Error != nil && !pkgdb.IsDuplicateKeyErr(res.Error) {
		return nil, false, res.Error
	}
	created := res.Error == nil && res.RowsAffected > 0

	var canonical domain.Party
	err := db.WithContext(ctx).
		Where("party_type = ? AND identity_key = ?", party.Type, party.IdentityKey).
		Limit(1).
		Find(&canonical).Error
	if err != nil {
		return nil, false, err
	}
	if canonical.ID == 0 {
		return nil, false, domain.ErrNotFound
	}
	return &canonical, created, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Party, error) {
	var party domain.Party
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&party).Error
	if err != nil {
		return nil, err
	}
	if party.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &party, nil
}
