package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PartyType string

const (
	PartyTypeSupplier PartyType = "supplier"
	PartyTypeCustomer PartyType = "customer"
)

type PartyStatus string

const (
	PartyStatusActive   PartyStatus = "active"
	PartyStatusArchived PartyStatus = "archived"
)

// Party is a canonical supplier or customer record in the registry.
// Identity is enforced by the unique (party_type, identity_key) index:
// identity_key is derived from the normalized tax id, falling back to the
// normalized name when no tax id was extracted.
type Party struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	Type            PartyType    `gorm:"column:party_type;not null;index;uniqueIndex:ux_parties_identity" json:"type"`
	Name            string       `gorm:"not null" json:"name"`
	NormalizedName  string       `gorm:"not null;index" json:"-"`
	TaxID           string       `json:"tax_id,omitempty"`
	NormalizedTaxID string       `gorm:"index" json:"-"`
	IdentityKey     string       `gorm:"not null;uniqueIndex:ux_parties_identity" json:"-"`
	Address         string       `json:"address,omitempty"`
	Status          PartyStatus  `gorm:"not null;default:active;index" json:"status"`
	AutoCreated     bool         `gorm:"not null;default:false" json:"auto_created"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (Party) TableName() string {
	return "parties"
}

// IdentityKeyFor derives the registry identity for a normalized tax id and
// name pair. Tax id wins when present.
func IdentityKeyFor(normalizedTaxID, normalizedName string) string {
	if normalizedTaxID != "" {
		return "tax:" + normalizedTaxID
	}
	if normalizedName != "" {
		return "name:" + normalizedName
	}
	return ""
}
