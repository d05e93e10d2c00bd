package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Property is the canonical listing record every provider normalizes into.
// Identity is (provider_id, external_id); re-syncing the same external
// record updates the existing row.
type Property struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	ProviderID   string          `json:"provider_id" db:"provider_id"`
	ExternalID   string          `json:"external_id" db:"external_id"`
	Status       string          `json:"status" db:"status"` // active, pending, sold, withdrawn, expired
	Price        *float64        `json:"price" db:"price"`
	Street       string          `json:"street" db:"street"`
	City         string          `json:"city" db:"city"`
	State        string          `json:"state" db:"state"`
	PostalCode   string          `json:"postal_code" db:"postal_code"`
	Beds         *int            `json:"beds" db:"beds"`
	Baths        *float64        `json:"baths" db:"baths"`
	SqFt         *int            `json:"sqft" db:"sqft"`
	LotSqFt      *int            `json:"lot_sqft" db:"lot_sqft"`
	YearBuilt    *int            `json:"year_built" db:"year_built"`
	PropertyType string          `json:"property_type" db:"property_type"`
	Description  string          `json:"description" db:"description"`
	ListedAt     *time.Time      `json:"listed_at" db:"listed_at"`
	ModifiedAt   *time.Time      `json:"modified_at" db:"modified_at"` // source-system timestamp
	LastSyncedAt time.Time       `json:"last_synced_at" db:"last_synced_at"`
	RawData      json.RawMessage `json:"raw_data" db:"raw_data"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Property status
const (
	PropertyStatusActive    = "active"
	PropertyStatusPending   = "pending"
	PropertyStatusSold      = "sold"
	PropertyStatusWithdrawn = "withdrawn"
	PropertyStatusExpired   = "expired"
)
