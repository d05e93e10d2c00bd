package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mlsync/mapper"
	"mlsync/models"
	"mlsync/provider"
)

// PropertyStore is the slice of storage the property service needs.
type PropertyStore interface {
	GetPropertyByExternalID(ctx context.Context, providerID, externalID string) (*models.Property, error)
	UpsertProperty(ctx context.Context, p *models.Property) error
	TouchPropertySync(ctx context.Context, id uuid.UUID, syncedAt time.Time) error
}

// PropertyService turns raw provider records into canonical property rows.
type PropertyService struct {
	store PropertyStore
}

func NewPropertyService(store PropertyStore) *PropertyService {
	return &PropertyService{store: store}
}

// ProcessResult contains the outcome of processing one record.
type ProcessResult struct {
	PropertyID uuid.UUID
	ExternalID string
	IsNew      bool
	Skipped    bool // incoming record older than the stored row
}

// ProcessRecord maps one raw record and upserts it. Idempotent: replaying
// the same record is a no-op update. A record whose source modified_at is
// not newer than the stored row only bumps the sync timestamp, so an
// out-of-order page can never clobber fresher data.
func (s *PropertyService) ProcessRecord(ctx context.Context, providerID string, rec provider.Record, rules []models.MappingRule, now time.Time) (*ProcessResult, error) {
	incoming, err := mapper.Map(providerID, rec, rules)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{ExternalID: incoming.ExternalID}

	existing, err := s.store.GetPropertyByExternalID(ctx, providerID, incoming.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("get property: %w", err)
	}

	if existing == nil {
		incoming.ID = uuid.New()
		incoming.LastSyncedAt = now
		incoming.CreatedAt = now
		incoming.UpdatedAt = now
		if err := s.store.UpsertProperty(ctx, incoming); err != nil {
			return nil, fmt.Errorf("create property: %w", err)
		}
		result.PropertyID = incoming.ID
		result.IsNew = true
		return result, nil
	}

	result.PropertyID = existing.ID

	if incoming.ModifiedAt != nil && existing.ModifiedAt != nil && !incoming.ModifiedAt.After(*existing.ModifiedAt) {
		if err := s.store.TouchPropertySync(ctx, existing.ID, now); err != nil {
			return nil, fmt.Errorf("touch property: %w", err)
		}
		result.Skipped = true
		return result, nil
	}

	incoming.ID = existing.ID
	incoming.LastSyncedAt = now
	incoming.CreatedAt = existing.CreatedAt
	incoming.UpdatedAt = now
	if err := s.store.UpsertProperty(ctx, incoming); err != nil {
		return nil, fmt.Errorf("update property: %w", err)
	}
	return result, nil
}
