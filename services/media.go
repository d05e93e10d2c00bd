package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mlsync/models"
	"mlsync/provider"
)

// MediaStore is the slice of storage the media service needs.
type MediaStore interface {
	UpsertPropertyMedia(ctx context.Context, m *models.PropertyMedia) error
	GetPendingMedia(ctx context.Context, limit int) ([]models.PendingMedia, error)
	MarkMediaProcessed(ctx context.Context, m *models.PropertyMedia) error
	MarkMediaFailed(ctx context.Context, id uuid.UUID, message string, attempts int) error
	CountMediaByStatus(ctx context.Context) (map[string]int, error)
}

// MediaService handles media queueing and state transitions.
type MediaService struct {
	store MediaStore
}

func NewMediaService(store MediaStore) *MediaService {
	return &MediaService{store: store}
}

// Enqueue records the provider's media references for a property. A URL
// already on file keeps its status; only the position is refreshed. Returns
// how many rows were newly queued.
func (s *MediaService) Enqueue(ctx context.Context, propertyID uuid.UUID, refs []provider.MediaRef) (int, error) {
	queued := 0
	now := time.Now()
	for _, ref := range refs {
		media := &models.PropertyMedia{
			ID:         uuid.New(),
			PropertyID: propertyID,
			SourceURL:  ref.URL,
			Position:   ref.Position,
			Status:     models.MediaStatusPending,
			CreatedAt:  now,
		}
		insertedID := media.ID
		if err := s.store.UpsertPropertyMedia(ctx, media); err != nil {
			return queued, err
		}
		// The upsert returns the surviving row's ID; a fresh one means
		// the URL was new.
		if media.ID == insertedID {
			queued++
		}
	}
	return queued, nil
}

// GetPending returns queued media with attempts left, oldest first.
func (s *MediaService) GetPending(ctx context.Context, limit int) ([]models.PendingMedia, error) {
	return s.store.GetPendingMedia(ctx, limit)
}

// MarkProcessed finalizes a media row after all variants uploaded.
func (s *MediaService) MarkProcessed(ctx context.Context, m *models.PropertyMedia) error {
	now := time.Now()
	m.ProcessedAt = &now
	return s.store.MarkMediaProcessed(ctx, m)
}

// MarkFailed records a processing failure. The row stays pending until the
// attempt cap, then goes to failed for good.
func (s *MediaService) MarkFailed(ctx context.Context, id uuid.UUID, message string, attempts int) error {
	return s.store.MarkMediaFailed(ctx, id, message, attempts)
}

// QueueDepth reports row counts by status for the admin surface.
func (s *MediaService) QueueDepth(ctx context.Context) (map[string]int, error) {
	return s.store.CountMediaByStatus(ctx)
}
