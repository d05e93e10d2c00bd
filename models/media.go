package models

import (
	"time"

	"github.com/google/uuid"
)

// PropertyMedia is one image attached to a property. The row is created
// with the source URL before processing starts and mutated in place as the
// pipeline runs, so a failed download is visible rather than silently gone.
type PropertyMedia struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	PropertyID    uuid.UUID  `json:"property_id" db:"property_id"`
	SourceURL     string     `json:"source_url" db:"source_url"`
	Position      int        `json:"position" db:"position"`
	Status        string     `json:"status" db:"status"` // pending, processed, failed
	ThumbnailURL  *string    `json:"thumbnail_url" db:"thumbnail_url"`
	MediumURL     *string    `json:"medium_url" db:"medium_url"`
	LargeURL      *string    `json:"large_url" db:"large_url"`
	Width         *int       `json:"width" db:"width"`
	Height        *int       `json:"height" db:"height"`
	FileSizeBytes *int64     `json:"file_size_bytes" db:"file_size_bytes"`
	Format        string     `json:"format" db:"format"`
	ErrorMessage  string     `json:"error_message" db:"error_message"`
	Attempts      int        `json:"attempts" db:"attempts"`
	ProcessedAt   *time.Time `json:"processed_at" db:"processed_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// PendingMedia is a queued media row joined with the identifiers the
// pipeline needs to build deterministic object keys.
type PendingMedia struct {
	PropertyMedia
	ProviderID string `json:"provider_id" db:"provider_id"`
	ExternalID string `json:"external_id" db:"external_id"`
}

// Media status
const (
	MediaStatusPending   = "pending"
	MediaStatusProcessed = "processed"
	MediaStatusFailed    = "failed"
)

// MaxMediaAttempts caps retries before a media row goes terminally failed.
const MaxMediaAttempts = 3

// Variant names, ordered small to large.
const (
	VariantThumbnail = "thumbnail"
	VariantMedium    = "medium"
	VariantLarge     = "large"
)
