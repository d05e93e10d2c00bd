package models

import (
	"time"

	"github.com/google/uuid"
)

// Sync run state. SyncStatus holds the current one per provider and doubles
// as the run lock: a run may only start by flipping idle (or a stale
// running) to running atomically.
const (
	SyncStateIdle      = "idle"
	SyncStateRunning   = "running"
	SyncStateSuccess   = "success"
	SyncStateFailed    = "failed"
	SyncStateCancelled = "cancelled"
)

// Sync types
const (
	SyncTypeFull        = "full"
	SyncTypeIncremental = "incremental"
)

// SyncStatus is the current/most-recent run state for one provider.
type SyncStatus struct {
	ProviderID string     `json:"provider_id" db:"provider_id"`
	State      string     `json:"state" db:"state"`
	RunID      *uuid.UUID `json:"run_id" db:"run_id"`
	StartedAt  *time.Time `json:"started_at" db:"started_at"`
	Processed  int        `json:"processed" db:"processed"`
	Created    int        `json:"created" db:"created"`
	Updated    int        `json:"updated" db:"updated"`
	Failed     int        `json:"failed" db:"failed"`
	// CancelRequested is flipped by the admin surface and honored by the
	// orchestrator at the next batch boundary.
	CancelRequested bool      `json:"cancel_requested" db:"cancel_requested"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// SyncRun is one append-only history row per completed run. Never updated
// after insert.
type SyncRun struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	ProviderID   string     `json:"provider_id" db:"provider_id"`
	SyncType     string     `json:"sync_type" db:"sync_type"` // full, incremental
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at" db:"finished_at"`
	Outcome      string     `json:"outcome" db:"outcome"` // success, failed, cancelled
	Processed    int        `json:"processed" db:"processed"`
	Created      int        `json:"created" db:"created"`
	Updated      int        `json:"updated" db:"updated"`
	Failed       int        `json:"failed" db:"failed"`
	MediaQueued  int        `json:"media_queued" db:"media_queued"`
	ErrorMessage string     `json:"error_message" db:"error_message"`
}

// SyncError is one failed record within a run. Append-only; the resolved
// flag is flipped by operator action, never by the engine.
type SyncError struct {
	ID         int64     `json:"id" db:"id"`
	ProviderID string    `json:"provider_id" db:"provider_id"`
	RunID      uuid.UUID `json:"run_id" db:"run_id"`
	ExternalID string    `json:"external_id" db:"external_id"` // empty when unknown
	Category   string    `json:"category" db:"category"`
	Message    string    `json:"message" db:"message"`
	Resolved   bool      `json:"resolved" db:"resolved"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Error categories
const (
	ErrorCategoryConnectivity   = "connectivity"
	ErrorCategoryAuthentication = "authentication"
	ErrorCategoryMapping        = "mapping"
	ErrorCategoryMedia          = "media"
)

// SyncCounters accumulates per-run totals while batches progress.
type SyncCounters struct {
	Processed   int
	Created     int
	Updated     int
	Failed      int
	MediaQueued int
}
