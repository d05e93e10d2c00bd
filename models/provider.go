package models

import (
	"time"
)

// ProviderConfig is one connected MLS data source. Operators create and
// edit these; the sync engine only ever touches LastSyncedAt.
type ProviderConfig struct {
	ID               string        `json:"id" db:"id" yaml:"id"`
	Name             string        `json:"name" db:"name" yaml:"name"`
	Protocol         string        `json:"protocol" db:"protocol" yaml:"protocol"` // rest, rets, portal, fixture
	BaseURL          string        `json:"base_url" db:"base_url" yaml:"base_url"`
	Username         string        `json:"username" db:"username" yaml:"username"`
	Password         string        `json:"-" db:"password" yaml:"password"`
	APIKey           string        `json:"-" db:"api_key" yaml:"api_key"`
	Mapping          []MappingRule `json:"mapping" db:"mapping" yaml:"mapping"`
	Enabled          bool          `json:"enabled" db:"enabled" yaml:"enabled"`
	SyncInterval     time.Duration `json:"sync_interval" db:"sync_interval" yaml:"sync_interval"`
	FullSyncInterval time.Duration `json:"full_sync_interval" db:"full_sync_interval" yaml:"full_sync_interval"`
	BatchSize        int           `json:"batch_size" db:"batch_size" yaml:"batch_size"`
	LastSyncedAt     *time.Time    `json:"last_synced_at" db:"last_synced_at" yaml:"-"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at" yaml:"-"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at" yaml:"-"`
}

// Provider protocols
const (
	ProtocolREST    = "rest"
	ProtocolRETS    = "rets"
	ProtocolPortal  = "portal"
	ProtocolFixture = "fixture"
)

// MappingRule maps one provider-native field path onto a canonical Property
// field, optionally through a named transform. The mapping table is data,
// not code: operators edit it per provider.
type MappingRule struct {
	Source    string `json:"source" yaml:"source"`       // dot path into the native record
	Target    string `json:"target" yaml:"target"`       // canonical field name
	Transform string `json:"transform" yaml:"transform"` // optional: price, status, int, float, time, string
	Required  bool   `json:"required" yaml:"required"`
}

// EffectiveBatchSize returns the configured batch size, or fallback when
// unset. Each adapter supplies its protocol's customary page size.
func (p *ProviderConfig) EffectiveBatchSize(fallback int) int {
	if p.BatchSize > 0 {
		return p.BatchSize
	}
	return fallback
}

// Due reports whether an incremental sync should run now.
func (p *ProviderConfig) Due(now time.Time) bool {
	if !p.Enabled {
		return false
	}
	if p.LastSyncedAt == nil {
		return true
	}
	return now.Sub(*p.LastSyncedAt) >= p.SyncInterval
}
