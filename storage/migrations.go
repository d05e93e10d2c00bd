package storage

import (
	"context"
	"fmt"
)

// Migrate creates the schema. Everything is IF NOT EXISTS so the daemon can
// run it unconditionally at startup.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS properties (
		id UUID PRIMARY KEY,
		provider_id TEXT NOT NULL,
		external_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		price DOUBLE PRECISION,
		street TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		postal_code TEXT NOT NULL DEFAULT '',
		beds INTEGER,
		baths DOUBLE PRECISION,
		sqft INTEGER,
		lot_sqft INTEGER,
		year_built INTEGER,
		property_type TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		listed_at TIMESTAMPTZ,
		modified_at TIMESTAMPTZ,
		last_synced_at TIMESTAMPTZ NOT NULL,
		raw_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (provider_id, external_id)
	);

	CREATE INDEX IF NOT EXISTS idx_properties_provider ON properties(provider_id);
	CREATE INDEX IF NOT EXISTS idx_properties_status ON properties(status);
	CREATE INDEX IF NOT EXISTS idx_properties_modified ON properties(modified_at);

	CREATE TABLE IF NOT EXISTS property_media (
		id UUID PRIMARY KEY,
		property_id UUID NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
		source_url TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		thumbnail_url TEXT,
		medium_url TEXT,
		large_url TEXT,
		width INTEGER,
		height INTEGER,
		file_size_bytes BIGINT,
		format TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		processed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (property_id, source_url)
	);

	CREATE INDEX IF NOT EXISTS idx_media_pending ON property_media(created_at)
		WHERE status = 'pending';

	CREATE TABLE IF NOT EXISTS provider_configs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		protocol TEXT NOT NULL,
		base_url TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL DEFAULT '',
		api_key TEXT NOT NULL DEFAULT '',
		mapping JSONB NOT NULL DEFAULT '[]',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		sync_interval_secs BIGINT NOT NULL,
		full_sync_interval_secs BIGINT NOT NULL,
		batch_size INTEGER NOT NULL DEFAULT 0,
		last_synced_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS sync_status (
		provider_id TEXT PRIMARY KEY,
		state TEXT NOT NULL DEFAULT 'idle',
		run_id UUID,
		started_at TIMESTAMPTZ,
		processed INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id UUID PRIMARY KEY,
		provider_id TEXT NOT NULL,
		sync_type TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		outcome TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		media_queued INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_provider ON sync_runs(provider_id, started_at DESC);

	CREATE TABLE IF NOT EXISTS sync_errors (
		id BIGSERIAL PRIMARY KEY,
		provider_id TEXT NOT NULL,
		run_id UUID,
		external_id TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		message TEXT NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_sync_errors_unresolved ON sync_errors(provider_id, created_at DESC)
		WHERE resolved = FALSE;
	`
