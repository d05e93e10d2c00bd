package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mlsync/models"
)

// ErrRunActive is returned when the run lock for a provider is already
// held. Callers treat it as a skip, not a failure.
var ErrRunActive = errors.New("sync run already active")

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Properties
// =============================================================================

func (s *PostgresStore) UpsertProperty(ctx context.Context, p *models.Property) error {
	query := `
		INSERT INTO properties (
			id, provider_id, external_id, status, price, street, city, state,
			postal_code, beds, baths, sqft, lot_sqft, year_built, property_type,
			description, listed_at, modified_at, last_synced_at, raw_data,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
		ON CONFLICT (provider_id, external_id) DO UPDATE SET
			status = EXCLUDED.status,
			price = EXCLUDED.price,
			street = COALESCE(NULLIF(EXCLUDED.street, ''), properties.street),
			city = COALESCE(NULLIF(EXCLUDED.city, ''), properties.city),
			state = COALESCE(NULLIF(EXCLUDED.state, ''), properties.state),
			postal_code = COALESCE(NULLIF(EXCLUDED.postal_code, ''), properties.postal_code),
			beds = COALESCE(EXCLUDED.beds, properties.beds),
			baths = COALESCE(EXCLUDED.baths, properties.baths),
			sqft = COALESCE(EXCLUDED.sqft, properties.sqft),
			lot_sqft = COALESCE(EXCLUDED.lot_sqft, properties.lot_sqft),
			year_built = COALESCE(EXCLUDED.year_built, properties.year_built),
			property_type = COALESCE(NULLIF(EXCLUDED.property_type, ''), properties.property_type),
			description = COALESCE(NULLIF(EXCLUDED.description, ''), properties.description),
			listed_at = COALESCE(EXCLUDED.listed_at, properties.listed_at),
			modified_at = COALESCE(EXCLUDED.modified_at, properties.modified_at),
			last_synced_at = EXCLUDED.last_synced_at,
			raw_data = EXCLUDED.raw_data,
			updated_at = NOW()
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		p.ID, p.ProviderID, p.ExternalID, p.Status, p.Price, p.Street, p.City, p.State,
		p.PostalCode, p.Beds, p.Baths, p.SqFt, p.LotSqFt, p.YearBuilt, p.PropertyType,
		p.Description, p.ListedAt, p.ModifiedAt, p.LastSyncedAt, p.RawData,
		p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
}

const propertyColumns = `id, provider_id, external_id, status, price, street, city, state,
	postal_code, beds, baths, sqft, lot_sqft, year_built, property_type,
	description, listed_at, modified_at, last_synced_at, raw_data, created_at, updated_at`

func scanProperty(row pgx.Row) (*models.Property, error) {
	var p models.Property
	err := row.Scan(
		&p.ID, &p.ProviderID, &p.ExternalID, &p.Status, &p.Price, &p.Street, &p.City, &p.State,
		&p.PostalCode, &p.Beds, &p.Baths, &p.SqFt, &p.LotSqFt, &p.YearBuilt, &p.PropertyType,
		&p.Description, &p.ListedAt, &p.ModifiedAt, &p.LastSyncedAt, &p.RawData, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPropertyByExternalID(ctx context.Context, providerID, externalID string) (*models.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE provider_id = $1 AND external_id = $2`
	return scanProperty(s.pool.QueryRow(ctx, query, providerID, externalID))
}

func (s *PostgresStore) GetPropertyByID(ctx context.Context, id uuid.UUID) (*models.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE id = $1`
	return scanProperty(s.pool.QueryRow(ctx, query, id))
}

// TouchPropertySync bumps only the sync bookkeeping timestamp, used when an
// incoming record is older than the stored row and listing fields are kept.
func (s *PostgresStore) TouchPropertySync(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	query := `UPDATE properties SET last_synced_at = $2, updated_at = NOW() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, syncedAt)
	return err
}

func (s *PostgresStore) ListProperties(ctx context.Context, providerID string, limit, offset int) ([]models.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE ($1 = '' OR provider_id = $1)
		ORDER BY updated_at DESC LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, providerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []models.Property
	for rows.Next() {
		var p models.Property
		if err := rows.Scan(
			&p.ID, &p.ProviderID, &p.ExternalID, &p.Status, &p.Price, &p.Street, &p.City, &p.State,
			&p.PostalCode, &p.Beds, &p.Baths, &p.SqFt, &p.LotSqFt, &p.YearBuilt, &p.PropertyType,
			&p.Description, &p.ListedAt, &p.ModifiedAt, &p.LastSyncedAt, &p.RawData, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		props = append(props, p)
	}
	return props, rows.Err()
}

// =============================================================================
// Property media
// =============================================================================

const mediaColumns = `id, property_id, source_url, position, status, thumbnail_url, medium_url,
	large_url, width, height, file_size_bytes, format, error_message, attempts, processed_at, created_at`

func (s *PostgresStore) UpsertPropertyMedia(ctx context.Context, m *models.PropertyMedia) error {
	query := `
		INSERT INTO property_media (
			id, property_id, source_url, position, status, thumbnail_url, medium_url,
			large_url, width, height, file_size_bytes, format, error_message, attempts,
			processed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (property_id, source_url) DO UPDATE SET
			position = EXCLUDED.position
		RETURNING id, status, attempts`

	return s.pool.QueryRow(ctx, query,
		m.ID, m.PropertyID, m.SourceURL, m.Position, m.Status, m.ThumbnailURL, m.MediumURL,
		m.LargeURL, m.Width, m.Height, m.FileSizeBytes, m.Format, m.ErrorMessage, m.Attempts,
		m.ProcessedAt, m.CreatedAt,
	).Scan(&m.ID, &m.Status, &m.Attempts)
}

func (s *PostgresStore) GetMediaByPropertyAndURL(ctx context.Context, propertyID uuid.UUID, sourceURL string) (*models.PropertyMedia, error) {
	query := `SELECT ` + mediaColumns + ` FROM property_media WHERE property_id = $1 AND source_url = $2`

	var m models.PropertyMedia
	err := s.pool.QueryRow(ctx, query, propertyID, sourceURL).Scan(
		&m.ID, &m.PropertyID, &m.SourceURL, &m.Position, &m.Status, &m.ThumbnailURL, &m.MediumURL,
		&m.LargeURL, &m.Width, &m.Height, &m.FileSizeBytes, &m.Format, &m.ErrorMessage, &m.Attempts,
		&m.ProcessedAt, &m.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetPendingMedia returns queued media with attempts left, oldest first,
// joined with the owning property's identifiers for object key building.
func (s *PostgresStore) GetPendingMedia(ctx context.Context, limit int) ([]models.PendingMedia, error) {
	query := `
		SELECT m.id, m.property_id, m.source_url, m.position, m.status, m.thumbnail_url, m.medium_url,
			m.large_url, m.width, m.height, m.file_size_bytes, m.format, m.error_message, m.attempts,
			m.processed_at, m.created_at, p.provider_id, p.external_id
		FROM property_media m
		JOIN properties p ON p.id = m.property_id
		WHERE m.status = 'pending' AND m.attempts < $2
		ORDER BY m.created_at
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit, models.MaxMediaAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var media []models.PendingMedia
	for rows.Next() {
		var m models.PendingMedia
		if err := rows.Scan(
			&m.ID, &m.PropertyID, &m.SourceURL, &m.Position, &m.Status, &m.ThumbnailURL, &m.MediumURL,
			&m.LargeURL, &m.Width, &m.Height, &m.FileSizeBytes, &m.Format, &m.ErrorMessage, &m.Attempts,
			&m.ProcessedAt, &m.CreatedAt, &m.ProviderID, &m.ExternalID,
		); err != nil {
			return nil, err
		}
		media = append(media, m)
	}
	return media, rows.Err()
}

func (s *PostgresStore) GetMediaForProperty(ctx context.Context, propertyID uuid.UUID) ([]models.PropertyMedia, error) {
	query := `SELECT ` + mediaColumns + ` FROM property_media WHERE property_id = $1 ORDER BY position`

	rows, err := s.pool.Query(ctx, query, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var media []models.PropertyMedia
	for rows.Next() {
		var m models.PropertyMedia
		if err := rows.Scan(
			&m.ID, &m.PropertyID, &m.SourceURL, &m.Position, &m.Status, &m.ThumbnailURL, &m.MediumURL,
			&m.LargeURL, &m.Width, &m.Height, &m.FileSizeBytes, &m.Format, &m.ErrorMessage, &m.Attempts,
			&m.ProcessedAt, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		media = append(media, m)
	}
	return media, rows.Err()
}

func (s *PostgresStore) CountMediaByStatus(ctx context.Context) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM property_media GROUP BY status`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// MarkMediaProcessed records the uploaded variant URLs and content
// metadata. Transitions are monotonic: a processed row is never demoted.
func (s *PostgresStore) MarkMediaProcessed(ctx context.Context, m *models.PropertyMedia) error {
	query := `
		UPDATE property_media SET
			status = 'processed', thumbnail_url = $2, medium_url = $3, large_url = $4,
			width = $5, height = $6, file_size_bytes = $7, format = $8,
			error_message = '', processed_at = $9
		WHERE id = $1 AND status <> 'processed'`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.ThumbnailURL, m.MediumURL, m.LargeURL,
		m.Width, m.Height, m.FileSizeBytes, m.Format, m.ProcessedAt,
	)
	return err
}

func (s *PostgresStore) MarkMediaFailed(ctx context.Context, id uuid.UUID, message string, attempts int) error {
	status := models.MediaStatusPending
	if attempts >= models.MaxMediaAttempts {
		status = models.MediaStatusFailed
	}
	query := `UPDATE property_media SET status = $2, error_message = $3, attempts = $4
		WHERE id = $1 AND status <> 'processed'`
	_, err := s.pool.Exec(ctx, query, id, status, message, attempts)
	return err
}

// =============================================================================
// Provider configs
// =============================================================================

func (s *PostgresStore) UpsertProviderConfig(ctx context.Context, p *models.ProviderConfig) error {
	mapping, err := json.Marshal(p.Mapping)
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}

	query := `
		INSERT INTO provider_configs (
			id, name, protocol, base_url, username, password, api_key, mapping,
			enabled, sync_interval_secs, full_sync_interval_secs, batch_size,
			last_synced_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			protocol = EXCLUDED.protocol,
			base_url = EXCLUDED.base_url,
			username = EXCLUDED.username,
			password = EXCLUDED.password,
			api_key = EXCLUDED.api_key,
			mapping = EXCLUDED.mapping,
			enabled = EXCLUDED.enabled,
			sync_interval_secs = EXCLUDED.sync_interval_secs,
			full_sync_interval_secs = EXCLUDED.full_sync_interval_secs,
			batch_size = EXCLUDED.batch_size,
			updated_at = NOW()`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.Name, p.Protocol, p.BaseURL, p.Username, p.Password, p.APIKey, mapping,
		p.Enabled, int64(p.SyncInterval.Seconds()), int64(p.FullSyncInterval.Seconds()), p.BatchSize,
		p.LastSyncedAt,
	)
	return err
}

const providerColumns = `id, name, protocol, base_url, username, password, api_key, mapping,
	enabled, sync_interval_secs, full_sync_interval_secs, batch_size, last_synced_at, created_at, updated_at`

func scanProviderConfig(row pgx.Row) (*models.ProviderConfig, error) {
	var p models.ProviderConfig
	var mapping []byte
	var syncSecs, fullSecs int64
	err := row.Scan(
		&p.ID, &p.Name, &p.Protocol, &p.BaseURL, &p.Username, &p.Password, &p.APIKey, &mapping,
		&p.Enabled, &syncSecs, &fullSecs, &p.BatchSize, &p.LastSyncedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.SyncInterval = time.Duration(syncSecs) * time.Second
	p.FullSyncInterval = time.Duration(fullSecs) * time.Second
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &p.Mapping); err != nil {
			return nil, fmt.Errorf("decode mapping: %w", err)
		}
	}
	return &p, nil
}

func (s *PostgresStore) GetProviderConfig(ctx context.Context, id string) (*models.ProviderConfig, error) {
	query := `SELECT ` + providerColumns + ` FROM provider_configs WHERE id = $1`
	return scanProviderConfig(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) ListProviderConfigs(ctx context.Context, onlyEnabled bool) ([]*models.ProviderConfig, error) {
	query := `SELECT ` + providerColumns + ` FROM provider_configs WHERE ($1 = false OR enabled) ORDER BY id`

	rows, err := s.pool.Query(ctx, query, onlyEnabled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*models.ProviderConfig
	for rows.Next() {
		p, err := scanProviderConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, p)
	}
	return configs, rows.Err()
}

func (s *PostgresStore) SetProviderEnabled(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE provider_configs SET enabled = $2, updated_at = NOW() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, enabled)
	return err
}

func (s *PostgresStore) SetProviderInterval(ctx context.Context, id string, interval time.Duration) error {
	query := `UPDATE provider_configs SET sync_interval_secs = $2, updated_at = NOW() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, int64(interval.Seconds()))
	return err
}

func (s *PostgresStore) UpdateProviderLastSynced(ctx context.Context, id string, syncedAt time.Time) error {
	query := `UPDATE provider_configs SET last_synced_at = $2, updated_at = NOW() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, syncedAt)
	return err
}

// =============================================================================
// Sync status (the run lock)
// =============================================================================

// AcquireRunLock flips the provider's status row to running atomically. It
// succeeds when the row is absent, not running, or running but older than
// staleBefore (a crashed process). Otherwise ErrRunActive. The returned
// bool reports whether a stale running row was taken over, so the caller
// can log the anomaly.
func (s *PostgresStore) AcquireRunLock(ctx context.Context, providerID string, runID uuid.UUID, staleBefore time.Time) (bool, error) {
	query := `
		WITH prior AS (
			SELECT state FROM sync_status WHERE provider_id = $1
		)
		INSERT INTO sync_status (provider_id, state, run_id, started_at, processed, created, updated, failed, cancel_requested, updated_at)
		VALUES ($1, 'running', $2, NOW(), 0, 0, 0, 0, false, NOW())
		ON CONFLICT (provider_id) DO UPDATE SET
			state = 'running', run_id = $2, started_at = NOW(),
			processed = 0, created = 0, updated = 0, failed = 0,
			cancel_requested = false, updated_at = NOW()
		WHERE sync_status.state <> 'running' OR sync_status.updated_at < $3
		RETURNING (SELECT state = 'running' FROM prior)`

	var priorRunning *bool
	err := s.pool.QueryRow(ctx, query, providerID, runID, staleBefore).Scan(&priorRunning)
	if err == pgx.ErrNoRows {
		return false, ErrRunActive
	}
	if err != nil {
		return false, err
	}
	// Winning the CAS against a row that was still marked running means a
	// crashed run's stale lock was reclaimed.
	return priorRunning != nil && *priorRunning, nil
}

// UpdateRunCounters publishes in-flight progress so the admin surface can
// watch a run move. Also serves as the lock heartbeat via updated_at.
func (s *PostgresStore) UpdateRunCounters(ctx context.Context, providerID string, c models.SyncCounters) error {
	query := `UPDATE sync_status SET processed = $2, created = $3, updated = $4, failed = $5, updated_at = NOW()
		WHERE provider_id = $1 AND state = 'running'`
	_, err := s.pool.Exec(ctx, query, providerID, c.Processed, c.Created, c.Updated, c.Failed)
	return err
}

// FinishRun releases the lock by moving the status row to a terminal state.
func (s *PostgresStore) FinishRun(ctx context.Context, providerID, state string, c models.SyncCounters) error {
	query := `UPDATE sync_status SET state = $2, processed = $3, created = $4, updated = $5, failed = $6,
		cancel_requested = false, updated_at = NOW()
		WHERE provider_id = $1`
	_, err := s.pool.Exec(ctx, query, providerID, state, c.Processed, c.Created, c.Updated, c.Failed)
	return err
}

func (s *PostgresStore) RequestCancel(ctx context.Context, providerID string) (bool, error) {
	query := `UPDATE sync_status SET cancel_requested = true, updated_at = NOW()
		WHERE provider_id = $1 AND state = 'running'
		RETURNING provider_id`
	var id string
	err := s.pool.QueryRow(ctx, query, providerID).Scan(&id)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) CancelRequested(ctx context.Context, providerID string) (bool, error) {
	query := `SELECT cancel_requested FROM sync_status WHERE provider_id = $1`
	var requested bool
	err := s.pool.QueryRow(ctx, query, providerID).Scan(&requested)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return requested, nil
}

const statusColumns = `provider_id, state, run_id, started_at, processed, created, updated, failed, cancel_requested, updated_at`

func (s *PostgresStore) GetSyncStatus(ctx context.Context, providerID string) (*models.SyncStatus, error) {
	query := `SELECT ` + statusColumns + ` FROM sync_status WHERE provider_id = $1`

	var st models.SyncStatus
	err := s.pool.QueryRow(ctx, query, providerID).Scan(
		&st.ProviderID, &st.State, &st.RunID, &st.StartedAt, &st.Processed, &st.Created,
		&st.Updated, &st.Failed, &st.CancelRequested, &st.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *PostgresStore) ListSyncStatuses(ctx context.Context) ([]models.SyncStatus, error) {
	query := `SELECT ` + statusColumns + ` FROM sync_status ORDER BY provider_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []models.SyncStatus
	for rows.Next() {
		var st models.SyncStatus
		if err := rows.Scan(
			&st.ProviderID, &st.State, &st.RunID, &st.StartedAt, &st.Processed, &st.Created,
			&st.Updated, &st.Failed, &st.CancelRequested, &st.UpdatedAt,
		); err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

// =============================================================================
// Sync history
// =============================================================================

func (s *PostgresStore) InsertSyncRun(ctx context.Context, run *models.SyncRun) error {
	query := `
		INSERT INTO sync_runs (
			id, provider_id, sync_type, started_at, finished_at, outcome,
			processed, created, updated, failed, media_queued, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.ProviderID, run.SyncType, run.StartedAt, run.FinishedAt, run.Outcome,
		run.Processed, run.Created, run.Updated, run.Failed, run.MediaQueued, run.ErrorMessage,
	)
	return err
}

func (s *PostgresStore) ListSyncRuns(ctx context.Context, providerID string, limit, offset int) ([]models.SyncRun, error) {
	query := `
		SELECT id, provider_id, sync_type, started_at, finished_at, outcome,
			processed, created, updated, failed, media_queued, error_message
		FROM sync_runs
		WHERE ($1 = '' OR provider_id = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, providerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var r models.SyncRun
		if err := rows.Scan(
			&r.ID, &r.ProviderID, &r.SyncType, &r.StartedAt, &r.FinishedAt, &r.Outcome,
			&r.Processed, &r.Created, &r.Updated, &r.Failed, &r.MediaQueued, &r.ErrorMessage,
		); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SyncStats are aggregate outcomes across history, for the admin surface.
type SyncStats struct {
	TotalRuns      int        `json:"total_runs"`
	SuccessfulRuns int        `json:"successful_runs"`
	FailedRuns     int        `json:"failed_runs"`
	CancelledRuns  int        `json:"cancelled_runs"`
	TotalProcessed int        `json:"total_processed"`
	TotalFailed    int        `json:"total_failed"`
	LastRunAt      *time.Time `json:"last_run_at"`
}

func (s *PostgresStore) GetSyncStats(ctx context.Context, providerID string) (*SyncStats, error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE outcome = 'success'),
			COUNT(*) FILTER (WHERE outcome = 'failed'),
			COUNT(*) FILTER (WHERE outcome = 'cancelled'),
			COALESCE(SUM(processed), 0),
			COALESCE(SUM(failed), 0),
			MAX(started_at)
		FROM sync_runs
		WHERE ($1 = '' OR provider_id = $1)`

	var stats SyncStats
	err := s.pool.QueryRow(ctx, query, providerID).Scan(
		&stats.TotalRuns, &stats.SuccessfulRuns, &stats.FailedRuns, &stats.CancelledRuns,
		&stats.TotalProcessed, &stats.TotalFailed, &stats.LastRunAt,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// =============================================================================
// Sync errors (the ledger)
// =============================================================================

func (s *PostgresStore) InsertSyncError(ctx context.Context, e *models.SyncError) error {
	query := `
		INSERT INTO sync_errors (provider_id, run_id, external_id, category, message, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		e.ProviderID, e.RunID, e.ExternalID, e.Category, e.Message, e.CreatedAt,
	).Scan(&e.ID)
}

func (s *PostgresStore) ListUnresolvedErrors(ctx context.Context, providerID string, limit int) ([]models.SyncError, error) {
	query := `
		SELECT id, provider_id, run_id, external_id, category, message, resolved, created_at
		FROM sync_errors
		WHERE ($1 = '' OR provider_id = $1) AND resolved = false
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var errs []models.SyncError
	for rows.Next() {
		var e models.SyncError
		if err := rows.Scan(
			&e.ID, &e.ProviderID, &e.RunID, &e.ExternalID, &e.Category, &e.Message, &e.Resolved, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		errs = append(errs, e)
	}
	return errs, rows.Err()
}

func (s *PostgresStore) CountUnresolvedByCategory(ctx context.Context, providerID string) (map[string]int, error) {
	query := `
		SELECT category, COUNT(*)
		FROM sync_errors
		WHERE ($1 = '' OR provider_id = $1) AND resolved = false
		GROUP BY category`

	rows, err := s.pool.Query(ctx, query, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, err
		}
		counts[category] = count
	}
	return counts, rows.Err()
}

func (s *PostgresStore) ResolveSyncError(ctx context.Context, id int64) error {
	query := `UPDATE sync_errors SET resolved = true WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id)
	return err
}
