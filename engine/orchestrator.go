package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"mlsync/httputil"
	"mlsync/mapper"
	"mlsync/models"
	"mlsync/provider"
	"mlsync/services"
	"mlsync/storage"
)

// Store is the slice of storage the orchestrator needs: the run lock, run
// history, and the error ledger.
type Store interface {
	AcquireRunLock(ctx context.Context, providerID string, runID uuid.UUID, staleBefore time.Time) (tookOver bool, err error)
	UpdateRunCounters(ctx context.Context, providerID string, c models.SyncCounters) error
	FinishRun(ctx context.Context, providerID, state string, c models.SyncCounters) error
	CancelRequested(ctx context.Context, providerID string) (bool, error)
	InsertSyncRun(ctx context.Context, run *models.SyncRun) error
	InsertSyncError(ctx context.Context, e *models.SyncError) error
	UpdateProviderLastSynced(ctx context.Context, id string, syncedAt time.Time) error
}

// Processor turns one raw record into a property row.
type Processor interface {
	ProcessRecord(ctx context.Context, providerID string, rec provider.Record, rules []models.MappingRule, now time.Time) (*services.ProcessResult, error)
}

// MediaQueue records media references for later processing.
type MediaQueue interface {
	Enqueue(ctx context.Context, propertyID uuid.UUID, refs []provider.MediaRef) (int, error)
}

// AdapterFactory builds the adapter for a provider config. Tests swap it
// for a fake.
type AdapterFactory func(cfg *models.ProviderConfig, clients *httputil.Clients) (provider.Adapter, error)

// Orchestrator drives one sync run per provider: acquire the lock, page
// through changed records, isolate per-record failures, queue media, and
// finalize the run record.
type Orchestrator struct {
	store       Store
	processor   Processor
	media       MediaQueue
	clients     *httputil.Clients
	staleRunAge time.Duration
	newAdapter  AdapterFactory
}

func NewOrchestrator(store Store, processor Processor, media MediaQueue, clients *httputil.Clients, staleRunAge time.Duration) *Orchestrator {
	return &Orchestrator{
		store:       store,
		processor:   processor,
		media:       media,
		clients:     clients,
		staleRunAge: staleRunAge,
		newAdapter:  provider.New,
	}
}

// SetAdapterFactory overrides adapter construction.
func (o *Orchestrator) SetAdapterFactory(f AdapterFactory) {
	o.newAdapter = f
}

// SyncProvider runs one sync for the provider. syncType may be empty, in
// which case incremental is chosen unless the full-sync interval has
// elapsed (or the provider has never synced). Returns storage.ErrRunActive
// without side effects when a run is already in flight.
func (o *Orchestrator) SyncProvider(ctx context.Context, cfg *models.ProviderConfig, syncType string) (*models.SyncRun, error) {
	if syncType == "" {
		syncType = o.chooseSyncType(cfg)
	}

	runID := uuid.New()
	staleBefore := time.Now().Add(-o.staleRunAge)
	tookOver, err := o.store.AcquireRunLock(ctx, cfg.ID, runID, staleBefore)
	if err != nil {
		if errors.Is(err, storage.ErrRunActive) {
			log.Printf("[%s] run already active, skipping", cfg.ID)
		}
		return nil, err
	}
	if tookOver {
		log.Printf("[%s] reclaimed a stale running lock older than %s; prior run presumed crashed", cfg.ID, o.staleRunAge)
	}

	startedAt := time.Now()
	run := &models.SyncRun{
		ID:         runID,
		ProviderID: cfg.ID,
		SyncType:   syncType,
		StartedAt:  startedAt,
	}
	log.Printf("[%s] starting %s sync (run %s)", cfg.ID, syncType, runID)

	counters := models.SyncCounters{}
	outcome, runErr := o.run(ctx, cfg, run, &counters)

	now := time.Now()
	run.FinishedAt = &now
	run.Outcome = outcome
	run.Processed = counters.Processed
	run.Created = counters.Created
	run.Updated = counters.Updated
	run.Failed = counters.Failed
	run.MediaQueued = counters.MediaQueued
	if runErr != nil {
		run.ErrorMessage = runErr.Error()
	}

	if err := o.store.InsertSyncRun(ctx, run); err != nil {
		log.Printf("[%s] failed to record run: %v", cfg.ID, err)
	}
	if err := o.store.FinishRun(ctx, cfg.ID, outcome, counters); err != nil {
		log.Printf("[%s] failed to release run lock: %v", cfg.ID, err)
	}

	// The watermark only advances on success. A failed or cancelled run
	// may have stopped mid-page; the next incremental re-fetches from the
	// old watermark and the upsert path absorbs the overlap.
	if outcome == models.SyncStateSuccess {
		if err := o.store.UpdateProviderLastSynced(ctx, cfg.ID, startedAt); err != nil {
			log.Printf("[%s] failed to advance watermark: %v", cfg.ID, err)
		}
	}

	log.Printf("[%s] %s: %d processed, %d created, %d updated, %d failed, %d media queued",
		cfg.ID, outcome, counters.Processed, counters.Created, counters.Updated, counters.Failed, counters.MediaQueued)

	return run, runErr
}

// HealthCheck probes a provider without touching any sync state.
func (o *Orchestrator) HealthCheck(ctx context.Context, cfg *models.ProviderConfig) provider.Health {
	adapter, err := o.newAdapter(cfg, o.clients)
	if err != nil {
		return provider.Health{Detail: err.Error(), CheckedAt: time.Now()}
	}
	defer adapter.Disconnect()

	if err := adapter.Connect(ctx); err != nil {
		return provider.Health{Detail: err.Error(), CheckedAt: time.Now()}
	}
	return adapter.HealthCheck(ctx)
}

func (o *Orchestrator) chooseSyncType(cfg *models.ProviderConfig) string {
	if cfg.LastSyncedAt == nil {
		return models.SyncTypeFull
	}
	if cfg.FullSyncInterval > 0 && time.Since(*cfg.LastSyncedAt) >= cfg.FullSyncInterval {
		return models.SyncTypeFull
	}
	return models.SyncTypeIncremental
}

// run does the paging loop. It returns the terminal state and, for failed
// runs, the error that stopped them.
func (o *Orchestrator) run(ctx context.Context, cfg *models.ProviderConfig, run *models.SyncRun, counters *models.SyncCounters) (string, error) {
	adapter, err := o.newAdapter(cfg, o.clients)
	if err != nil {
		o.ledger(ctx, cfg.ID, run.ID, "", categorize(err), err.Error())
		return models.SyncStateFailed, err
	}

	if err := adapter.Connect(ctx); err != nil {
		o.ledger(ctx, cfg.ID, run.ID, "", categorize(err), err.Error())
		return models.SyncStateFailed, fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := adapter.Disconnect(); err != nil {
			log.Printf("[%s] disconnect: %v", cfg.ID, err)
		}
	}()

	var since *time.Time
	if run.SyncType == models.SyncTypeIncremental {
		since = cfg.LastSyncedAt
	}

	cursor := ""
	for {
		cancelled, err := o.store.CancelRequested(ctx, cfg.ID)
		if err != nil {
			return models.SyncStateFailed, fmt.Errorf("check cancel: %w", err)
		}
		if cancelled {
			log.Printf("[%s] cancellation requested, stopping at batch boundary", cfg.ID)
			return models.SyncStateCancelled, nil
		}

		page, err := adapter.FetchPage(ctx, since, cursor)
		if err != nil {
			o.ledger(ctx, cfg.ID, run.ID, "", categorize(err), err.Error())
			return models.SyncStateFailed, fmt.Errorf("fetch page: %w", err)
		}

		for _, rec := range page.Records {
			if err := o.processRecord(ctx, cfg, adapter, run, rec, counters); err != nil {
				return models.SyncStateFailed, err
			}
		}

		if err := o.store.UpdateRunCounters(ctx, cfg.ID, *counters); err != nil {
			log.Printf("[%s] failed to publish counters: %v", cfg.ID, err)
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	return models.SyncStateSuccess, nil
}

// processRecord handles one record. Mapping failures go to the ledger and
// the run continues; storage failures abort the run.
func (o *Orchestrator) processRecord(ctx context.Context, cfg *models.ProviderConfig, adapter provider.Adapter, run *models.SyncRun, rec provider.Record, counters *models.SyncCounters) error {
	counters.Processed++

	result, err := o.processor.ProcessRecord(ctx, cfg.ID, rec, cfg.Mapping, time.Now())
	if err != nil {
		var mapErr *mapper.MappingError
		if errors.As(err, &mapErr) {
			counters.Failed++
			o.ledger(ctx, cfg.ID, run.ID, externalIDFromRecord(rec, cfg.Mapping), models.ErrorCategoryMapping, err.Error())
			return nil
		}
		return fmt.Errorf("process record: %w", err)
	}

	switch {
	case result.IsNew:
		counters.Created++
	case !result.Skipped:
		counters.Updated++
	}

	if result.Skipped || o.media == nil {
		return nil
	}

	refs, err := adapter.FetchMedia(ctx, result.ExternalID)
	if err != nil {
		// Media is best effort per record; the listing still synced.
		o.ledger(ctx, cfg.ID, run.ID, result.ExternalID, models.ErrorCategoryMedia, err.Error())
		return nil
	}
	if len(refs) == 0 {
		return nil
	}

	queued, err := o.media.Enqueue(ctx, result.PropertyID, refs)
	if err != nil {
		return fmt.Errorf("enqueue media: %w", err)
	}
	counters.MediaQueued += queued
	return nil
}

func (o *Orchestrator) ledger(ctx context.Context, providerID string, runID uuid.UUID, externalID, category, message string) {
	e := &models.SyncError{
		ProviderID: providerID,
		RunID:      runID,
		ExternalID: externalID,
		Category:   category,
		Message:    message,
		CreatedAt:  time.Now(),
	}
	if err := o.store.InsertSyncError(ctx, e); err != nil {
		log.Printf("[%s] failed to record sync error: %v", providerID, err)
	}
}

func categorize(err error) string {
	var authErr *provider.AuthenticationError
	if errors.As(err, &authErr) {
		return models.ErrorCategoryAuthentication
	}
	var mapErr *mapper.MappingError
	if errors.As(err, &mapErr) {
		return models.ErrorCategoryMapping
	}
	return models.ErrorCategoryConnectivity
}

// externalIDFromRecord best-effort resolves the external id of a record
// that failed mapping, so the ledger entry can still name it.
func externalIDFromRecord(rec provider.Record, rules []models.MappingRule) string {
	for _, rule := range rules {
		if rule.Target != "external_id" {
			continue
		}
		if v, ok := rec.Lookup(rule.Source); ok {
			if s, ok := v.(string); ok {
				return s
			}
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}
