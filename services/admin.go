package services

import (
	"context"
	"fmt"
	"time"

	"mlsync/models"
	"mlsync/provider"
	"mlsync/storage"
)

// AdminService is the operator surface: status, history, the error ledger,
// and control commands. Control goes through the local command queue so the
// scheduler applies it at a safe point, except cancel, which writes the
// flag the orchestrator polls directly.
type AdminService struct {
	store    *storage.PostgresStore
	commands *storage.CommandStore
	media    *MediaService
	health   HealthChecker
}

// HealthChecker probes a provider's reachability without touching any sync
// state. Satisfied by the orchestrator.
type HealthChecker interface {
	HealthCheck(ctx context.Context, cfg *models.ProviderConfig) provider.Health
}

func NewAdminService(store *storage.PostgresStore, commands *storage.CommandStore, media *MediaService, health HealthChecker) *AdminService {
	return &AdminService{
		store:    store,
		commands: commands,
		media:    media,
		health:   health,
	}
}

// ProviderStatus is one provider's combined view for the status listing.
type ProviderStatus struct {
	Provider         *models.ProviderConfig `json:"provider"`
	Sync             *models.SyncStatus     `json:"sync,omitempty"`
	UnresolvedErrors map[string]int         `json:"unresolved_errors,omitempty"`
}

// Status returns every configured provider with its current sync state and
// unresolved error counts by category.
func (s *AdminService) Status(ctx context.Context) ([]ProviderStatus, error) {
	configs, err := s.store.ListProviderConfigs(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	statuses, err := s.store.ListSyncStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sync statuses: %w", err)
	}
	byProvider := make(map[string]*models.SyncStatus, len(statuses))
	for i := range statuses {
		byProvider[statuses[i].ProviderID] = &statuses[i]
	}

	var out []ProviderStatus
	for _, cfg := range configs {
		ps := ProviderStatus{Provider: cfg, Sync: byProvider[cfg.ID]}
		counts, err := s.store.CountUnresolvedByCategory(ctx, cfg.ID)
		if err != nil {
			return nil, fmt.Errorf("count errors: %w", err)
		}
		if len(counts) > 0 {
			ps.UnresolvedErrors = counts
		}
		out = append(out, ps)
	}
	return out, nil
}

// History returns recent runs, newest first. Empty providerID means all.
func (s *AdminService) History(ctx context.Context, providerID string, limit, offset int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListSyncRuns(ctx, providerID, limit, offset)
}

// Stats returns aggregate run outcomes. Empty providerID means all.
func (s *AdminService) Stats(ctx context.Context, providerID string) (*storage.SyncStats, error) {
	return s.store.GetSyncStats(ctx, providerID)
}

// Errors returns the unresolved error ledger, newest first.
func (s *AdminService) Errors(ctx context.Context, providerID string, limit int) ([]models.SyncError, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListUnresolvedErrors(ctx, providerID, limit)
}

// ResolveError flips one ledger entry to resolved.
func (s *AdminService) ResolveError(ctx context.Context, id int64) error {
	return s.store.ResolveSyncError(ctx, id)
}

// Health probes one provider end to end: adapter construction, connect,
// and the protocol-level liveness check.
func (s *AdminService) Health(ctx context.Context, providerID string) (*provider.Health, error) {
	cfg, err := s.store.GetProviderConfig(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("unknown provider: %s", providerID)
	}
	h := s.health.HealthCheck(ctx, cfg)
	return &h, nil
}

// MediaQueueDepth reports media pipeline row counts by status.
func (s *AdminService) MediaQueueDepth(ctx context.Context) (map[string]int, error) {
	return s.media.QueueDepth(ctx)
}

// TriggerSync queues an immediate sync for one provider. The scheduler
// picks it up on its next command poll.
func (s *AdminService) TriggerSync(providerID, syncType string) error {
	if syncType != "" && syncType != models.SyncTypeFull && syncType != models.SyncTypeIncremental {
		return fmt.Errorf("unknown sync type %q", syncType)
	}
	return s.commands.EnqueueCommand(models.CmdSyncProvider, &models.CommandParams{
		Provider: providerID,
		SyncType: syncType,
	})
}

// CancelSync requests cancellation of an in-flight run. Returns false when
// no run is active for the provider.
func (s *AdminService) CancelSync(ctx context.Context, providerID string) (bool, error) {
	return s.store.RequestCancel(ctx, providerID)
}

// SetProviderEnabled enables or disables a provider for scheduling. An
// in-flight run finishes; the flag only gates future runs.
func (s *AdminService) SetProviderEnabled(ctx context.Context, providerID string, enabled bool) error {
	return s.store.SetProviderEnabled(ctx, providerID, enabled)
}

// SetProviderInterval changes a provider's incremental sync interval.
func (s *AdminService) SetProviderInterval(ctx context.Context, providerID string, interval time.Duration) error {
	if interval < time.Minute {
		return fmt.Errorf("interval %s too short, minimum 1m", interval)
	}
	return s.store.SetProviderInterval(ctx, providerID, interval)
}

// Pause stops the scheduler from starting new runs until Resume.
func (s *AdminService) Pause() error {
	return s.commands.EnqueueCommand(models.CmdPause, nil)
}

// Resume re-enables scheduling after a Pause.
func (s *AdminService) Resume() error {
	return s.commands.EnqueueCommand(models.CmdResume, nil)
}
