package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"mlsync/httputil"
	"mlsync/models"
	"mlsync/provider"
	"mlsync/services"
	"mlsync/storage"
)

// fakeStore implements Store and services.PropertyStore in memory.
type fakeStore struct {
	mu         sync.Mutex
	properties map[string]*models.Property // provider/external
	locked     map[string]bool
	lockedAt   map[string]time.Time
	cancel     map[string]bool
	runs       []models.SyncRun
	errs       []models.SyncError
	watermarks map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		properties: make(map[string]*models.Property),
		locked:     make(map[string]bool),
		lockedAt:   make(map[string]time.Time),
		cancel:     make(map[string]bool),
		watermarks: make(map[string]time.Time),
	}
}

func propKey(providerID, externalID string) string {
	return providerID + "/" + externalID
}

func (s *fakeStore) AcquireRunLock(ctx context.Context, providerID string, runID uuid.UUID, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked[providerID] {
		if !s.lockedAt[providerID].Before(staleBefore) {
			return false, storage.ErrRunActive
		}
		// Stale running row from a crashed run: take it over.
		s.lockedAt[providerID] = time.Now()
		return true, nil
	}
	s.locked[providerID] = true
	s.lockedAt[providerID] = time.Now()
	return false, nil
}

func (s *fakeStore) UpdateRunCounters(ctx context.Context, providerID string, c models.SyncCounters) error {
	return nil
}

func (s *fakeStore) FinishRun(ctx context.Context, providerID, state string, c models.SyncCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked[providerID] = false
	s.cancel[providerID] = false
	return nil
}

func (s *fakeStore) CancelRequested(ctx context.Context, providerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel[providerID], nil
}

func (s *fakeStore) InsertSyncRun(ctx context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *fakeStore) InsertSyncError(ctx context.Context, e *models.SyncError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, *e)
	return nil
}

func (s *fakeStore) UpdateProviderLastSynced(ctx context.Context, id string, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[id] = syncedAt
	return nil
}

func (s *fakeStore) GetPropertyByExternalID(ctx context.Context, providerID, externalID string) (*models.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.properties[propKey(providerID, externalID)]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) UpsertProperty(ctx context.Context, p *models.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.properties[propKey(p.ProviderID, p.ExternalID)] = &cp
	return nil
}

func (s *fakeStore) TouchPropertySync(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.properties {
		if p.ID == id {
			p.LastSyncedAt = syncedAt
		}
	}
	return nil
}

// fakeMediaQueue records enqueued refs.
type fakeMediaQueue struct {
	mu     sync.Mutex
	queued map[uuid.UUID][]provider.MediaRef
}

func newFakeMediaQueue() *fakeMediaQueue {
	return &fakeMediaQueue{queued: make(map[uuid.UUID][]provider.MediaRef)}
}

func (q *fakeMediaQueue) Enqueue(ctx context.Context, propertyID uuid.UUID, refs []provider.MediaRef) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fresh := 0
	seen := make(map[string]bool)
	for _, existing := range q.queued[propertyID] {
		seen[existing.URL] = true
	}
	for _, ref := range refs {
		if !seen[ref.URL] {
			q.queued[propertyID] = append(q.queued[propertyID], ref)
			fresh++
		}
	}
	return fresh, nil
}

// fakeAdapter serves canned pages.
type fakeAdapter struct {
	pages      []provider.Page
	media      map[string][]provider.MediaRef
	connectErr error
	fetches    int
	lastSince  *time.Time
}

func (a *fakeAdapter) ID() string                      { return "fake" }
func (a *fakeAdapter) Connect(ctx context.Context) error { return a.connectErr }
func (a *fakeAdapter) Disconnect() error               { return nil }

func (a *fakeAdapter) FetchPage(ctx context.Context, since *time.Time, cursor string) (*provider.Page, error) {
	a.lastSince = since
	idx := 0
	if cursor != "" {
		idx = a.fetches
	}
	a.fetches++
	if idx >= len(a.pages) {
		return &provider.Page{}, nil
	}
	return &a.pages[idx], nil
}

func (a *fakeAdapter) FetchMedia(ctx context.Context, externalID string) ([]provider.MediaRef, error) {
	return a.media[externalID], nil
}

func (a *fakeAdapter) HealthCheck(ctx context.Context) provider.Health {
	return provider.Health{OK: true, CheckedAt: time.Now()}
}

func rec(fields map[string]interface{}) provider.Record {
	raw, _ := json.Marshal(fields)
	return provider.Record{Fields: fields, Raw: raw}
}

func testProviderConfig() *models.ProviderConfig {
	return &models.ProviderConfig{
		ID:       "fake",
		Protocol: models.ProtocolFixture,
		Mapping: []models.MappingRule{
			{Source: "mls", Target: "external_id", Required: true},
			{Source: "status", Target: "status"},
			{Source: "price", Target: "price"},
			{Source: "modified", Target: "modified_at"},
		},
		SyncInterval:     time.Hour,
		FullSyncInterval: 7 * 24 * time.Hour,
	}
}

func newTestOrchestrator(store *fakeStore, media *fakeMediaQueue, adapter provider.Adapter) *Orchestrator {
	o := NewOrchestrator(store, services.NewPropertyService(store), media, httputil.NewClients(), 2*time.Hour)
	o.SetAdapterFactory(func(cfg *models.ProviderConfig, clients *httputil.Clients) (provider.Adapter, error) {
		return adapter, nil
	})
	return o
}

func TestSyncProvider_FullRun(t *testing.T) {
	store := newFakeStore()
	media := newFakeMediaQueue()
	adapter := &fakeAdapter{
		pages: []provider.Page{
			{
				Records: []provider.Record{
					rec(map[string]interface{}{"mls": "A1", "status": "active", "price": float64(100000), "modified": "2026-03-01T00:00:00Z"}),
					rec(map[string]interface{}{"mls": "A2", "status": "pending", "price": float64(200000), "modified": "2026-03-02T00:00:00Z"}),
				},
				NextCursor: "2",
			},
			{
				Records: []provider.Record{
					rec(map[string]interface{}{"mls": "A3", "status": "sold", "price": float64(300000), "modified": "2026-03-03T00:00:00Z"}),
				},
			},
		},
		media: map[string][]provider.MediaRef{
			"A1": {{URL: "https://img.example.com/a1.jpg", Position: 0}},
		},
	}

	o := newTestOrchestrator(store, media, adapter)
	run, err := o.SyncProvider(context.Background(), testProviderConfig(), "")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if run.SyncType != models.SyncTypeFull {
		t.Fatalf("never-synced provider should run full, got %s", run.SyncType)
	}
	if run.Outcome != models.SyncStateSuccess {
		t.Fatalf("expected success, got %s (%s)", run.Outcome, run.ErrorMessage)
	}
	if run.Processed != 3 || run.Created != 3 || run.Updated != 0 || run.Failed != 0 {
		t.Fatalf("unexpected counters: %+v", run)
	}
	if run.MediaQueued != 1 {
		t.Fatalf("expected 1 media queued, got %d", run.MediaQueued)
	}
	if len(store.properties) != 3 {
		t.Fatalf("expected 3 properties stored, got %d", len(store.properties))
	}
	if adapter.lastSince != nil {
		t.Fatalf("full sync should pass nil since")
	}
	if _, ok := store.watermarks["fake"]; !ok {
		t.Fatalf("successful run should advance the watermark")
	}
	if store.locked["fake"] {
		t.Fatalf("lock should be released")
	}
}

func TestSyncProvider_Idempotent(t *testing.T) {
	store := newFakeStore()
	fields := map[string]interface{}{"mls": "A1", "status": "active", "price": float64(100000), "modified": "2026-03-01T00:00:00Z"}
	adapter := &fakeAdapter{pages: []provider.Page{{Records: []provider.Record{rec(fields)}}}}

	o := newTestOrchestrator(store, newFakeMediaQueue(), adapter)
	cfg := testProviderConfig()

	if _, err := o.SyncProvider(context.Background(), cfg, models.SyncTypeFull); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	firstID := store.properties["fake/A1"].ID

	adapter.fetches = 0
	run, err := o.SyncProvider(context.Background(), cfg, models.SyncTypeFull)
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}

	if len(store.properties) != 1 {
		t.Fatalf("replay must not duplicate, got %d properties", len(store.properties))
	}
	if store.properties["fake/A1"].ID != firstID {
		t.Fatalf("replay must keep the row identity")
	}
	// Same modified_at: the record is a stale replay, not an update.
	if run.Created != 0 || run.Updated != 0 {
		t.Fatalf("replay should count as neither created nor updated: %+v", run)
	}
}

func TestSyncProvider_StaleRecordKeepsNewerData(t *testing.T) {
	store := newFakeStore()
	newer := map[string]interface{}{"mls": "A1", "status": "sold", "price": float64(999000), "modified": "2026-03-09T00:00:00Z"}
	older := map[string]interface{}{"mls": "A1", "status": "active", "price": float64(100000), "modified": "2026-03-01T00:00:00Z"}

	cfg := testProviderConfig()
	o := newTestOrchestrator(store, newFakeMediaQueue(), &fakeAdapter{pages: []provider.Page{{Records: []provider.Record{rec(newer)}}}})
	if _, err := o.SyncProvider(context.Background(), cfg, models.SyncTypeFull); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}

	o = newTestOrchestrator(store, newFakeMediaQueue(), &fakeAdapter{pages: []provider.Page{{Records: []provider.Record{rec(older)}}}})
	if _, err := o.SyncProvider(context.Background(), cfg, models.SyncTypeFull); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}

	got := store.properties["fake/A1"]
	if got.Status != models.PropertyStatusSold {
		t.Fatalf("stale record clobbered status: %s", got.Status)
	}
	if got.Price == nil || *got.Price != 999000 {
		t.Fatalf("stale record clobbered price: %v", got.Price)
	}
}

func TestSyncProvider_MalformedRecordIsolated(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{
		pages: []provider.Page{{
			Records: []provider.Record{
				rec(map[string]interface{}{"mls": "A1", "price": float64(100000)}),
				rec(map[string]interface{}{"price": float64(5)}), // no external id
				rec(map[string]interface{}{"mls": "A3", "price": "not a number"}),
				rec(map[string]interface{}{"mls": "A4", "price": float64(400000)}),
			},
		}},
	}

	o := newTestOrchestrator(store, newFakeMediaQueue(), adapter)
	run, err := o.SyncProvider(context.Background(), testProviderConfig(), models.SyncTypeFull)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if run.Outcome != models.SyncStateSuccess {
		t.Fatalf("bad records must not fail the run, got %s", run.Outcome)
	}
	if run.Processed != 4 || run.Created != 2 || run.Failed != 2 {
		t.Fatalf("unexpected counters: processed=%d created=%d failed=%d", run.Processed, run.Created, run.Failed)
	}
	if len(store.errs) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(store.errs))
	}
	for _, e := range store.errs {
		if e.Category != models.ErrorCategoryMapping {
			t.Fatalf("expected mapping category, got %s", e.Category)
		}
	}
	// The bad-price record still names its external id.
	if store.errs[1].ExternalID != "A3" {
		t.Fatalf("expected ledger entry for A3, got %q", store.errs[1].ExternalID)
	}
}

func TestSyncProvider_LockSkip(t *testing.T) {
	store := newFakeStore()
	store.locked["fake"] = true
	store.lockedAt["fake"] = time.Now()

	o := newTestOrchestrator(store, newFakeMediaQueue(), &fakeAdapter{})
	_, err := o.SyncProvider(context.Background(), testProviderConfig(), models.SyncTypeFull)
	if !errors.Is(err, storage.ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}
	if len(store.runs) != 0 {
		t.Fatalf("skipped run must not write history")
	}
}

func TestSyncProvider_StaleLockReclaimed(t *testing.T) {
	store := newFakeStore()
	store.locked["fake"] = true
	store.lockedAt["fake"] = time.Now().Add(-3 * time.Hour) // past the 2h stale age

	adapter := &fakeAdapter{pages: []provider.Page{{
		Records: []provider.Record{rec(map[string]interface{}{"mls": "A1"})},
	}}}

	o := newTestOrchestrator(store, newFakeMediaQueue(), adapter)
	run, err := o.SyncProvider(context.Background(), testProviderConfig(), models.SyncTypeFull)
	if err != nil {
		t.Fatalf("stale lock should be reclaimed, got %v", err)
	}
	if run.Outcome != models.SyncStateSuccess {
		t.Fatalf("expected success after takeover, got %s", run.Outcome)
	}
	if run.Created != 1 {
		t.Fatalf("expected the record to sync, got %d created", run.Created)
	}
}

func TestSyncProvider_Cancellation(t *testing.T) {
	store := newFakeStore()
	store.cancel["fake"] = true

	adapter := &fakeAdapter{pages: []provider.Page{{
		Records: []provider.Record{rec(map[string]interface{}{"mls": "A1"})},
	}}}

	o := newTestOrchestrator(store, newFakeMediaQueue(), adapter)
	run, err := o.SyncProvider(context.Background(), testProviderConfig(), models.SyncTypeFull)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if run.Outcome != models.SyncStateCancelled {
		t.Fatalf("expected cancelled, got %s", run.Outcome)
	}
	if run.Processed != 0 {
		t.Fatalf("cancel before first batch should process nothing, got %d", run.Processed)
	}
	if _, ok := store.watermarks["fake"]; ok {
		t.Fatalf("cancelled run must not advance the watermark")
	}
}

func TestSyncProvider_ConnectFailure(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{connectErr: &provider.AuthenticationError{Provider: "fake", Detail: "bad key"}}

	o := newTestOrchestrator(store, newFakeMediaQueue(), adapter)
	run, err := o.SyncProvider(context.Background(), testProviderConfig(), models.SyncTypeFull)
	if err == nil {
		t.Fatalf("expected connect error")
	}
	if run.Outcome != models.SyncStateFailed {
		t.Fatalf("expected failed, got %s", run.Outcome)
	}
	if len(store.errs) != 1 || store.errs[0].Category != models.ErrorCategoryAuthentication {
		t.Fatalf("expected one authentication ledger entry, got %+v", store.errs)
	}
	if _, ok := store.watermarks["fake"]; ok {
		t.Fatalf("failed run must not advance the watermark")
	}
	if store.locked["fake"] {
		t.Fatalf("lock must be released after failure")
	}
}

func TestSyncProvider_IncrementalUsesWatermark(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{pages: []provider.Page{{}}}

	cfg := testProviderConfig()
	last := time.Now().Add(-time.Hour).UTC()
	cfg.LastSyncedAt = &last

	o := newTestOrchestrator(store, newFakeMediaQueue(), adapter)
	run, err := o.SyncProvider(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if run.SyncType != models.SyncTypeIncremental {
		t.Fatalf("recently synced provider should run incremental, got %s", run.SyncType)
	}
	if adapter.lastSince == nil || !adapter.lastSince.Equal(last) {
		t.Fatalf("incremental should pass the watermark, got %v", adapter.lastSince)
	}
}

func TestChooseSyncType_FullWhenOverdue(t *testing.T) {
	o := &Orchestrator{}
	cfg := testProviderConfig()
	old := time.Now().Add(-30 * 24 * time.Hour)
	cfg.LastSyncedAt = &old

	if got := o.chooseSyncType(cfg); got != models.SyncTypeFull {
		t.Fatalf("overdue provider should run full, got %s", got)
	}
}

func TestHealthCheck(t *testing.T) {
	o := newTestOrchestrator(newFakeStore(), newFakeMediaQueue(), &fakeAdapter{})

	h := o.HealthCheck(context.Background(), testProviderConfig())
	if !h.OK {
		t.Fatalf("expected healthy, got %+v", h)
	}
}

func TestHealthCheck_ConnectFailure(t *testing.T) {
	adapter := &fakeAdapter{connectErr: &provider.ConnectivityError{Provider: "fake", Err: errors.New("refused")}}
	o := newTestOrchestrator(newFakeStore(), newFakeMediaQueue(), adapter)

	h := o.HealthCheck(context.Background(), testProviderConfig())
	if h.OK {
		t.Fatalf("expected unhealthy")
	}
	if !strings.Contains(h.Detail, "refused") {
		t.Fatalf("detail should carry the cause, got %q", h.Detail)
	}
}
