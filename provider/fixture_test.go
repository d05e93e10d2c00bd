package provider

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mlsync/models"
)

func writeFixtureDir(t *testing.T, records []map[string]interface{}, media map[string][]string) string {
	t.Helper()
	dir := t.TempDir()

	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("encode records: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "records.json"), data, 0o644); err != nil {
		t.Fatalf("write records.json: %v", err)
	}

	if media != nil {
		data, err := json.Marshal(media)
		if err != nil {
			t.Fatalf("encode media: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "media.json"), data, 0o644); err != nil {
			t.Fatalf("write media.json: %v", err)
		}
	}

	return dir
}

func TestFixtureAdapter_Paging(t *testing.T) {
	records := []map[string]interface{}{
		{"mls": "F3", "modified_at": "2026-03-03T00:00:00Z"},
		{"mls": "F1", "modified_at": "2026-03-01T00:00:00Z"},
		{"mls": "F2", "modified_at": "2026-03-02T00:00:00Z"},
	}
	dir := writeFixtureDir(t, records, nil)

	cfg := &models.ProviderConfig{ID: "fixture", BaseURL: dir}
	adapter := NewFixtureAdapter(cfg)
	adapter.pageSize = 2

	ctx := context.Background()
	if err := adapter.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	page, err := adapter.FetchPage(ctx, nil, "")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page.Records))
	}
	// Sorted by mls, not file order.
	if v, _ := page.Records[0].Lookup("mls"); v != "F1" {
		t.Fatalf("expected F1 first, got %v", v)
	}
	if page.NextCursor != "2" {
		t.Fatalf("expected cursor 2, got %q", page.NextCursor)
	}

	page, err = adapter.FetchPage(ctx, nil, page.NextCursor)
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if len(page.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(page.Records))
	}
	if page.NextCursor != "" {
		t.Fatalf("expected exhausted cursor, got %q", page.NextCursor)
	}
}

func TestFixtureAdapter_SinceFilter(t *testing.T) {
	records := []map[string]interface{}{
		{"mls": "F1", "modified_at": "2026-03-01T00:00:00Z"},
		{"mls": "F2", "modified_at": "2026-03-09T00:00:00Z"},
	}
	dir := writeFixtureDir(t, records, nil)

	cfg := &models.ProviderConfig{ID: "fixture", BaseURL: dir}
	adapter := NewFixtureAdapter(cfg)

	since := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	page, err := adapter.FetchPage(context.Background(), &since, "")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(page.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(page.Records))
	}
	if v, _ := page.Records[0].Lookup("mls"); v != "F2" {
		t.Fatalf("expected F2, got %v", v)
	}
}

func TestFixtureAdapter_Media(t *testing.T) {
	dir := writeFixtureDir(t, []map[string]interface{}{{"mls": "F1"}}, map[string][]string{
		"F1": {"https://img.example.com/1.jpg", "https://img.example.com/2.jpg"},
	})

	cfg := &models.ProviderConfig{ID: "fixture", BaseURL: dir}
	adapter := NewFixtureAdapter(cfg)

	refs, err := adapter.FetchMedia(context.Background(), "F1")
	if err != nil {
		t.Fatalf("fetch media failed: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(refs))
	}
	if refs[1].Position != 1 {
		t.Fatalf("expected position 1, got %d", refs[1].Position)
	}

	refs, err = adapter.FetchMedia(context.Background(), "UNKNOWN")
	if err != nil {
		t.Fatalf("unknown listing should not error: %v", err)
	}
	if refs != nil {
		t.Fatalf("expected nil refs for unknown listing")
	}
}

func TestFixtureAdapter_ConnectMissingDir(t *testing.T) {
	cfg := &models.ProviderConfig{ID: "fixture", BaseURL: filepath.Join(t.TempDir(), "absent")}
	adapter := NewFixtureAdapter(cfg)

	if err := adapter.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect to fail for missing directory")
	}
}
