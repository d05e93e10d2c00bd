package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"mlsync/models"
)

// FixtureAdapter serves records from static JSON files on disk. Used for
// local development and as the deterministic provider in tests: BaseURL is
// a directory holding records.json and media.json.
type FixtureAdapter struct {
	cfg      *models.ProviderConfig
	pageSize int
}

func NewFixtureAdapter(cfg *models.ProviderConfig) *FixtureAdapter {
	return &FixtureAdapter{cfg: cfg, pageSize: cfg.EffectiveBatchSize(100)}
}

func (a *FixtureAdapter) ID() string {
	return a.cfg.ID
}

func (a *FixtureAdapter) Connect(ctx context.Context) error {
	if _, err := os.Stat(a.recordsPath()); err != nil {
		return &ConnectivityError{Provider: a.cfg.ID, Err: err}
	}
	return nil
}

func (a *FixtureAdapter) FetchPage(ctx context.Context, since *time.Time, cursor string) (*Page, error) {
	records, err := a.loadRecords()
	if err != nil {
		return nil, &ConnectivityError{Provider: a.cfg.ID, Err: err}
	}

	if since != nil {
		filtered := records[:0]
		for _, rec := range records {
			if ts, ok := recordModifiedAt(rec); !ok || !ts.Before(*since) {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q: %w", cursor, err)
		}
		start = n
	}
	if start >= len(records) {
		return &Page{}, nil
	}

	end := start + a.pageSize
	if end > len(records) {
		end = len(records)
	}

	page := &Page{Records: records[start:end]}
	if end < len(records) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (a *FixtureAdapter) FetchMedia(ctx context.Context, externalID string) ([]MediaRef, error) {
	data, err := os.ReadFile(filepath.Join(a.cfg.BaseURL, "media.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var byListing map[string][]string
	if err := json.Unmarshal(data, &byListing); err != nil {
		return nil, fmt.Errorf("decode media.json: %w", err)
	}

	var refs []MediaRef
	for i, u := range byListing[externalID] {
		refs = append(refs, MediaRef{URL: u, Position: i})
	}
	return refs, nil
}

func (a *FixtureAdapter) HealthCheck(ctx context.Context) Health {
	h := Health{CheckedAt: time.Now()}
	if _, err := os.Stat(a.recordsPath()); err != nil {
		h.Detail = err.Error()
		return h
	}
	h.OK = true
	return h
}

func (a *FixtureAdapter) Disconnect() error {
	return nil
}

func (a *FixtureAdapter) recordsPath() string {
	return filepath.Join(a.cfg.BaseURL, "records.json")
}

func (a *FixtureAdapter) loadRecords() ([]Record, error) {
	data, err := os.ReadFile(a.recordsPath())
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode records.json: %w", err)
	}

	records := make([]Record, 0, len(raws))
	for _, raw := range raws {
		var fields map[string]interface{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, Record{Fields: fields, Raw: raw})
	}

	// Stable order keeps cursors meaningful across reads.
	sort.SliceStable(records, func(i, j int) bool {
		a, _ := records[i].Lookup("mls")
		b, _ := records[j].Lookup("mls")
		as, _ := a.(string)
		bs, _ := b.(string)
		return as < bs
	})

	return records, nil
}

func recordModifiedAt(rec Record) (time.Time, bool) {
	v, ok := rec.Lookup("modified_at")
	if !ok {
		return time.Time{}, false
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
