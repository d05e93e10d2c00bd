package models

import (
	"testing"
	"time"
)

func TestProviderConfigDue(t *testing.T) {
	now := time.Now()
	recent := now.Add(-5 * time.Minute)
	old := now.Add(-2 * time.Hour)

	cases := []struct {
		name string
		cfg  ProviderConfig
		want bool
	}{
		{"never synced", ProviderConfig{Enabled: true, SyncInterval: time.Hour}, true},
		{"recently synced", ProviderConfig{Enabled: true, SyncInterval: time.Hour, LastSyncedAt: &recent}, false},
		{"overdue", ProviderConfig{Enabled: true, SyncInterval: time.Hour, LastSyncedAt: &old}, true},
		{"disabled", ProviderConfig{Enabled: false, SyncInterval: time.Hour, LastSyncedAt: &old}, false},
	}

	for _, tc := range cases {
		if got := tc.cfg.Due(now); got != tc.want {
			t.Errorf("%s: Due = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEffectiveBatchSize(t *testing.T) {
	p := &ProviderConfig{}
	if p.EffectiveBatchSize(200) != 200 {
		t.Fatalf("expected fallback, got %d", p.EffectiveBatchSize(200))
	}
	p.BatchSize = 50
	if p.EffectiveBatchSize(200) != 50 {
		t.Fatalf("expected configured size, got %d", p.EffectiveBatchSize(200))
	}
}
