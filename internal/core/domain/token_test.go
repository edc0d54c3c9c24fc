package domain

import (
	"testing"
	"time"
)

func TestTokenRecord_NeedsRefresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 5 * time.Minute

	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"unknown expiry", time.Time{}, true},
		{"expired", now.Add(-time.Minute), true},
		{"inside window", now.Add(4 * time.Minute), true},
		{"at window edge", now.Add(window), true},
		{"fresh", now.Add(time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := &TokenRecord{Expiry: tt.expiry}
			if got := tok.NeedsRefresh(now, window); got != tt.want {
				t.Errorf("NeedsRefresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenRecord_RefreshExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(100 * 24 * time.Hour)

	if (&TokenRecord{}).RefreshExpired(now) {
		t.Error("unknown refresh expiry should not count as expired")
	}
	if !(&TokenRecord{RefreshExpiry: &past}).RefreshExpired(now) {
		t.Error("past refresh expiry should be expired")
	}
	if (&TokenRecord{RefreshExpiry: &future}).RefreshExpired(now) {
		t.Error("future refresh expiry should not be expired")
	}
}
