package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

func TestRegistry_ObserveSync(t *testing.T) {
	r := NewRegistry()

	r.ObserveSync(&domain.SyncResult{
		Provider:  domain.ProviderQuickBooks,
		Success:   true,
		Customers: domain.SyncCounts{Total: 3, Created: 2, Updated: 1},
		Products:  domain.SyncCounts{Total: 4, Created: 1, Errored: 3},
		Duration:  2 * time.Second,
	})
	r.ObserveSync(&domain.SyncResult{Provider: domain.ProviderXero, ReAuthRequired: true})
	r.ObserveSync(&domain.SyncResult{Skipped: true})
	r.ObserveSync(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.SyncRunsTotal.WithLabelValues("quickbooks", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SyncRunsTotal.WithLabelValues("xero", "reauth_required")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SyncRunsTotal.WithLabelValues("none", "skipped")))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.SyncRecordsTotal.WithLabelValues("quickbooks", "customer", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SyncRecordsTotal.WithLabelValues("quickbooks", "customer", "updated")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.SyncRecordsTotal.WithLabelValues("quickbooks", "product", "errored")))

	// Skipped runs record no duration
	assert.Equal(t, 2, testutil.CollectAndCount(r.SyncDuration))
}

func TestRegistry_ObserveTokenRefresh(t *testing.T) {
	r := NewRegistry()

	r.ObserveTokenRefresh(domain.ProviderXero, driven.RefreshOutcomeSuccess, 300*time.Millisecond)
	r.ObserveTokenRefresh(domain.ProviderXero, driven.RefreshOutcomeRevoked, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.TokenRefreshTotal.WithLabelValues("xero", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TokenRefreshTotal.WithLabelValues("xero", "revoked")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.TokenRefreshDuration))
}

func TestRegistry_ObserveConversion(t *testing.T) {
	r := NewRegistry()

	r.ObserveConversion(domain.ProviderQuickBooks, domain.ConversionSuccess)
	r.ObserveConversion(domain.ProviderQuickBooks, domain.ConversionFailed)
	r.ObserveConversion(domain.ProviderQuickBooks, domain.ConversionFailed)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.ConversionsTotal.WithLabelValues("quickbooks", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.ConversionsTotal.WithLabelValues("quickbooks", "failed")))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.ObserveConversion(domain.ProviderXero, domain.ConversionSuccess)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `ledgersync_conversions_total{provider="xero",status="success"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
