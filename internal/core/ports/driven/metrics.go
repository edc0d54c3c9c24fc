package driven

import (
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// Token refresh outcomes reported to Metrics
const (
	RefreshOutcomeSuccess   = "success"
	RefreshOutcomeRevoked   = "revoked"
	RefreshOutcomeTransient = "transient"
)

// Metrics records integration events for observability.
type Metrics interface {
	ObserveSync(result *domain.SyncResult)
	ObserveTokenRefresh(provider domain.ProviderType, outcome string, elapsed time.Duration)
	ObserveConversion(provider domain.ProviderType, status domain.ConversionStatus)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ObserveSync(*domain.SyncResult)                                 {}
func (NopMetrics) ObserveTokenRefresh(domain.ProviderType, string, time.Duration) {}
func (NopMetrics) ObserveConversion(domain.ProviderType, domain.ConversionStatus) {}
