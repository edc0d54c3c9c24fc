package domain

import "time"

// ConnectionStatus describes the state of a company's provider connection
type ConnectionStatus string

const (
	ConnectionStatusDisconnected   ConnectionStatus = "disconnected"
	ConnectionStatusConnected      ConnectionStatus = "connected"
	ConnectionStatusReAuthRequired ConnectionStatus = "reauth_required"
)

// DefaultSyncInterval is used when a company has no interval configured
const DefaultSyncInterval = time.Hour

// Company is a tenant of the picking application. At most one provider
// connection is active at a time.
type Company struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Provider         ProviderType     `json:"provider,omitempty"`
	TenantID         string           `json:"tenant_id,omitempty"` // realm id (QuickBooks) or tenant id (Xero)
	ConnectionStatus ConnectionStatus `json:"connection_status"`

	SyncEnabled  bool          `json:"sync_enabled"`
	SyncInterval time.Duration `json:"sync_interval"`

	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
	LastSyncAttemptAt *time.Time `json:"last_sync_attempt_at,omitempty"`
	LastSyncError     string     `json:"last_sync_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasProvider returns true if the company has an active provider binding.
func (c *Company) HasProvider() bool {
	return c.Provider != ""
}

// IsConnected returns true if provider calls may be attempted for this company.
func (c *Company) IsConnected() bool {
	return c.HasProvider() && c.ConnectionStatus == ConnectionStatusConnected
}

// EffectiveSyncInterval returns the configured interval or the default
func (c *Company) EffectiveSyncInterval() time.Duration {
	if c.SyncInterval <= 0 {
		return DefaultSyncInterval
	}
	return c.SyncInterval
}

// IsSyncDue returns true if the last successful sync is older than the interval.
// A company that never synced is always due.
func (c *Company) IsSyncDue(now time.Time) bool {
	if c.LastSyncAt == nil {
		return true
	}
	return !now.Before(c.LastSyncAt.Add(c.EffectiveSyncInterval()))
}
