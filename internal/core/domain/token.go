package domain

import (
	"encoding/json"
	"time"
)

// TokenRecord holds the OAuth credentials for a company's active provider.
//
// Raw keeps the token response exactly as the provider returned it
// (QuickBooks: x_refresh_token_expires_in, realmId; Xero: id_token, scope).
// The typed fields are the normalized view used at the adapter boundary.
// Secrets only leave the TokenStore encrypted.
type TokenRecord struct {
	CompanyID     string          `json:"company_id"`
	Provider      ProviderType    `json:"provider"`
	TenantID      string          `json:"tenant_id,omitempty"`
	AccessToken   string          `json:"access_token"`
	RefreshToken  string          `json:"refresh_token"`
	TokenType     string          `json:"token_type,omitempty"`
	Expiry        time.Time       `json:"expiry"`
	RefreshExpiry *time.Time      `json:"refresh_expiry,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NeedsRefresh returns true if the access token expires within window of now.
// A zero expiry is treated as unknown and forces a refresh.
func (t *TokenRecord) NeedsRefresh(now time.Time, window time.Duration) bool {
	if t.Expiry.IsZero() {
		return true
	}
	return !now.Add(window).Before(t.Expiry)
}

// RefreshExpired returns true if the provider told us the refresh token is past its lifetime.
func (t *TokenRecord) RefreshExpired(now time.Time) bool {
	return t.RefreshExpiry != nil && !now.Before(*t.RefreshExpiry)
}

// UserInfo is the identity of the user who authorized the connection
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// CompanyInfo is the remote organisation a token is bound to
type CompanyInfo struct {
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	LegalName   string `json:"legal_name,omitempty"`
	Country     string `json:"country,omitempty"`
	CurrencyISO string `json:"currency,omitempty"`
}
