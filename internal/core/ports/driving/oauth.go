package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// ConnectService handles the OAuth flow that binds a company to a provider.
type ConnectService interface {
	// Authorize starts an OAuth authorization flow for a company.
	Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error)

	// Callback verifies the state, exchanges the code and binds the company.
	Callback(ctx context.Context, req CallbackRequest) (*CallbackResponse, error)

	// Disconnect revokes (best effort) and removes the company's connection.
	Disconnect(ctx context.Context, companyID string) error
}

// AuthorizeRequest represents a request to start an OAuth flow.
type AuthorizeRequest struct {
	CompanyID string              `json:"company_id"`
	Provider  domain.ProviderType `json:"provider"`
}

// AuthorizeResponse contains the authorization URL and the signed state.
type AuthorizeResponse struct {
	AuthorizationURL string    `json:"authorization_url"`
	State            string    `json:"state"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// CallbackRequest represents the OAuth callback from the provider.
type CallbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`

	// RealmID is sent by QuickBooks on the redirect.
	RealmID string `json:"realm_id,omitempty"`

	// Error is set if the provider returned an error.
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// CallbackResponse contains the result of the OAuth callback.
type CallbackResponse struct {
	Company *domain.Company `json:"company"`
	Message string          `json:"message"`
}

// OAuthError represents an OAuth-specific error.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return e.Code + ": " + e.Description
	}
	return e.Code
}

// Common OAuth errors
var (
	ErrOAuthInvalidState     = &OAuthError{Code: "invalid_state", Description: "The state parameter is invalid or expired"}
	ErrOAuthProviderNotFound = &OAuthError{Code: "provider_not_found", Description: "The provider is not configured"}
	ErrOAuthExchangeFailed   = &OAuthError{Code: "exchange_failed", Description: "Failed to exchange authorization code for tokens"}
)
