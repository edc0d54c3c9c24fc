// Package xero implements the provider adapter for Xero accounting.
package xero

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/ledgersync/internal/adapters/driven/providers"
	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ProviderAdapter = (*Adapter)(nil)

const (
	defaultAuthURL        = "https://login.xero.com/identity/connect/authorize"
	defaultTokenURL       = "https://identity.xero.com/connect/token"
	defaultRevokeURL      = "https://identity.xero.com/connect/revocation"
	defaultConnectionsURL = "https://api.xero.com/connections"
	defaultAPIBaseURL     = "https://api.xero.com/api.xro/2.0"
	defaultAppBaseURL     = "https://go.xero.com"

	// DefaultRefreshWindow refreshes access tokens five minutes before expiry.
	DefaultRefreshWindow = 5 * time.Minute

	tenantHeader = "xero-tenant-id"
)

// DefaultScopes are requested when the config names none.
// offline_access is what makes Xero issue a refresh token.
var DefaultScopes = []string{
	"openid", "profile", "email", "offline_access",
	"accounting.settings.read", "accounting.contacts.read", "accounting.transactions",
}

// revokedCodes are token endpoint errors meaning the grant is gone.
var revokedCodes = []string{"invalid_grant", "unauthorized_client"}

var rawTokenFields = []string{"expires_in", "id_token", "scope"}

// Config holds the Xero app credentials and endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	AuthURL        string
	TokenURL       string
	RevokeURL      string
	ConnectionsURL string
	APIBaseURL     string
	AppBaseURL     string

	RefreshWindow time.Duration
	HTTPClient    *http.Client
}

// Adapter talks to the Xero accounting API.
type Adapter struct {
	oauth          *oauth2.Config
	http           *http.Client
	revokeURL      string
	connectionsURL string
	apiBaseURL     string
	appBaseURL     string
	refreshWindow  time.Duration
	now            func() time.Time
}

// New creates a Xero adapter.
func New(cfg Config) *Adapter {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = providers.NewHTTPClient()
	}
	window := cfg.RefreshWindow
	if window <= 0 {
		window = DefaultRefreshWindow
	}

	return &Adapter{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   orDefault(cfg.AuthURL, defaultAuthURL),
				TokenURL:  orDefault(cfg.TokenURL, defaultTokenURL),
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		http:           hc,
		revokeURL:      orDefault(cfg.RevokeURL, defaultRevokeURL),
		connectionsURL: orDefault(cfg.ConnectionsURL, defaultConnectionsURL),
		apiBaseURL:     strings.TrimSuffix(orDefault(cfg.APIBaseURL, defaultAPIBaseURL), "/"),
		appBaseURL:     strings.TrimSuffix(orDefault(cfg.AppBaseURL, defaultAppBaseURL), "/"),
		refreshWindow:  window,
		now:            time.Now,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Type returns the provider type.
func (a *Adapter) Type() domain.ProviderType {
	return domain.ProviderXero
}

// RefreshWindow returns how early access tokens are refreshed.
func (a *Adapter) RefreshWindow() time.Duration {
	return a.refreshWindow
}

// BuildAuthURL returns the Xero consent URL.
func (a *Adapter) BuildAuthURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

// connection is one organisation the user authorized the app for.
type connection struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	TenantType string `json:"tenantType"`
	TenantName string `json:"tenantName"`
}

// ExchangeCode trades an authorization code for tokens and resolves the tenant.
// tenantHint selects among several authorized organisations when it matches one;
// otherwise the first organisation is used.
func (a *Adapter) ExchangeCode(ctx context.Context, code, tenantHint string) (*domain.TokenRecord, error) {
	tok, err := a.oauth.Exchange(providers.WithClient(ctx, a.http), code)
	if err != nil {
		return nil, providers.TokenError(domain.ProviderXero, "exchange", err, revokedCodes...)
	}

	conns, err := a.connections(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	tenant := pickTenant(conns, tenantHint)
	if tenant == "" {
		return nil, &domain.ProviderError{
			Provider: domain.ProviderXero,
			Op:       "connections",
			Code:     "no_tenant",
			Message:  "no organisation was authorized",
		}
	}
	return a.toRecord(tok, tenant)
}

func pickTenant(conns []connection, hint string) string {
	var first string
	for _, c := range conns {
		if c.TenantType != "" && !strings.EqualFold(c.TenantType, "ORGANISATION") {
			continue
		}
		if hint != "" && c.TenantID == hint {
			return c.TenantID
		}
		if first == "" {
			first = c.TenantID
		}
	}
	return first
}

func (a *Adapter) connections(ctx context.Context, accessToken string) ([]connection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.connectionsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, status, err := providers.Send(a.http, domain.ProviderXero, "connections", req)
	if err != nil {
		return nil, err
	}
	if !providers.IsSuccess(status) {
		return nil, providers.StatusError(domain.ProviderXero, "connections", status, body)
	}

	var conns []connection
	if err := json.Unmarshal(body, &conns); err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderXero, Op: "connections", StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	return conns, nil
}

// Refresh uses the refresh token to obtain a new token pair.
// Xero refresh tokens are single use; the old one stops working once this succeeds.
func (a *Adapter) Refresh(ctx context.Context, token *domain.TokenRecord) (*domain.TokenRecord, error) {
	src := a.oauth.TokenSource(providers.WithClient(ctx, a.http), &oauth2.Token{RefreshToken: token.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, providers.TokenError(domain.ProviderXero, "refresh", err, revokedCodes...)
	}

	rec, err := a.toRecord(tok, token.TenantID)
	if err != nil {
		return nil, err
	}
	rec.CompanyID = token.CompanyID
	rec.CreatedAt = token.CreatedAt
	return rec, nil
}

// Revoke revokes the refresh token, which also removes the app's connections.
func (a *Adapter) Revoke(ctx context.Context, token *domain.TokenRecord) error {
	form := url.Values{"token": {token.RefreshToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(a.oauth.ClientID, a.oauth.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := providers.Send(a.http, domain.ProviderXero, "revoke", req)
	if err != nil {
		return err
	}
	if !providers.IsSuccess(status) {
		return providers.StatusError(domain.ProviderXero, "revoke", status, body)
	}
	return nil
}

func (a *Adapter) toRecord(tok *oauth2.Token, tenantID string) (*domain.TokenRecord, error) {
	raw, err := providers.RawToken(tok, rawTokenFields, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, fmt.Errorf("encode raw token: %w", err)
	}

	now := a.now()
	return &domain.TokenRecord{
		Provider:     domain.ProviderXero,
		TenantID:     tenantID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Raw:          raw,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
