// Package quickbooks implements the provider adapter for QuickBooks Online.
package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
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
	defaultAuthURL     = "https://appcenter.intuit.com/connect/oauth2"
	defaultTokenURL    = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	defaultRevokeURL   = "https://developer.api.intuit.com/v2/oauth2/tokens/revoke"
	defaultUserInfoURL = "https://accounts.platform.intuit.com/v1/openid_connect/userinfo"
	sandboxUserInfoURL = "https://sandbox-accounts.platform.intuit.com/v1/openid_connect/userinfo"
	defaultAPIBaseURL  = "https://quickbooks.api.intuit.com"
	sandboxAPIBaseURL  = "https://sandbox-quickbooks.api.intuit.com"
	defaultAppBaseURL  = "https://app.qbo.intuit.com"
	sandboxAppBaseURL  = "https://app.sandbox.qbo.intuit.com"

	// DefaultMinorVersion pins the accounting API behaviour.
	DefaultMinorVersion = "75"
	// DefaultRefreshWindow refreshes access tokens five minutes before expiry.
	DefaultRefreshWindow = 5 * time.Minute

	// EnvironmentSandbox selects the Intuit sandbox hosts.
	EnvironmentSandbox = "sandbox"
)

// DefaultScopes are requested when the config names none.
var DefaultScopes = []string{"com.intuit.quickbooks.accounting", "openid", "profile", "email"}

// rawTokenFields are copied from the token response into TokenRecord.Raw.
var rawTokenFields = []string{"expires_in", "x_refresh_token_expires_in", "id_token"}

// Config holds the QuickBooks app credentials and endpoints.
// Endpoint fields default to the production (or sandbox) hosts when empty.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Environment  string

	AuthURL     string
	TokenURL    string
	RevokeURL   string
	UserInfoURL string
	APIBaseURL  string
	AppBaseURL  string

	MinorVersion  string
	RefreshWindow time.Duration
	HTTPClient    *http.Client
}

// Adapter talks to QuickBooks Online.
type Adapter struct {
	oauth         *oauth2.Config
	http          *http.Client
	revokeURL     string
	userInfoURL   string
	apiBaseURL    string
	appBaseURL    string
	minorVersion  string
	refreshWindow time.Duration
	now           func() time.Time
}

// New creates a QuickBooks adapter.
func New(cfg Config) *Adapter {
	sandbox := strings.EqualFold(cfg.Environment, EnvironmentSandbox)

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
	minor := cfg.MinorVersion
	if minor == "" {
		minor = DefaultMinorVersion
	}

	userInfo, apiBase, appBase := defaultUserInfoURL, defaultAPIBaseURL, defaultAppBaseURL
	if sandbox {
		userInfo, apiBase, appBase = sandboxUserInfoURL, sandboxAPIBaseURL, sandboxAppBaseURL
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
		http:          hc,
		revokeURL:     orDefault(cfg.RevokeURL, defaultRevokeURL),
		userInfoURL:   orDefault(cfg.UserInfoURL, userInfo),
		apiBaseURL:    strings.TrimSuffix(orDefault(cfg.APIBaseURL, apiBase), "/"),
		appBaseURL:    strings.TrimSuffix(orDefault(cfg.AppBaseURL, appBase), "/"),
		minorVersion:  minor,
		refreshWindow: window,
		now:           time.Now,
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
	return domain.ProviderQuickBooks
}

// RefreshWindow returns how early access tokens are refreshed.
func (a *Adapter) RefreshWindow() time.Duration {
	return a.refreshWindow
}

// BuildAuthURL returns the Intuit consent URL.
func (a *Adapter) BuildAuthURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for tokens.
// QuickBooks reports the company as realmId on the callback, so tenantHint is required.
func (a *Adapter) ExchangeCode(ctx context.Context, code, tenantHint string) (*domain.TokenRecord, error) {
	if tenantHint == "" {
		return nil, &domain.ProviderError{
			Provider: domain.ProviderQuickBooks,
			Op:       "exchange",
			Code:     "invalid_request",
			Message:  "realmId missing from callback",
		}
	}

	tok, err := a.oauth.Exchange(providers.WithClient(ctx, a.http), code)
	if err != nil {
		return nil, providers.TokenError(domain.ProviderQuickBooks, "exchange", err, "invalid_grant")
	}
	return a.toRecord(tok, tenantHint)
}

// Refresh uses the refresh token to obtain a new access token.
// Intuit rotates refresh tokens; the returned record carries the new one.
func (a *Adapter) Refresh(ctx context.Context, token *domain.TokenRecord) (*domain.TokenRecord, error) {
	src := a.oauth.TokenSource(providers.WithClient(ctx, a.http), &oauth2.Token{RefreshToken: token.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, providers.TokenError(domain.ProviderQuickBooks, "refresh", err, "invalid_grant")
	}

	rec, err := a.toRecord(tok, token.TenantID)
	if err != nil {
		return nil, err
	}
	rec.CompanyID = token.CompanyID
	rec.CreatedAt = token.CreatedAt
	return rec, nil
}

// Revoke invalidates the refresh token and every access token issued from it.
func (a *Adapter) Revoke(ctx context.Context, token *domain.TokenRecord) error {
	value := token.RefreshToken
	if value == "" {
		value = token.AccessToken
	}
	body, err := json.Marshal(map[string]string{"token": value})
	if err != nil {
		return fmt.Errorf("marshal revoke request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.revokeURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(a.oauth.ClientID, a.oauth.ClientSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	respBody, status, err := providers.Send(a.http, domain.ProviderQuickBooks, "revoke", req)
	if err != nil {
		return err
	}
	if !providers.IsSuccess(status) {
		return providers.StatusError(domain.ProviderQuickBooks, "revoke", status, respBody)
	}
	return nil
}

func (a *Adapter) toRecord(tok *oauth2.Token, realmID string) (*domain.TokenRecord, error) {
	raw, err := providers.RawToken(tok, rawTokenFields, map[string]any{"realmId": realmID})
	if err != nil {
		return nil, fmt.Errorf("encode raw token: %w", err)
	}

	now := a.now()
	rec := &domain.TokenRecord{
		Provider:     domain.ProviderQuickBooks,
		TenantID:     realmID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Raw:          raw,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if d, ok := providers.ExtraSeconds(tok, "x_refresh_token_expires_in"); ok {
		exp := now.Add(d)
		rec.RefreshExpiry = &exp
	}
	return rec, nil
}
