package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure connectService implements ConnectService
var _ driving.ConnectService = (*connectService)(nil)

// DefaultStateTTL bounds how long a user may take to approve access.
const DefaultStateTTL = 10 * time.Minute

// ConnectServiceConfig holds configuration for the connect service.
type ConnectServiceConfig struct {
	// Tokens performs the code exchange and owns stored credentials.
	Tokens driving.TokenManager

	// Adapters resolves the provider being connected.
	Adapters driven.AdapterRegistry

	// Companies is used to validate the company and set its display name.
	Companies driven.CompanyStore

	// States holds single-use nonces for pending flows.
	States driven.OAuthStateStore

	// Signer signs the state parameter sent to the provider.
	Signer driven.StateSigner

	// StateTTL defaults to DefaultStateTTL.
	StateTTL time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

type connectService struct {
	tokens    driving.TokenManager
	adapters  driven.AdapterRegistry
	companies driven.CompanyStore
	states    driven.OAuthStateStore
	signer    driven.StateSigner
	stateTTL  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewConnectService creates a new connect service.
func NewConnectService(cfg ConnectServiceConfig) driving.ConnectService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ttl := cfg.StateTTL
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &connectService{
		tokens:    cfg.Tokens,
		adapters:  cfg.Adapters,
		companies: cfg.Companies,
		states:    cfg.States,
		signer:    cfg.Signer,
		stateTTL:  ttl,
		logger:    logger,
		now:       now,
	}
}

// Authorize starts an OAuth authorization flow.
// It stores a nonce, signs it into the state and returns the provider URL.
func (s *connectService) Authorize(ctx context.Context, req driving.AuthorizeRequest) (*driving.AuthorizeResponse, error) {
	if req.CompanyID == "" {
		return nil, fmt.Errorf("%w: company id is required", domain.ErrInvalidInput)
	}

	adapter, err := s.adapters.Get(req.Provider)
	if err != nil {
		return nil, driving.ErrOAuthProviderNotFound
	}

	if _, err := s.companies.Get(ctx, req.CompanyID); err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}

	nonce, err := generateRandomString(64)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(s.stateTTL)
	if err := s.states.Save(ctx, &driven.OAuthState{
		Nonce:     nonce,
		CompanyID: req.CompanyID,
		Provider:  req.Provider,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("save oauth state: %w", err)
	}

	state, err := s.signer.Sign(driven.StateClaims{
		Nonce:     nonce,
		CompanyID: req.CompanyID,
		Provider:  req.Provider,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("sign oauth state: %w", err)
	}

	return &driving.AuthorizeResponse{
		AuthorizationURL: adapter.BuildAuthURL(state),
		State:            state,
		ExpiresAt:        expiresAt,
	}, nil
}

// Callback handles the redirect from the provider.
func (s *connectService) Callback(ctx context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error) {
	// Check for error from provider
	if req.Error != "" {
		return nil, &driving.OAuthError{
			Code:        req.Error,
			Description: req.ErrorDescription,
		}
	}

	claims, err := s.signer.Verify(req.State)
	if err != nil {
		return nil, driving.ErrOAuthInvalidState
	}

	// Single use: a replayed state finds no nonce
	pending, err := s.states.Consume(ctx, claims.Nonce)
	if err != nil {
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}
	if pending == nil || pending.CompanyID != claims.CompanyID || pending.Provider != claims.Provider {
		return nil, driving.ErrOAuthInvalidState
	}

	if req.Code == "" {
		return nil, &driving.OAuthError{Code: "invalid_request", Description: "authorization code is missing"}
	}

	company, err := s.tokens.Connect(ctx, claims.CompanyID, claims.Provider, req.Code, req.RealmID)
	if err != nil {
		var provErr *domain.ProviderError
		if errors.As(err, &provErr) || domain.IsReAuthRequired(err) || domain.IsTransient(err) {
			return nil, &driving.OAuthError{
				Code:        driving.ErrOAuthExchangeFailed.Code,
				Description: err.Error(),
			}
		}
		return nil, err
	}

	account := s.describeAccount(ctx, company)

	return &driving.CallbackResponse{
		Company: company,
		Message: fmt.Sprintf("Successfully connected to %s as %s", company.Provider.DisplayName(), account),
	}, nil
}

// describeAccount fills in the company name from the provider when it is
// missing and returns a label for the connected account. Failures only
// degrade the label.
func (s *connectService) describeAccount(ctx context.Context, company *domain.Company) string {
	label := company.TenantID

	client, err := s.tokens.GetUsableClient(ctx, company.ID)
	if err != nil {
		s.logger.Warn("connected but client unavailable", "company_id", company.ID, "error", err)
		return label
	}

	info, err := client.FetchCompanyInfo(ctx)
	if err != nil {
		s.logger.Warn("failed to fetch company info", "company_id", company.ID, "error", err)
		return label
	}
	if info.Name != "" {
		label = info.Name
	}

	if company.Name == "" && info.Name != "" {
		company.Name = info.Name
		company.UpdatedAt = s.now()
		if err := s.companies.Save(ctx, company); err != nil {
			s.logger.Warn("failed to save company name", "company_id", company.ID, "error", err)
		}
	}
	return label
}

// Disconnect delegates to the token manager.
func (s *connectService) Disconnect(ctx context.Context, companyID string) error {
	return s.tokens.Disconnect(ctx, companyID)
}

// generateRandomString returns length hex characters, each carrying four
// bits from crypto/rand.
func generateRandomString(length int) (string, error) {
	bytes := make([]byte, (length+1)/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes)[:length], nil
}
