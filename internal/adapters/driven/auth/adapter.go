// Package auth signs and verifies the OAuth state parameter.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure StateSigner implements the interface
var _ driven.StateSigner = (*StateSigner)(nil)

const stateIssuer = "ledgersync"

// ErrEmptySecret is returned when no signing secret is configured.
var ErrEmptySecret = errors.New("state signing secret is empty")

// stateClaims is the JWT body of a state parameter
type stateClaims struct {
	Nonce     string `json:"nonce"`
	CompanyID string `json:"company_id"`
	Provider  string `json:"provider"`
	jwt.RegisteredClaims
}

// StateSigner issues HS256 JWTs as OAuth state values
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

// NewStateSigner creates a signer with the given HMAC secret
func NewStateSigner(secret string) (*StateSigner, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &StateSigner{secret: []byte(secret), now: time.Now}, nil
}

// Sign returns the compact JWT for claims
func (s *StateSigner) Sign(claims driven.StateClaims) (string, error) {
	sc := stateClaims{
		Nonce:     claims.Nonce,
		CompanyID: claims.CompanyID,
		Provider:  string(claims.Provider),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sc)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the claims.
// Every failure is reported as domain.ErrInvalidState.
func (s *StateSigner) Verify(state string) (*driven.StateClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	var sc stateClaims
	token, err := parser.ParseWithClaims(state, &sc, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}
	if !token.Valid || sc.Nonce == "" || sc.CompanyID == "" {
		return nil, fmt.Errorf("%w: incomplete claims", domain.ErrInvalidState)
	}

	provider, err := domain.ParseProviderType(sc.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}

	return &driven.StateClaims{
		Nonce:     sc.Nonce,
		CompanyID: sc.CompanyID,
		Provider:  provider,
		ExpiresAt: sc.ExpiresAt.Time,
	}, nil
}
