package mocks

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure MockStateSigner implements StateSigner
var _ driven.StateSigner = (*MockStateSigner)(nil)

// MockStateSigner encodes state claims as base64 JSON without a signature.
// NOT secure - only for testing.
type MockStateSigner struct {
	Now func() time.Time
}

// NewMockStateSigner creates a new MockStateSigner
func NewMockStateSigner() *MockStateSigner {
	return &MockStateSigner{Now: time.Now}
}

type mockStateClaims struct {
	Nonce     string `json:"n"`
	CompanyID string `json:"c"`
	Provider  string `json:"p"`
	ExpiresAt int64  `json:"e"`
}

func (m *MockStateSigner) Sign(claims driven.StateClaims) (string, error) {
	data, err := json.Marshal(mockStateClaims{
		Nonce:     claims.Nonce,
		CompanyID: claims.CompanyID,
		Provider:  string(claims.Provider),
		ExpiresAt: claims.ExpiresAt.Unix(),
	})
	if err != nil {
		return "", err
	}
	return "mock." + base64.RawURLEncoding.EncodeToString(data), nil
}

func (m *MockStateSigner) Verify(state string) (*driven.StateClaims, error) {
	if len(state) < 5 || state[:5] != "mock." {
		return nil, fmt.Errorf("%w: bad prefix", domain.ErrInvalidState)
	}
	data, err := base64.RawURLEncoding.DecodeString(state[5:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}
	var c mockStateClaims
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}
	exp := time.Unix(c.ExpiresAt, 0)
	if m.Now().After(exp) {
		return nil, fmt.Errorf("%w: expired", domain.ErrInvalidState)
	}
	return &driven.StateClaims{
		Nonce:     c.Nonce,
		CompanyID: c.CompanyID,
		Provider:  domain.ProviderType(c.Provider),
		ExpiresAt: exp,
	}, nil
}
