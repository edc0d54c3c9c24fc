package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

func newTestSigner(t *testing.T) *StateSigner {
	t.Helper()
	s, err := NewStateSigner("test-secret")
	if err != nil {
		t.Fatalf("NewStateSigner: %v", err)
	}
	return s
}

func testClaims() driven.StateClaims {
	return driven.StateClaims{
		Nonce:     "3f9a",
		CompanyID: "c1",
		Provider:  domain.ProviderXero,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
}

func TestNewStateSigner_EmptySecret(t *testing.T) {
	if _, err := NewStateSigner(""); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("error = %v, want ErrEmptySecret", err)
	}
}

func TestStateSigner_RoundTrip(t *testing.T) {
	s := newTestSigner(t)
	want := testClaims()

	state, err := s.Sign(want)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if strings.Count(state, ".") != 2 {
		t.Errorf("state should be a compact JWT, got %q", state)
	}

	got, err := s.Verify(state)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Nonce != want.Nonce || got.CompanyID != want.CompanyID || got.Provider != want.Provider {
		t.Errorf("claims = %+v, want %+v", got, want)
	}
	if got.ExpiresAt.Unix() != want.ExpiresAt.Unix() {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	}
}

func TestStateSigner_Expired(t *testing.T) {
	s := newTestSigner(t)
	claims := testClaims()
	claims.ExpiresAt = time.Now().Add(-time.Minute)

	state, _ := s.Sign(claims)
	if _, err := s.Verify(state); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("error = %v, want ErrInvalidState", err)
	}
}

func TestStateSigner_Rejects(t *testing.T) {
	s := newTestSigner(t)
	state, _ := s.Sign(testClaims())

	other, _ := NewStateSigner("other-secret")
	foreign, _ := other.Sign(testClaims())

	badProvider := testClaims()
	badProvider.Provider = "freshbooks"
	unknown, _ := s.Sign(badProvider)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"nonce": "x", "company_id": "c1", "provider": "xero", "iss": stateIssuer,
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		state string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"tampered", state[:len(state)-2] + "xx"},
		{"foreign secret", foreign},
		{"unknown provider", unknown},
		{"alg none", none},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Verify(tt.state); !errors.Is(err, domain.ErrInvalidState) {
				t.Errorf("error = %v, want ErrInvalidState", err)
			}
		})
	}
}
