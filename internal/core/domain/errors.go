package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrSyncInProgress indicates a sync is already running for the company
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrUnknownProvider indicates no adapter is registered for a provider
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNotConnected indicates the company has no active provider connection
	ErrNotConnected = errors.New("company not connected to a provider")

	// ErrGrantRevoked tags a provider failure caused by a revoked or expired grant
	ErrGrantRevoked = errors.New("grant revoked")

	// ErrUnauthorized tags a data API call rejected for its access token
	ErrUnauthorized = errors.New("access token rejected")

	// ErrRevokeFailed indicates the provider revoke call failed after local cleanup
	ErrRevokeFailed = errors.New("provider revoke failed")

	// ErrInvalidState indicates an OAuth state parameter failed verification
	ErrInvalidState = errors.New("invalid oauth state")
)

// ProviderError is the cause an adapter attaches to every failed provider call.
// Revoked marks the revocation signature; the TokenManager decides handling.
// A 401 from a data API is not a revocation: the access token may simply be
// stale, so it matches ErrUnauthorized instead.
type ProviderError struct {
	Provider   ProviderType
	Op         string
	StatusCode int
	Code       string
	Message    string
	Revoked    bool
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Provider, e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrGrantRevoked) true for revoked causes and
// errors.Is(err, ErrUnauthorized) true for 401 responses.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrGrantRevoked:
		return e.Revoked
	case ErrUnauthorized:
		return e.StatusCode == 401 && !e.Revoked
	}
	return false
}

// TransientError is a retryable provider failure. Stored credentials are kept.
type TransientError struct {
	Provider  ProviderType
	CompanyID string
	Err       error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s error for company %s: %v", e.Provider, e.CompanyID, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ReAuthRequiredError signals that the company must repeat the OAuth flow.
// No further provider calls are made for the company until it does.
type ReAuthRequiredError struct {
	Provider  ProviderType
	CompanyID string
	Err       error
}

func (e *ReAuthRequiredError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("re-authentication required: %s connection for company %s", e.Provider, e.CompanyID)
	}
	return fmt.Sprintf("re-authentication required: %s connection for company %s: %v", e.Provider, e.CompanyID, e.Err)
}

func (e *ReAuthRequiredError) Unwrap() error { return e.Err }

// ValidationError lists caller-supplied problems found before any network call
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// Add appends a problem.
func (e *ValidationError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// HasProblems reports whether any problem was recorded
func (e *ValidationError) HasProblems() bool {
	return len(e.Problems) > 0
}

// RemoteDocumentFault is a business rejection reported by the provider.
// Code and Message are the provider's own values.
type RemoteDocumentFault struct {
	Provider ProviderType
	Code     string
	Message  string
	Detail   string
}

func (e *RemoteDocumentFault) Error() string {
	msg := fmt.Sprintf("%s rejected document", e.Provider)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	msg += ": " + e.Message
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// IsReAuthRequired reports whether err carries a ReAuthRequiredError.
func IsReAuthRequired(err error) bool {
	var reauth *ReAuthRequiredError
	return errors.As(err, &reauth)
}

// IsTransient reports whether err carries a TransientError.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
