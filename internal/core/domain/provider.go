package domain

import "fmt"

// ProviderType identifies an accounting platform a company can connect to
type ProviderType string

const (
	// ProviderQuickBooks is QuickBooks Online (offset pagination, realm id tenant)
	ProviderQuickBooks ProviderType = "quickbooks"
	// ProviderXero is Xero (page pagination, tenant id from /connections)
	ProviderXero ProviderType = "xero"
)

// SupportedProviders returns every provider an adapter exists for
func SupportedProviders() []ProviderType {
	return []ProviderType{ProviderQuickBooks, ProviderXero}
}

// IsValid reports whether p names a supported provider
func (p ProviderType) IsValid() bool {
	switch p {
	case ProviderQuickBooks, ProviderXero:
		return true
	}
	return false
}

// DisplayName returns the human-readable provider name
func (p ProviderType) DisplayName() string {
	switch p {
	case ProviderQuickBooks:
		return "QuickBooks Online"
	case ProviderXero:
		return "Xero"
	default:
		return string(p)
	}
}

// ParseProviderType converts a string into a ProviderType.
func ParseProviderType(s string) (ProviderType, error) {
	p := ProviderType(s)
	if !p.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
	return p, nil
}
