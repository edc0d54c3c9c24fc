package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// DefaultTimeout bounds every provider call.
const DefaultTimeout = 30 * time.Second

// maxBody caps how much of a response is read into memory.
const maxBody = 16 << 20

// NewHTTPClient returns the client adapters use when none is configured.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// Send executes req and returns the body and status code.
// Transport failures come back as *domain.ProviderError.
func Send(hc *http.Client, provider domain.ProviderType, op string, req *http.Request) ([]byte, int, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, &domain.ProviderError{Provider: provider, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, resp.StatusCode, &domain.ProviderError{Provider: provider, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	return body, resp.StatusCode, nil
}

// StatusError builds the error for a non-2xx response. It never tags the
// grant revoked; only the token endpoint can say that.
func StatusError(provider domain.ProviderType, op string, status int, body []byte) *domain.ProviderError {
	return &domain.ProviderError{
		Provider:   provider,
		Op:         op,
		StatusCode: status,
		Message:    Snippet(body),
	}
}

// Snippet trims a response body for error messages.
func Snippet(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

// IsSuccess reports whether status is 2xx.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// TokenError maps an x/oauth2 token endpoint failure. Error codes listed in
// revokedCodes mark the grant as revoked; everything else stays transient.
func TokenError(provider domain.ProviderType, op string, err error, revokedCodes ...string) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return &domain.ProviderError{Provider: provider, Op: op, Err: err}
	}

	pe := &domain.ProviderError{
		Provider: provider,
		Op:       op,
		Code:     re.ErrorCode,
		Message:  re.ErrorDescription,
		Err:      err,
	}
	if re.Response != nil {
		pe.StatusCode = re.Response.StatusCode
	}
	if pe.Code == "" {
		// Some endpoints answer with a bare JSON body the library does not parse
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(re.Body, &body) == nil {
			pe.Code = body.Error
		}
	}
	for _, code := range revokedCodes {
		if pe.Code == code {
			pe.Revoked = true
			break
		}
	}
	return pe
}

// WithClient makes x/oauth2 use hc for token endpoint calls.
func WithClient(ctx context.Context, hc *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}

// RawToken rebuilds the provider's token JSON. The typed oauth2 fields are
// written under their wire names and extra names are copied from the
// response when present. Values in add are written last.
func RawToken(tok *oauth2.Token, extra []string, add map[string]any) (json.RawMessage, error) {
	raw := map[string]any{
		"access_token":  tok.AccessToken,
		"refresh_token": tok.RefreshToken,
		"token_type":    tok.TokenType,
	}
	for _, key := range extra {
		if v := tok.Extra(key); v != nil {
			raw[key] = v
		}
	}
	for k, v := range add {
		raw[k] = v
	}
	return json.Marshal(raw)
}

// ExtraSeconds reads a seconds-valued extra field such as
// x_refresh_token_expires_in.
func ExtraSeconds(tok *oauth2.Token, key string) (time.Duration, bool) {
	var secs float64
	switch v := tok.Extra(key).(type) {
	case float64:
		secs = v
	case int64:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		secs = f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		secs = f
	default:
		return 0, false
	}
	if secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// ExtraString reads a string extra field.
func ExtraString(tok *oauth2.Token, key string) string {
	s, _ := tok.Extra(key).(string)
	return s
}

// RawField reads one string field from stored raw token JSON.
func RawField(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
