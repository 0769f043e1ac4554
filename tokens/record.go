// Package tokens owns the credential lifecycle for the marketplace
// integration: the canonical token record, its durable persistence, the
// authenticated/unauthenticated state machine and change notification.
package tokens

import (
	"time"

	"github.com/tradelane-dev/marketauth/internal/autherr"
)

// WireResponse is the raw token payload returned by the connector endpoint
// on a successful code exchange or refresh.
type WireResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type,omitempty"`
}

// Record is the canonical stored credential unit. ExpiresAtMs is the only
// expiry field consulted at read time; ExpiresIn is kept verbatim as issued
// so replaying a stored record never shortens its apparent lifetime.
type Record struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAtMs  int64  `json:"expires_at_ms"`
}

// FromWire converts a wire token response into a stored record, computing
// the absolute expiry from the relative lifetime at the given issuance time.
// It fails with a malformed-response error when the access token or lifetime
// is unusable.
func FromWire(resp *WireResponse, issuedAt time.Time) (*Record, error) {
	if resp == nil {
		return nil, autherr.New(autherr.MalformedResponse, "empty token response")
	}
	if resp.AccessToken == "" {
		return nil, autherr.New(autherr.MalformedResponse, "token response missing access_token")
	}
	if resp.ExpiresIn <= 0 {
		return nil, autherr.New(autherr.MalformedResponse, "token response missing or invalid expires_in")
	}

	return &Record{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    resp.ExpiresIn,
		ExpiresAtMs:  issuedAt.UnixMilli() + resp.ExpiresIn*1000,
	}, nil
}

// Wire is the inverse of FromWire. ExpiresIn is the originally supplied
// lifetime, not the remaining one.
func (r *Record) Wire() *WireResponse {
	return &WireResponse{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    r.ExpiresIn,
		TokenType:    r.TokenType,
	}
}

// Valid reports whether the record satisfies the all-or-nothing invariant.
// Partial records are corrupt and are discarded whole, never repaired
// field-by-field.
func (r *Record) Valid() bool {
	return r != nil && r.AccessToken != "" && r.ExpiresAtMs > 0
}

// ExpiresAt returns the absolute expiry as a time.Time.
func (r *Record) ExpiresAt() time.Time {
	return time.UnixMilli(r.ExpiresAtMs)
}

// Expired reports whether the record is past its absolute expiry.
func (r *Record) Expired(now time.Time) bool {
	return now.UnixMilli() > r.ExpiresAtMs
}

// ExpiringSoon reports whether the record expires within the skew threshold.
func (r *Record) ExpiringSoon(now time.Time, skew time.Duration) bool {
	return !r.Expired(now) && now.Add(skew).UnixMilli() >= r.ExpiresAtMs
}
