package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradelane-dev/marketauth/internal/autherr"
)

func TestFromWireComputesAbsoluteExpiry(t *testing.T) {
	issued := time.UnixMilli(0)
	rec, err := FromWire(&WireResponse{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresIn:    7200,
		TokenType:    "Bearer",
	}, issued)
	require.NoError(t, err)

	assert.Equal(t, int64(7200000), rec.ExpiresAtMs)
	assert.Equal(t, int64(7200), rec.ExpiresIn)
	assert.False(t, rec.Expired(time.UnixMilli(7200000)))
	assert.True(t, rec.Expired(time.UnixMilli(7200001)))
}

func TestFromWireRejectsUnusablePayloads(t *testing.T) {
	issued := time.Now()

	cases := []struct {
		name string
		resp *WireResponse
	}{
		{"nil response", nil},
		{"missing access token", &WireResponse{ExpiresIn: 3600}},
		{"zero lifetime", &WireResponse{AccessToken: "at", ExpiresIn: 0}},
		{"negative lifetime", &WireResponse{AccessToken: "at", ExpiresIn: -5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := FromWire(tc.resp, issued)
			require.Error(t, err)
			assert.Nil(t, rec)
			assert.True(t, autherr.IsKind(err, autherr.MalformedResponse))
		})
	}
}

func TestWireKeepsOriginalLifetime(t *testing.T) {
	issued := time.Now()
	rec, err := FromWire(&WireResponse{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600}, issued)
	require.NoError(t, err)

	// ExpiresIn is the lifetime as issued, not the remaining one, so a
	// replayed record never shortens its apparent validity.
	wire := rec.Wire()
	assert.Equal(t, int64(3600), wire.ExpiresIn)
	assert.Equal(t, "at", wire.AccessToken)
	assert.Equal(t, "rt", wire.RefreshToken)
}

func TestRecordValid(t *testing.T) {
	var nilRec *Record
	assert.False(t, nilRec.Valid())
	assert.False(t, (&Record{AccessToken: "at"}).Valid())
	assert.False(t, (&Record{ExpiresAtMs: 100}).Valid())
	assert.True(t, (&Record{AccessToken: "at", ExpiresAtMs: 100}).Valid())
}

func TestExpiringSoon(t *testing.T) {
	rec := &Record{AccessToken: "at", ExpiresAtMs: time.UnixMilli(0).Add(10 * time.Minute).UnixMilli()}
	skew := 5 * time.Minute

	assert.False(t, rec.ExpiringSoon(time.UnixMilli(0), skew))
	assert.True(t, rec.ExpiringSoon(time.UnixMilli(0).Add(5*time.Minute), skew))
	assert.True(t, rec.ExpiringSoon(time.UnixMilli(0).Add(9*time.Minute), skew))

	// Past expiry it is expired, no longer expiring soon.
	late := time.UnixMilli(0).Add(11 * time.Minute)
	assert.False(t, rec.ExpiringSoon(late, skew))
	assert.True(t, rec.Expired(late))
}
