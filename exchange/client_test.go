package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradelane-dev/marketauth/internal/autherr"
	"github.com/tradelane-dev/marketauth/internal/httpclient"
)

// noRetryHTTP keeps failure tests fast.
func noRetryHTTP() *httpclient.Config {
	return &httpclient.Config{
		Timeout:    2 * time.Second,
		MaxRetries: 0,
		RetryDelay: time.Millisecond,
	}
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := New(Options{Endpoint: endpoint, HTTP: noRetryHTTP()})
	require.NoError(t, err)
	return c
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.ConfigurationError))
}

func TestRequestAuthorizationURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "get-auth-url", r.URL.Query().Get("action"))
		assert.Equal(t, "state-abc", r.URL.Query().Get("state"))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"authUrl": "https://provider.example/authorize?state=state-abc",
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	authURL, err := c.RequestAuthorizationURL(context.Background(), "state-abc")
	require.NoError(t, err)
	assert.Equal(t, "https://provider.example/authorize?state=state-abc", authURL)
}

func TestRequestAuthorizationURLMissingField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.RequestAuthorizationURL(context.Background(), "s")
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.MalformedResponse))
}

func TestExchangeCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "exchange-code", req["action"])
		assert.Equal(t, "code-1", req["code"])
		assert.Equal(t, "http://localhost:3434/oauth/callback", req["redirect_uri"])
		assert.Equal(t, "state-1", req["state"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "rt-1",
			"expires_in":    7200,
			"token_type":    "Bearer",
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	resp, err := c.ExchangeCode(context.Background(), "code-1", "http://localhost:3434/oauth/callback", "state-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", resp.AccessToken)
	assert.Equal(t, "rt-1", resp.RefreshToken)
	assert.Equal(t, int64(7200), resp.ExpiresIn)
}

func TestExchangeCodeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "invalid_grant"})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	resp, err := c.ExchangeCode(context.Background(), "bad-code", "", "")
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, autherr.IsKind(err, autherr.ExchangeRejected))
	assert.Equal(t, "invalid_grant", autherr.EndpointMessage(err, "fallback"))

	var ae *autherr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadRequest, ae.StatusCode)
}

func TestExchangeCodeServerErrorCarriesMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "upstream_unavailable"})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.ExchangeCode(context.Background(), "code", "", "")
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.ExchangeRejected),
		"an answered 5xx is a rejection, not a transport failure")
	assert.Equal(t, "upstream_unavailable", autherr.EndpointMessage(err, "fallback"))

	var ae *autherr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusInternalServerError, ae.StatusCode)
}

func TestRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "refresh-token", req["action"])
		assert.Equal(t, "rt-old", req["refresh_token"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-new",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	resp, err := c.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "access-new", resp.AccessToken)
	assert.Empty(t, resp.RefreshToken, "the endpoint may omit the refresh token on renewal")
}

func TestRefreshNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening anymore

	c := newTestClient(t, server.URL)
	_, err := c.Refresh(context.Background(), "rt")
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.NetworkFailure))
}

func TestExchangeCodeMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>definitely not json</html>"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.ExchangeCode(context.Background(), "code", "", "")
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.MalformedResponse))
}

func TestProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Any HTTP answer counts as reachable, even an error status.
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	assert.NoError(t, c.Probe(context.Background()))

	server.Close()
	err := c.Probe(context.Background())
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.NetworkFailure))
}
