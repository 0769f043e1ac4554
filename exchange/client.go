// Package exchange wraps the remote connector endpoint that generates
// provider authorization URLs and trades authorization codes or refresh
// tokens for access tokens.
package exchange

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/tradelane-dev/marketauth/internal/autherr"
	"github.com/tradelane-dev/marketauth/internal/httpclient"
	"github.com/tradelane-dev/marketauth/tokens"
)

// Client talks to the connector endpoint. All calls are bounded by the
// HTTP client's timeout and classified into the shared failure taxonomy.
type Client struct {
	endpoint string
	http     *httpclient.Client
}

// Options configures a Client.
type Options struct {
	// Endpoint is the connector endpoint base URL. Required.
	Endpoint string
	// HTTP overrides the default HTTP client configuration.
	HTTP *httpclient.Config
}

// New creates a connector client.
func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, autherr.New(autherr.ConfigurationError, "connector endpoint is not configured")
	}
	if _, err := url.Parse(opts.Endpoint); err != nil {
		return nil, autherr.Wrap(err, autherr.ConfigurationError, "invalid connector endpoint URL")
	}
	return &Client{
		endpoint: opts.Endpoint,
		http:     httpclient.New(opts.HTTP),
	}, nil
}

type authURLResponse struct {
	AuthURL string `json:"authUrl"`
}

type exchangeCodeRequest struct {
	Action      string `json:"action"`
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
	State       string `json:"state"`
}

type refreshRequest struct {
	Action       string `json:"action"`
	RefreshToken string `json:"refresh_token"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// RequestAuthorizationURL asks the connector for a provider authorization
// URL correlated with the given state token.
func (c *Client) RequestAuthorizationURL(ctx context.Context, state string) (string, error) {
	q := url.Values{}
	q.Set("action", "get-auth-url")
	q.Set("state", state)

	resp, err := c.http.Get(ctx, c.endpoint+"?"+q.Encode(), nil)
	defer func() { _ = resp.SafeClose() }()
	if err != nil {
		return "", autherr.Wrap(err, autherr.NetworkFailure, "failed to request authorization URL")
	}

	var payload authURLResponse
	if err := resp.JSON(&payload); err != nil {
		return "", autherr.Wrap(err, autherr.MalformedResponse, "authorization URL response is not valid JSON")
	}
	if payload.AuthURL == "" {
		return "", autherr.New(autherr.MalformedResponse, "authorization URL response missing authUrl")
	}
	return payload.AuthURL, nil
}

// ExchangeCode posts the authorization code for exchange and returns the
// wire token response. A non-success response becomes an exchange-rejected
// error carrying the endpoint's message; transport failures become network
// failures.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI, state string) (*tokens.WireResponse, error) {
	req := exchangeCodeRequest{
		Action:      "exchange-code",
		Code:        code,
		RedirectURI: redirectURI,
		State:       state,
	}
	return c.postForTokens(ctx, req, "code exchange")
}

// Refresh trades a refresh token for a fresh token pair. Same failure
// taxonomy as ExchangeCode.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*tokens.WireResponse, error) {
	req := refreshRequest{
		Action:       "refresh-token",
		RefreshToken: refreshToken,
	}
	return c.postForTokens(ctx, req, "token refresh")
}

func (c *Client) postForTokens(ctx context.Context, body interface{}, op string) (*tokens.WireResponse, error) {
	resp, err := c.http.Post(ctx, c.endpoint, body, nil)
	defer func() { _ = resp.SafeClose() }()

	if err != nil {
		if resp == nil {
			return nil, autherr.Wrap(err, autherr.NetworkFailure, op+" did not complete")
		}
		// The endpoint answered with a rejection payload.
		message := op + " rejected by connector"
		var payload errorResponse
		if jsonErr := resp.JSON(&payload); jsonErr == nil && payload.Message != "" {
			message = payload.Message
		}
		return nil, autherr.Wrap(err, autherr.ExchangeRejected, op+" rejected").
			WithDetails(message).
			WithStatusCode(resp.StatusCode)
	}

	var wire tokens.WireResponse
	if err := resp.JSON(&wire); err != nil {
		return nil, autherr.Wrap(err, autherr.MalformedResponse, op+" returned an unusable payload")
	}
	return &wire, nil
}

// Probe checks whether the connector endpoint is reachable. Any HTTP
// response counts as reachable; only transport-level failure does not.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return autherr.Wrap(err, autherr.NetworkFailure, "failed to build probe request")
	}

	probe := &http.Client{Timeout: 5 * time.Second}
	resp, err := probe.Do(req)
	if err != nil {
		return autherr.Wrap(err, autherr.NetworkFailure, "connector endpoint is unreachable")
	}
	_ = resp.Body.Close()
	return nil
}
