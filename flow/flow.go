// Package flow orchestrates interactive authorization: it obtains a
// provider authorization URL, opens the user's browser, receives the
// redirect on a local callback server, and hands the code to the token
// manager for exchange. It also carries the manual paste-based path.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pkg/browser"

	"github.com/tradelane-dev/marketauth/exchange"
	"github.com/tradelane-dev/marketauth/tokens"
)

// Options configures a Flow.
type Options struct {
	// CallbackPort is the localhost port the redirect target listens on.
	CallbackPort int
	// CallbackPath is the redirect target path.
	CallbackPath string
	// SuccessURL, when set, is where the success page forwards the browser
	// with the auth=success indicator.
	SuccessURL string
	// Now overrides the clock, for tests.
	Now func() time.Time
	// Logger overrides slog.Default().
	Logger *slog.Logger
	// OpenBrowser overrides how the authorization URL is opened, for
	// tests and headless environments.
	OpenBrowser func(url string) error
}

// Flow drives one interactive login at a time.
type Flow struct {
	manager     *tokens.Manager
	client      *exchange.Client
	port        int
	path        string
	successURL  string
	now         func() time.Time
	log         *slog.Logger
	openBrowser func(url string) error
}

// New creates a flow bound to a manager and connector client.
func New(manager *tokens.Manager, client *exchange.Client, opts Options) (*Flow, error) {
	if manager == nil || client == nil {
		return nil, errors.New("flow requires a manager and an exchange client")
	}
	if opts.CallbackPort == 0 {
		opts.CallbackPort = 3434
	}
	if opts.CallbackPath == "" {
		opts.CallbackPath = "/oauth/callback"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = browser.OpenURL
	}

	return &Flow{
		manager:     manager,
		client:      client,
		port:        opts.CallbackPort,
		path:        opts.CallbackPath,
		successURL:  opts.SuccessURL,
		now:         opts.Now,
		log:         opts.Logger,
		openBrowser: opts.OpenBrowser,
	}, nil
}

// Login runs the full authorization round-trip: request an authorization
// URL correlated with a fresh state token, send the user's browser there,
// wait for the redirect, and exchange the returned code.
func (f *Flow) Login(ctx context.Context) error {
	attempt := NewAttempt(f.now())

	authURL, err := f.client.RequestAuthorizationURL(ctx, attempt.State)
	if err != nil {
		return err
	}

	cs, err := startCallbackServer(f.port, f.path, f.successURL)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		cs.shutdown(shutdownCtx)
	}()

	f.log.Info("opening authorization URL", "url", authURL)
	f.openAuthorizationURL(authURL)

	cb, err := cs.wait(ctx)
	if err != nil {
		return err
	}
	if attempt.Expired(f.now()) {
		return errors.New("authorization attempt expired; start over")
	}

	return f.manager.ExchangeAuthorizationCode(ctx, cb.code, attempt.State, cb.state)
}

// ManualExchange is the paste-based path: the user copies the code out of
// the provider page themselves. No correlation state is available, so none
// is compared.
func (f *Flow) ManualExchange(ctx context.Context, code string) error {
	return f.manager.ExchangeAuthorizationCode(ctx, code, "", "")
}

// openAuthorizationURL tries the browser a few times and falls back to
// telling the user to open the URL by hand.
func (f *Flow) openAuthorizationURL(authURL string) {
	var openErr error
	for i := 0; i < 3; i++ {
		openErr = f.openBrowser(authURL)
		if openErr == nil {
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
	f.log.Warn("could not open browser automatically; open the URL manually", "url", authURL, "error", openErr)
}
