package tokens

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tradelane-dev/marketauth/internal/autherr"
)

// DefaultSkew is the window before actual expiry during which a token is
// treated as expiring soon and refreshed proactively.
const DefaultSkew = 5 * time.Minute

// Exchanger is the slice of the connector endpoint the manager needs: code
// exchange and refresh. The concrete implementation lives in the exchange
// package.
type Exchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI, state string) (*WireResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*WireResponse, error)
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// RedirectURI is sent with every code exchange.
	RedirectURI string
	// Skew overrides DefaultSkew.
	Skew time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
	// Logger overrides slog.Default().
	Logger *slog.Logger
}

// Manager owns the authenticated/unauthenticated state machine and is the
// only component that mutates the credential store. Storage is the source
// of truth; the manager's in-memory state is a cache reconciled by Reload
// and the reconciliation poll.
type Manager struct {
	store       Store
	exchange    Exchanger
	notifier    *Notifier
	redirectURI string
	skew        time.Duration
	now         func() time.Time
	log         *slog.Logger

	group singleflight.Group

	// publishMu keeps the state snapshot and its delivery together, so
	// notifications go out in the order the states were observed.
	publishMu sync.Mutex

	mu     sync.Mutex
	state  State
	record *Record
}

// NewManager creates a manager and derives its initial state from the
// store. A store that cannot be read degrades to unauthenticated; it never
// fails construction.
func NewManager(ctx context.Context, store Store, exchange Exchanger, opts ManagerOptions) (*Manager, error) {
	if store == nil {
		return nil, errors.New("manager requires a credential store")
	}
	if exchange == nil {
		return nil, errors.New("manager requires an exchange client")
	}
	if opts.Skew <= 0 {
		opts.Skew = DefaultSkew
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Manager{
		store:       store,
		exchange:    exchange,
		notifier:    NewNotifier(),
		redirectURI: opts.RedirectURI,
		skew:        opts.Skew,
		now:         opts.Now,
		log:         opts.Logger,
	}

	rec, err := store.Load(ctx)
	if err != nil {
		m.log.Warn("stored tokens unreadable; starting unauthenticated", "error", err)
		rec = nil
	}
	if rec != nil && !rec.Valid() {
		m.log.Warn("stored token record is partial; treating as corrupt")
		rec = nil
	}
	m.record = rec
	m.state = m.deriveState(rec)
	m.publish()
	return m, nil
}

// Notifier returns the manager's change notifier.
func (m *Manager) Notifier() *Notifier {
	return m.notifier
}

// Subscribe registers a callback for authentication-state changes and
// returns its unsubscribe function.
func (m *Manager) Subscribe(fn func(Event)) func() {
	return m.notifier.Subscribe(fn)
}

// State returns the current state, advanced against the clock.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advanceClockLocked()
	return m.state
}

// CurrentRecord returns a copy of the stored record, or nil.
func (m *Manager) CurrentRecord() *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return nil
	}
	cp := *m.record
	return &cp
}

// IsAuthenticated reports whether the current state counts as
// authenticated (valid, expiring soon, or refresh in flight).
func (m *Manager) IsAuthenticated() bool {
	return m.State().Authenticated()
}

// ValidAccessToken is the primary read path. It returns a currently valid
// access token, transparently refreshing first when the stored one is
// expiring or expired and a refresh token is available. An empty string
// with a nil error means unauthenticated; the caller must start a login.
// Concurrent callers share a single in-flight refresh.
func (m *Manager) ValidAccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.advanceClockLocked()

	switch m.state {
	case StateValid:
		token := m.record.AccessToken
		m.mu.Unlock()
		return token, nil

	case StateExpiringSoon:
		if m.record.RefreshToken == "" {
			// Still inside its lifetime; usable until actual expiry.
			token := m.record.AccessToken
			m.mu.Unlock()
			return token, nil
		}
		m.state = StateRefreshing
		m.mu.Unlock()
		m.publish()
		return m.awaitRefresh()

	case StateExpired:
		if m.record == nil || m.record.RefreshToken == "" {
			m.mu.Unlock()
			return "", nil
		}
		m.state = StateRefreshing
		m.mu.Unlock()
		m.publish()
		return m.awaitRefresh()

	case StateRefreshing:
		m.mu.Unlock()
		return m.awaitRefresh()

	default: // StateUnauthenticated, StateError
		m.mu.Unlock()
		return "", nil
	}
}

// awaitRefresh joins the shared refresh flight. The flight deliberately
// ignores the caller's context: a caller that stops awaiting must not
// cancel the refresh other callers resume with, and the HTTP client bounds
// the call with its own timeout.
func (m *Manager) awaitRefresh() (string, error) {
	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return m.doRefresh(context.Background())
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	// Recheck under the lock: a flight that just completed may already
	// have renewed the record for us.
	m.mu.Lock()
	if m.state == StateValid && m.record != nil {
		token := m.record.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	rec := m.record
	m.mu.Unlock()

	if rec == nil || rec.RefreshToken == "" {
		return "", nil
	}

	resp, err := m.exchange.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		m.failRefresh(ctx, err)
		return "", err
	}

	renewed, err := FromWire(resp, m.now())
	if err != nil {
		m.failRefresh(ctx, err)
		return "", err
	}
	if renewed.RefreshToken == "" {
		// The endpoint may omit the refresh token on renewal; keep ours.
		renewed.RefreshToken = rec.RefreshToken
	}

	if err := m.store.Save(ctx, renewed); err != nil {
		m.failRefresh(ctx, err)
		return "", err
	}

	m.mu.Lock()
	m.record = renewed
	m.state = StateValid
	m.mu.Unlock()
	m.publish()
	m.log.Info("access token refreshed", "expires_at", renewed.ExpiresAt())
	return renewed.AccessToken, nil
}

// failRefresh clears the record that can no longer be trusted and surfaces
// the error state. A failed refresh must not leave an expired token
// masquerading as usable.
func (m *Manager) failRefresh(ctx context.Context, cause error) {
	m.mu.Lock()
	m.record = nil
	m.state = StateError
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		m.log.Warn("failed to clear stale tokens after refresh failure", "error", err)
	}
	m.publish()
	m.log.Warn("token refresh failed; re-authentication required", "error", cause)
}

// ExchangeAuthorizationCode trades an authorization code for tokens,
// persists them and transitions to valid. When expectedState is present and
// differs from receivedState the mismatch is logged but the exchange
// continues: state validation here is advisory, a documented relaxation for
// real-world redirect quirks, not a security boundary. Harden it if the
// threat model requires strict CSRF protection.
func (m *Manager) ExchangeAuthorizationCode(ctx context.Context, code, expectedState, receivedState string) error {
	if strings.TrimSpace(code) == "" {
		return errors.New("authorization code is required")
	}

	if expectedState != "" && expectedState != receivedState {
		mismatch := autherr.New(autherr.StateMismatch, "authorization state mismatch").
			WithDetails("expected " + expectedState + ", received " + receivedState)
		m.log.Warn("continuing despite authorization state mismatch", "error", mismatch)
	}

	resp, err := m.exchange.ExchangeCode(ctx, code, m.redirectURI, receivedState)
	if err != nil {
		// Stored state stays untouched on exchange failure.
		return err
	}

	rec, err := FromWire(resp, m.now())
	if err != nil {
		return err
	}

	if err := m.store.Save(ctx, rec); err != nil {
		return err
	}

	m.mu.Lock()
	m.record = rec
	m.state = StateValid
	m.mu.Unlock()
	m.publish()
	m.log.Info("authorization code exchanged", "expires_at", rec.ExpiresAt())
	return nil
}

// ClearStoredTokens transitions to unauthenticated, clears the store and
// notifies observers.
func (m *Manager) ClearStoredTokens(ctx context.Context) error {
	m.mu.Lock()
	m.record = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	err := m.store.Clear(ctx)
	m.publish()
	return err
}

// Reload re-derives the state from storage. It is the reconciliation path
// for writers that bypass the manager (manual or test injection) and is
// also used by diagnostics after a repair. A reload never interrupts an
// in-flight refresh.
func (m *Manager) Reload(ctx context.Context) error {
	rec, loadErr := m.store.Load(ctx)

	m.mu.Lock()
	if m.state == StateRefreshing {
		m.mu.Unlock()
		return nil
	}
	if loadErr != nil {
		m.record = nil
		m.state = StateUnauthenticated
		m.mu.Unlock()
		m.publish()
		return loadErr
	}
	if rec != nil && !rec.Valid() {
		// Partial records are corrupt and treated as absent.
		rec = nil
	}
	if rec == nil && m.state == StateError {
		// Keep the error surfaced until new credentials appear.
		m.mu.Unlock()
		return nil
	}
	m.record = rec
	m.state = m.deriveState(rec)
	m.mu.Unlock()
	m.publish()
	return nil
}

// StartReconciliation runs a periodic Reload until ctx is cancelled. This
// is the cross-process fallback: storage mutations done behind the
// manager's back become visible within one poll interval.
func (m *Manager) StartReconciliation(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Reload(ctx); err != nil {
					m.log.Debug("reconciliation reload failed", "error", err)
				}
			}
		}
	}()
}

// deriveState maps a record to the state it implies at the current time.
func (m *Manager) deriveState(rec *Record) State {
	if rec == nil || !rec.Valid() {
		return StateUnauthenticated
	}
	now := m.now()
	switch {
	case rec.Expired(now):
		return StateExpired
	case rec.ExpiringSoon(now, m.skew):
		return StateExpiringSoon
	default:
		return StateValid
	}
}

// advanceClockLocked moves time-derived states forward. Refreshing, error
// and unauthenticated states are not clock-driven.
func (m *Manager) advanceClockLocked() {
	switch m.state {
	case StateValid, StateExpiringSoon, StateExpired:
		m.state = m.deriveState(m.record)
	}
}

// publish sends the current status through the notifier, which coalesces
// transitions that do not change the authenticated value. Snapshot and
// delivery are one atomic step: a refresh failure racing the
// reconciliation poll must not deliver the older status last.
func (m *Manager) publish() {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	ev := Event{Authenticated: m.state.Authenticated()}
	if m.record != nil && ev.Authenticated {
		cp := *m.record
		ev.Record = &cp
	}
	m.mu.Unlock()
	m.notifier.Publish(ev)
}
