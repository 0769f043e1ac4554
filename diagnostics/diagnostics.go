// Package diagnostics inspects the authorization stack with a fixed,
// ordered battery of checks and performs a bounded set of non-destructive
// repairs.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tradelane-dev/marketauth/config"
	"github.com/tradelane-dev/marketauth/tokens"
)

// Status classifies a single check's outcome.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Result is one line item of the battery. Results keep execution order.
type Result struct {
	Step    string         `json:"step"`
	Status  Status         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Prober is the reachability slice of the exchange client.
type Prober interface {
	Probe(ctx context.Context) error
}

// Options configures a Runner.
type Options struct {
	Skew   time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// Runner executes the battery. Every step is independent; a failing step
// never stops the ones after it.
type Runner struct {
	cfg     *config.Config
	store   tokens.Store
	manager *tokens.Manager
	prober  Prober
	skew    time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// NewRunner creates a diagnostics runner.
func NewRunner(cfg *config.Config, store tokens.Store, manager *tokens.Manager, prober Prober, opts Options) *Runner {
	if opts.Skew <= 0 {
		opts.Skew = tokens.DefaultSkew
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		cfg:     cfg,
		store:   store,
		manager: manager,
		prober:  prober,
		skew:    opts.Skew,
		now:     opts.Now,
		log:     opts.Logger,
	}
}

// Run executes the battery in its fixed order:
// configuration, storage readability, record shape, expiry, reachability.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, 0, 5)
	results = append(results, r.checkConfiguration())

	rec, readable := r.checkStorage(ctx, &results)
	r.checkRecordShape(rec, readable, &results)
	r.checkExpiry(rec, &results)
	results = append(results, r.checkReachability(ctx))

	return results
}

func (r *Runner) checkConfiguration() Result {
	if r.cfg == nil {
		return Result{Step: "configuration", Status: StatusError, Message: "no configuration loaded"}
	}
	if err := r.cfg.Validate(); err != nil {
		return Result{Step: "configuration", Status: StatusError, Message: err.Error()}
	}
	return Result{
		Step:    "configuration",
		Status:  StatusOK,
		Message: "connector endpoint configured",
		Data:    map[string]any{"connector_url": r.cfg.ConnectorURL},
	}
}

func (r *Runner) checkStorage(ctx context.Context, results *[]Result) (*tokens.Record, bool) {
	rec, err := r.store.Load(ctx)
	if err != nil {
		*results = append(*results, Result{
			Step:    "storage",
			Status:  StatusError,
			Message: "stored credentials are unreadable: " + err.Error(),
		})
		return nil, false
	}
	*results = append(*results, Result{Step: "storage", Status: StatusOK, Message: "credential store is readable"})
	return rec, true
}

func (r *Runner) checkRecordShape(rec *tokens.Record, readable bool, results *[]Result) {
	switch {
	case !readable:
		*results = append(*results, Result{
			Step:    "token",
			Status:  StatusError,
			Message: "cannot inspect token record; storage is unreadable",
		})
	case rec == nil:
		*results = append(*results, Result{
			Step:    "token",
			Status:  StatusWarning,
			Message: "no stored credentials; not authenticated",
		})
	case !rec.Valid():
		*results = append(*results, Result{
			Step:    "token",
			Status:  StatusError,
			Message: "stored token record is partial; it will be treated as corrupt",
		})
	default:
		*results = append(*results, Result{Step: "token", Status: StatusOK, Message: "token record is well-formed"})
	}
}

func (r *Runner) checkExpiry(rec *tokens.Record, results *[]Result) {
	if rec == nil || !rec.Valid() {
		*results = append(*results, Result{
			Step:    "expiry",
			Status:  StatusWarning,
			Message: "no well-formed record to check expiry on",
		})
		return
	}

	now := r.now()
	switch {
	case rec.Expired(now):
		*results = append(*results, Result{
			Step:    "expiry",
			Status:  StatusError,
			Message: "access token is expired",
			Data:    map[string]any{"expired_at": rec.ExpiresAt()},
		})
	case rec.ExpiringSoon(now, r.skew):
		*results = append(*results, Result{
			Step:    "expiry",
			Status:  StatusWarning,
			Message: "access token expires within the skew threshold",
			Data:    map[string]any{"expires_at": rec.ExpiresAt()},
		})
	default:
		*results = append(*results, Result{
			Step:    "expiry",
			Status:  StatusOK,
			Message: fmt.Sprintf("access token valid for %s", rec.ExpiresAt().Sub(now).Round(time.Second)),
		})
	}
}

func (r *Runner) checkReachability(ctx context.Context) Result {
	if r.prober == nil {
		return Result{Step: "reachability", Status: StatusWarning, Message: "no exchange client to probe with"}
	}
	if err := r.prober.Probe(ctx); err != nil {
		return Result{Step: "reachability", Status: StatusError, Message: err.Error()}
	}
	return Result{Step: "reachability", Status: StatusOK, Message: "connector endpoint is reachable"}
}

// Report renders results as a human-readable report, one line per step, in
// execution order.
func Report(results []Result) string {
	var b strings.Builder
	for _, res := range results {
		fmt.Fprintf(&b, "[%s] %s: %s\n", res.Status, res.Step, res.Message)
	}
	return b.String()
}

// AutoFix performs only non-destructive, reversible repairs: it clears
// demonstrably corrupt (unreadable or partial) records and re-derives the
// manager's state from storage. It never fabricates a token and never
// touches a well-formed record.
func (r *Runner) AutoFix(ctx context.Context) error {
	rec, err := r.store.Load(ctx)
	if err != nil {
		r.log.Warn("clearing unreadable credential store", "error", err)
		if clearErr := r.store.Clear(ctx); clearErr != nil {
			return clearErr
		}
	} else if rec != nil && !rec.Valid() {
		r.log.Warn("clearing partial token record")
		if clearErr := r.store.Clear(ctx); clearErr != nil {
			return clearErr
		}
	}

	if r.manager != nil {
		if err := r.manager.Reload(ctx); err != nil {
			return err
		}
	}
	return nil
}
