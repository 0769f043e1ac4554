package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tradelane-dev/marketauth/config"
	"github.com/tradelane-dev/marketauth/diagnostics"
	"github.com/tradelane-dev/marketauth/exchange"
	"github.com/tradelane-dev/marketauth/flow"
	"github.com/tradelane-dev/marketauth/internal/httpclient"
	"github.com/tradelane-dev/marketauth/internal/logger"
	"github.com/tradelane-dev/marketauth/tokens"
)

const usage = `Usage: marketauth <command> [flags]

Commands:
  login    Run the interactive browser authorization flow
  manual   Exchange a pasted authorization code (-code)
  token    Print a currently valid access token, refreshing if needed
  status   Print the current authentication state
  watch    Print authentication-state transitions until interrupted
  doctor   Run the diagnostic battery (-fix applies safe repairs)
  inject   Write a token record directly to storage (debug/testing)
  logout   Clear stored credentials
`

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	connectorURL := fs.String("connector", "", "Connector endpoint URL (overrides MARKETAUTH_CONNECTOR_URL)")
	storeBackend := fs.String("store", "", "Credential store backend: file, memory or redis")
	storeDir := fs.String("dir", "", "Directory for the file store")
	callbackPort := fs.Int("port", 0, "Callback port for the login flow")
	code := fs.String("code", "", "Authorization code for the manual command")
	fix := fs.Bool("fix", false, "Apply safe repairs after the doctor battery")
	accessToken := fs.String("access-token", "", "Access token for the inject command")
	expiresIn := fs.Int64("expires-in", 3600, "Token lifetime in seconds for the inject command")
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(1)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *connectorURL != "" {
		cfg.ConnectorURL = *connectorURL
	}
	if *storeBackend != "" {
		cfg.Store = *storeBackend
	}
	if *storeDir != "" {
		cfg.StoreDir = *storeDir
	}
	if *callbackPort != 0 {
		cfg.CallbackPort = *callbackPort
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := tokens.NewStore(tokens.StoreConfig{
		Type: tokens.ParseStoreType(cfg.Store),
		Dir:  cfg.StoreDir,
		Redis: tokens.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
	})
	if err != nil {
		log.Error("failed to open credential store", "error", err)
		os.Exit(1)
	}

	// The inject command writes storage directly and must not go through
	// the manager; it exists to exercise the reconciliation path.
	if command == "inject" {
		if err := runInject(ctx, store, *accessToken, *expiresIn); err != nil {
			log.Error("inject failed", "error", err)
			os.Exit(1)
		}
		fmt.Println("token record written; running managers will pick it up on their next poll")
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	client, err := exchange.New(exchange.Options{
		Endpoint: cfg.ConnectorURL,
		HTTP: &httpclient.Config{
			Timeout:        cfg.ExchangeTimeout,
			MaxRetries:     2,
			RetryDelay:     time.Second,
			DefaultHeaders: map[string]string{},
		},
	})
	if err != nil {
		log.Error("failed to create exchange client", "error", err)
		os.Exit(1)
	}

	manager, err := tokens.NewManager(ctx, store, client, tokens.ManagerOptions{
		RedirectURI: cfg.RedirectURI,
		Skew:        cfg.Skew,
		Logger:      log,
	})
	if err != nil {
		log.Error("failed to create token manager", "error", err)
		os.Exit(1)
	}

	switch command {
	case "login":
		f, err := flow.New(manager, client, flow.Options{
			CallbackPort: cfg.CallbackPort,
			CallbackPath: cfg.CallbackPath,
			SuccessURL:   cfg.SuccessURL,
			Logger:       log,
		})
		if err == nil {
			err = f.Login(ctx)
		}
		if err != nil {
			log.Error("login failed", "error", err)
			os.Exit(1)
		}
		fmt.Println("authorized")

	case "manual":
		if *code == "" {
			fmt.Println("manual requires -code")
			os.Exit(1)
		}
		f, err := flow.New(manager, client, flow.Options{Logger: log})
		if err == nil {
			err = f.ManualExchange(ctx, *code)
		}
		if err != nil {
			log.Error("manual exchange failed", "error", err)
			os.Exit(1)
		}
		fmt.Println("authorized")

	case "token":
		token, err := manager.ValidAccessToken(ctx)
		if err != nil {
			log.Error("could not obtain a valid token", "error", err)
			os.Exit(1)
		}
		if token == "" {
			fmt.Println("not authenticated; run: marketauth login")
			os.Exit(1)
		}
		fmt.Println(token)

	case "status":
		state := manager.State()
		fmt.Printf("state: %s\nauthenticated: %t\n", state, state.Authenticated())
		if rec := manager.CurrentRecord(); rec != nil {
			fmt.Printf("expires at: %s\nhas refresh token: %t\n", rec.ExpiresAt(), rec.RefreshToken != "")
		}

	case "watch":
		runWatch(ctx, cancel, manager, cfg.PollInterval)

	case "doctor":
		runner := diagnostics.NewRunner(cfg, store, manager, client, diagnostics.Options{
			Skew:   cfg.Skew,
			Logger: log,
		})
		results := runner.Run(ctx)
		fmt.Print(diagnostics.Report(results))
		if *fix {
			if err := runner.AutoFix(ctx); err != nil {
				log.Error("auto-fix failed", "error", err)
				os.Exit(1)
			}
			fmt.Println("safe repairs applied")
		}

	case "logout":
		if err := manager.ClearStoredTokens(ctx); err != nil {
			log.Error("logout failed", "error", err)
			os.Exit(1)
		}
		fmt.Println("logged out")

	default:
		fmt.Print(usage)
		os.Exit(1)
	}
}

// runInject writes a record straight to the store, bypassing the manager.
func runInject(ctx context.Context, store tokens.Store, accessToken string, expiresIn int64) error {
	if accessToken == "" {
		return fmt.Errorf("inject requires -access-token")
	}
	rec, err := tokens.FromWire(&tokens.WireResponse{
		AccessToken: accessToken,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	}, time.Now())
	if err != nil {
		return err
	}
	return store.Save(ctx, rec)
}

// runWatch subscribes to state changes and keeps the reconciliation poll
// running so out-of-process writes show up too.
func runWatch(ctx context.Context, cancel context.CancelFunc, manager *tokens.Manager, poll time.Duration) {
	unsubscribe := manager.Subscribe(func(ev tokens.Event) {
		fmt.Printf("%s authenticated=%t\n", time.Now().Format(time.RFC3339), ev.Authenticated)
	})
	defer unsubscribe()

	manager.StartReconciliation(ctx, poll)
	fmt.Printf("watching (state: %s); press Ctrl-C to stop\n", manager.State())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		cancel()
	case <-ctx.Done():
	}
}
