package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.sr.ht/~jakintosh/whatshare/internal/api"
	"git.sr.ht/~jakintosh/whatshare/internal/config"
	"git.sr.ht/~jakintosh/whatshare/internal/credentials"
	"git.sr.ht/~jakintosh/whatshare/internal/database"
	"git.sr.ht/~jakintosh/whatshare/internal/logging"
	"git.sr.ht/~jakintosh/whatshare/internal/request"
	"git.sr.ht/~jakintosh/whatshare/internal/resources"
	"git.sr.ht/~jakintosh/whatshare/internal/service"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
)

func main() {
	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, readEnvVar("CONFIG_PATH")); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Debug.MirrorHost != "" {
		color.New(color.FgYellow).Print("    ▶ ")
		fmt.Printf("Mirror:    %s\n", cfg.Debug.MirrorHost)
	}
	fmt.Println()

	store, err := openStore(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	clientOpts := []request.Option{
		request.WithMaxAttempts(cfg.Request.MaxAttempts),
		request.WithBaseDelay(cfg.Request.BaseDelay),
		request.WithLogger(logger),
	}
	if cfg.Debug.MirrorHost != "" {
		clientOpts = append(clientOpts, request.WithObserver(request.NewMirror(cfg.Debug.MirrorHost, logger)))
	}
	client := request.New(clientOpts...)

	manager := credentials.NewManager(
		store.CredentialStore(),
		client,
		credentials.OAuthConfig{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURI:  cfg.OAuth.RedirectURI,
			TokenURL:     cfg.OAuth.TokenURL,
		},
		credentials.WithLogger(logger),
	)

	pages := resources.NewPages(cfg.Static.Dir, "/static/", logger)
	if cfg.Static.Watch {
		if err := pages.Watch(); err != nil {
			logger.Warn("static pages won't be reloaded", "dir", cfg.Static.Dir, "error", err)
		}
	}
	defer pages.Close()

	svc := service.New(
		manager,
		client,
		service.RelayConfig{URL: cfg.Relay.URL},
		pages,
		logger,
	)
	router := api.New(svc, cfg.Static.Dir, logger).Router()

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, server, cfg.Server.ShutdownTimeout, logger)
}

func openStore(
	cfg config.DatabaseConfig,
	logger *slog.Logger,
) (
	*database.SQLiteStore,
	error,
) {
	var opts []database.Option
	if cfg.TokenKey != "" {
		key, err := database.ParseTokenKey(cfg.TokenKey)
		if err != nil {
			return nil, fmt.Errorf("reading token key: %w", err)
		}
		opts = append(opts, database.WithTokenKey(key))
	} else {
		logger.Warn("database.token_key is not set, tokens are stored in plain text")
	}

	store, err := database.NewSQLiteStore(cfg.Path, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return store, nil
}

func serve(
	ctx context.Context,
	server *http.Server,
	shutdownTimeout time.Duration,
	logger *slog.Logger,
) error {
	errs := make(chan error, 1)
	go func() {
		logger.Info("starting whatshare relay", "http_addr", server.Addr)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func readEnvVar(name string) string {
	str, present := os.LookupEnv(name)
	if !present {
		log.Fatalf("missing required env var '%s'\n", name)
	}
	return str
}
