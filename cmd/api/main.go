package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"jurisflow/adjudicator"
	"jurisflow/auth"
	"jurisflow/broadcast"
	"jurisflow/config"
	"jurisflow/db"
	"jurisflow/extract"
	"jurisflow/migrations"
	"jurisflow/proceeding"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}
	var configFile string

	root := &cobra.Command{
		Use:           "jurisflow",
		Short:         "Simulated court proceedings with live case progress",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			cfg, err := config.Load(a.v, configFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(cfg.Log)
			slog.SetDefault(a.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a config file (yaml, toml or json)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	serve.Flags().String("addr", "", "listen address, overrides http.addr")
	serve.Flags().String("store", "", "case store driver: postgres or memory")
	_ = a.v.BindPFlag("http.addr", serve.Flags().Lookup("addr"))
	_ = a.v.BindPFlag("store.driver", serve.Flags().Lookup("store"))

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.migrate(cmd.Context())
		},
	}

	root.AddCommand(serve, migrate)
	return root
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func (a *app) migrate(ctx context.Context) error {
	pool, err := db.NewPool(ctx, a.cfg.Database.URL, db.PoolConfig{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool, migrations.Files)
	if err != nil {
		return err
	}
	a.logger.Info("migrations applied", "files", applied)
	return nil
}

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := broadcast.NewHub(broadcast.WithBuffer(a.cfg.Broadcast.Buffer), broadcast.WithLogger(a.logger))
	defer hub.Close()

	var sink proceeding.EventSink = hub
	if addr := a.cfg.Broadcast.RedisAddr; addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: a.cfg.Broadcast.RedisPassword,
			DB:       a.cfg.Broadcast.RedisDB,
		})
		defer client.Close()

		relay := broadcast.NewRedisRelay(client, a.cfg.Broadcast.Channel, hub, a.logger)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("redis relay stopped", "error", err)
			}
		}()
		sink = relay
		a.logger.Info("broadcast relay enabled", "redis_addr", addr, "channel", a.cfg.Broadcast.Channel)
	}

	srv := newServer(a.cfg, a.logger, store, sink, hub)
	stopSweep := make(chan struct{})
	defer close(stopSweep)
	go srv.verdicts.run(stopSweep)

	httpServer := &http.Server{
		Addr:    a.cfg.HTTP.Addr,
		Handler: srv.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.cfg.HTTP.Addr, "store", a.cfg.Store.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	// Observers hold streams open; dropping them first lets Shutdown finish.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (a *app) openStore(ctx context.Context) (proceeding.Store, func(), error) {
	if a.cfg.Store.Driver == "memory" {
		a.logger.Warn("using in-memory case store; cases are lost on restart")
		return proceeding.NewMemoryStore(), func() {}, nil
	}

	pool, err := db.NewPool(ctx, a.cfg.Database.URL, db.PoolConfig{
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	if a.cfg.Database.AutoMigrate {
		if _, err := db.Migrate(ctx, pool, migrations.Files); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return proceeding.NewPGStore(pool), pool.Close, nil
}

func newServer(cfg *config.Config, logger *slog.Logger, store proceeding.Store, sink proceeding.EventSink, hub *broadcast.Hub) *Server {
	judge := adjudicator.New(adjudicator.Config{
		BaseURL:      cfg.Adjudicator.BaseURL,
		APIKey:       cfg.Adjudicator.APIKey,
		Model:        cfg.Adjudicator.Model,
		Temperature:  cfg.Adjudicator.Temperature,
		MaxTokens:    cfg.Adjudicator.MaxTokens,
		TopP:         cfg.Adjudicator.TopP,
		Jurisdiction: cfg.Adjudicator.Jurisdiction,
	}, logger)

	svc := proceeding.NewService(store, judge, sink,
		proceeding.WithLogger(logger),
		proceeding.WithPolicy(proceeding.Policy{
			CounterQuota:          cfg.Policy.CounterQuota,
			FinalCounterThreshold: cfg.Policy.FinalCounterThreshold,
		}),
		proceeding.WithClosurePolicy(proceeding.ClosurePolicy{
			ArgumentCeiling: cfg.Closure.ArgumentCeiling,
			Markers:         cfg.Closure.Markers,
		}),
		proceeding.WithAdjudicationTimeout(cfg.Adjudicator.Timeout),
	)

	maxUpload := int64(cfg.HTTP.MaxUploadMB) << 20
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	maxText := cfg.HTTP.MaxTextBytes
	if maxText <= 0 {
		maxText = 4 * maxUpload
	}
	return &Server{
		cases:       svc,
		hub:         hub,
		extractor:   extract.NewRegistry(extract.WithMaxTextBytes(maxText)),
		tokens:      auth.NewService(cfg.Auth.Secret, cfg.Auth.TokenTTL),
		verdicts:    newCaseLimiter(cfg.HTTP.VerdictRate, cfg.HTTP.VerdictBurst),
		logger:      logger,
		maxUpload:   maxUpload,
		keepAlive:   cfg.Broadcast.KeepAlive,
		allowedCORS: cfg.HTTP.AllowedOrigins,
	}
}
