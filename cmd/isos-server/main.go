// Package main provides the ISOS asset tracking server entry point.
// It serves the pallet and stencil APIs over a single database.
package main

import (
	"context"
	goflag "flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shopfloor/isos/pkg/config"
	"github.com/shopfloor/isos/pkg/database"
	"github.com/shopfloor/isos/pkg/directory"
	"github.com/shopfloor/isos/pkg/server"
	"github.com/shopfloor/isos/pkg/service"
)

var version = "dev"

func main() {
	defer glog.Flush()
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "isos-server",
		Short:        "Pallet and stencil lifecycle tracking server",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v)
		},
	}

	var flags *pflag.FlagSet = cmd.Flags()
	flags.String("config", "", "Path to YAML config file")
	flags.String("listen", "", "Address to listen on (default :8080)")
	flags.String("db-type", "", "Database type (sqlite, postgres or mysql)")
	flags.String("db-dsn", "", "Database connection string")
	flags.Duration("lock-timeout", 0, "Maximum time a request waits on a competing transaction")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.AddGoFlagSet(goflag.CommandLine)

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("ISOS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return cmd
}

// loadConfig merges the YAML file, ISOS_* environment variables and flags, in
// increasing order of precedence.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	if s := v.GetString("listen"); s != "" {
		cfg.Listen = s
	}
	if s := v.GetString("db-type"); s != "" {
		cfg.Database.Type = s
	}
	if s := v.GetString("db-dsn"); s != "" {
		cfg.Database.DSN = s
	}
	if d := v.GetDuration("lock-timeout"); d > 0 {
		cfg.LockTimeout = d
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, v *viper.Viper) error {
	// Initialize glog for fatal start-up errors.
	_ = goflag.Set("logtostderr", "true")

	logger := newLogger(v.GetString("log-level"))
	slog.SetDefault(logger)

	cfg, err := loadConfig(v)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}
	reg, err := cfg.Registry()
	if err != nil {
		glog.Fatalf("Failed to load asset types: %v", err)
	}

	assetTypes := make([]string, 0, len(reg.All()))
	for _, d := range reg.All() {
		assetTypes = append(assetTypes, d.Slug)
	}
	logger.Info("starting isos server",
		"version", version,
		"listen", cfg.Listen,
		"db", cfg.Database.Type,
		"assetTypes", assetTypes,
		"lockTimeout", cfg.LockTimeout,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	services := service.NewSet(db, reg, service.Options{LockTimeout: cfg.LockTimeout, Logger: logger})
	creds := directory.NewCredentials(db, cfg.BcryptCost)
	tokens, err := directory.NewTokens(cfg.Session.Secret, cfg.Session.TTL)
	if err != nil {
		glog.Fatalf("Failed to set up session tokens: %v", err)
	}
	if cfg.Session.Secret == "" {
		logger.Warn("no session secret configured, sessions will not survive a restart")
	}

	locker, err := database.NewLocker(db)
	if err != nil {
		glog.Fatalf("Failed to set up migration lock: %v", err)
	}
	seed := func(ctx context.Context) error {
		_, err := directory.Seed(ctx, db, creds, cfg.Seed, logger)
		return err
	}
	migrators := append(services.Migrators(), creds)
	if err := database.Migrate(ctx, locker, logger, seed, migrators...); err != nil {
		glog.Fatalf("Failed to migrate database: %v", err)
	}

	srv := server.New(db, services, creds, tokens, server.Options{
		Logger:         logger,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	srv.SetReady(true)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()
	logger.Info("isos server ready", "listen", cfg.Listen)

	<-ctx.Done()
	logger.Info("shutting down...")
	srv.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			return fmt.Errorf("close database: %w", err)
		}
	}
	logger.Info("isos server stopped")
	return nil
}
