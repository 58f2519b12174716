// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/accountd/accountd/internal/clock"
	"github.com/accountd/accountd/internal/config"
	"github.com/accountd/accountd/internal/engine"
	"github.com/accountd/accountd/internal/events"
	"github.com/accountd/accountd/internal/logging"
	"github.com/accountd/accountd/internal/login"
	"github.com/accountd/accountd/internal/mail"
	"github.com/accountd/accountd/internal/observability"
	"github.com/accountd/accountd/internal/storage"
	"github.com/accountd/accountd/internal/transport"
	"github.com/accountd/accountd/internal/verification"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the account service",
		Long: `Start the account service: the command endpoint, the
observability endpoint, and the background session sweeper.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, autoMigrate)
		},
	}

	// Dotted flag names override the matching config keys. Flag
	// defaults mirror the config defaults so unset flags are inert.
	defaults := config.Default()
	cmd.Flags().String("database.url", defaults.Database.URL, "PostgreSQL connection string")
	cmd.Flags().String("listen.api", defaults.Listen.API, "command endpoint listen address")
	cmd.Flags().String("listen.observability", defaults.Listen.Observability, "metrics/health listen address")
	cmd.Flags().String("logging.level", defaults.Logging.Level, "log level (debug, info, warn, error)")
	cmd.Flags().String("logging.format", defaults.Logging.Format, "log format (json or text)")
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "apply pending schema migrations on startup")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, autoMigrate bool) error {
	logging.SetDefault("accountd", version, cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database URL is required (set database.url or DATABASE_URL)")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if autoMigrate {
		migrator, err := storage.NewMigrator(cfg.Database.URL)
		if err != nil {
			return err
		}
		if err := migrator.Up(); err != nil {
			_ = migrator.Close()
			return err
		}
		if err := migrator.Close(); err != nil {
			return err
		}
		slog.Info("schema migrations applied")
	}

	pool, err := storage.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	slog.Info("connected to database")

	tx := storage.NewTransactor(pool)
	accounts := storage.NewAccountStore(pool)
	bans := storage.NewBanStore(pool)
	history := storage.NewHistoryStore(pool)
	verifications := storage.NewVerificationStore(pool)
	audit := storage.NewAuditStore(pool)
	sessions := storage.NewSessionStore(pool, cfg.Session.IdleTTL, clock.Real{})

	emitter, err := events.NewFiltered(events.Multi{
		events.SlogEmitter{},
		events.AuditEmitter{Repo: audit},
	}, cfg.Events.Topics)
	if err != nil {
		return err
	}

	alg, err := cfg.Algorithm()
	if err != nil {
		return err
	}

	loginSvc, err := login.NewService(accounts, bans, history, sessions, emitter, clock.Real{}, login.Config{
		RateLimitWindow:   cfg.Login.RateLimitWindow,
		MaxHistoryEntries: cfg.Login.MaxHistoryEntries,
		Algorithm:         alg,
	})
	if err != nil {
		return err
	}

	// Mail goes to the log until an SMTP transport is configured.
	verifySvc := verification.NewService(accounts, verifications, mail.LogSender{}, emitter, clock.Real{}, verification.Config{
		Cooldown: cfg.Verification.Cooldown,
		TTL:      cfg.Verification.TTL,
		BaseURL:  cfg.Verification.BaseURL,
	})

	eng, err := engine.New(engine.Deps{
		Accounts:      accounts,
		Bans:          bans,
		Sessions:      sessions,
		Audit:         audit,
		Login:         loginSvc,
		Verifications: verifySvc,
		Emitter:       emitter,
		Clock:         clock.Real{},
		Algorithm:     alg,
		Logger:        slog.Default(),
	})
	if err != nil {
		return err
	}

	obs := observability.NewServer(cfg.Listen.Observability, func() bool {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx) == nil
	})
	engine.RegisterMetrics(obs.Registry())

	obsErrCh, err := obs.Start()
	if err != nil {
		return err
	}

	api, err := transport.NewServer(transport.Config{
		Addr:     cfg.Listen.API,
		Engine:   eng,
		Sessions: sessions,
		Accounts: accounts,
		Tx:       tx,
		Metrics:  obs.Metrics(),
		Logger:   slog.Default(),
	})
	if err != nil {
		return err
	}

	apiErrCh, err := api.Start()
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = obs.Stop(stopCtx)
		return err
	}

	go sweepSessions(ctx, sessions, cfg.Session.SweepInterval)

	slog.Info("accountd ready",
		"api_addr", api.Addr(),
		"observability_addr", obs.Addr(),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case serveErr = <-apiErrCh:
	case serveErr = <-obsErrCh:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := api.Stop(stopCtx); err != nil {
		slog.Error("stopping command server", "error", err)
	}
	if err := obs.Stop(stopCtx); err != nil {
		slog.Error("stopping observability server", "error", err)
	}
	return serveErr
}

// sweepSessions purges expired sessions until ctx is cancelled.
func sweepSessions(ctx context.Context, sessions *storage.SessionStore, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteExpired(ctx, time.Now())
			if err != nil {
				slog.Error("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("expired sessions purged", "count", n)
			}
		}
	}
}
