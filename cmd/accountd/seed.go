// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/accountd/accountd/internal/config"
	"github.com/accountd/accountd/internal/identity"
	"github.com/accountd/accountd/internal/permission"
	"github.com/accountd/accountd/internal/storage"
)

// Default timeout for the seed-admin command.
const defaultSeedTimeout = 30 * time.Second

// seedConfig holds configuration for the seed-admin command.
type seedConfig struct {
	loginName   string
	displayName string
	email       string
	password    string
	timeout     time.Duration
}

// NewSeedAdminCmd creates the seed-admin subcommand.
func NewSeedAdminCmd() *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create the initial administrator account",
		Long: `Creates an administrator account holding every capability.
This command is idempotent - an existing account with the same login
name is left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeedAdmin(cmd, args, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.loginName, "login-name", "admin", "administrator login name")
	cmd.Flags().StringVar(&cfg.displayName, "display-name", "Administrator", "administrator display name")
	cmd.Flags().StringVar(&cfg.email, "email", "", "administrator email address (required)")
	cmd.Flags().StringVar(&cfg.password, "password", "", "administrator password (default: ACCOUNTD_ADMIN_PASSWORD)")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runSeedAdmin(cmd *cobra.Command, _ []string, cfg *seedConfig) error {
	fileCfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}
	if fileCfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database URL is required (set database.url or DATABASE_URL)")
	}

	password := cfg.password
	if password == "" {
		password = os.Getenv("ACCOUNTD_ADMIN_PASSWORD")
	}
	if password == "" {
		return oops.Code("CONFIG_INVALID").Errorf("administrator password is required (set --password or ACCOUNTD_ADMIN_PASSWORD)")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	cmd.Println("Connecting to database...")
	pool, err := storage.NewPool(ctx, fileCfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	accounts := storage.NewAccountStore(pool)

	if existing, err := accounts.GetByLoginName(ctx, cfg.loginName); err == nil {
		cmd.Printf("Administrator %q already exists (id %s), nothing to do\n",
			existing.LoginName, existing.ID)
		return nil
	} else if !errors.Is(err, identity.ErrNotFound) {
		return err
	}

	alg, err := fileCfg.Algorithm()
	if err != nil {
		return err
	}
	hashed, err := alg.CreateHashed(password)
	if err != nil {
		return err
	}

	admin, err := identity.NewAdmin(cfg.loginName, cfg.displayName, cfg.email, hashed,
		permission.AllSet(), time.Now().UTC())
	if err != nil {
		return err
	}

	if err := accounts.Create(ctx, admin); err != nil {
		return err
	}

	cmd.Printf("Administrator %q created (id %s)\n", admin.LoginName, admin.ID)
	return nil
}
