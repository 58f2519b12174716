// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/accountd/accountd/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the accountd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accountd",
		Short: "accountd - account and identity service",
		Long: `accountd is an identity provider backend: account storage,
password authentication, email verification, and a versioned command API.`,
	}

	// Global flag for config file path; falls back to the XDG config
	// directory when unset.
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	cmd.PersistentPreRun = func(*cobra.Command, []string) {
		if configFile == "" {
			configFile = xdg.DefaultConfigFile()
		}
	}

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewSeedAdminCmd())

	return cmd
}
