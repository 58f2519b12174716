// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/accountd/accountd/internal/config"
)

// probeStatus holds the outcome of one health probe.
type probeStatus struct {
	Probe  string `json:"probe"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	jsonOutput bool
	timeout    time.Duration
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health of a running accountd instance",
		Long:  `Query the observability endpoint's liveness and readiness probes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", "", "observability address (default: from config)")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 5*time.Second, "probe timeout")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	addr := cfg.addr
	if addr == "" {
		fileCfg, err := config.Load(configFile, nil)
		if err != nil {
			return err
		}
		addr = fileCfg.Listen.Observability
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}

	client := &http.Client{Timeout: cfg.timeout}
	statuses := []probeStatus{
		probe(client, addr, "liveness"),
		probe(client, addr, "readiness"),
	}

	if cfg.jsonOutput {
		out, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		cmd.Println(string(out))
		return nil
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROBE\tSTATUS\tERROR")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Probe, s.Status, s.Error)
	}
	_ = w.Flush()
	cmd.Println(b.String())
	return nil
}

func probe(client *http.Client, addr, name string) probeStatus {
	status := probeStatus{Probe: name}

	resp, err := client.Get("http://" + addr + "/healthz/" + name)
	if err != nil {
		status.Status = "unreachable"
		status.Error = err.Error()
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusOK {
		status.Status = "ok"
	} else {
		status.Status = fmt.Sprintf("unhealthy (%d)", resp.StatusCode)
	}
	return status
}
