// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StatusSuccess labels a dispatch that produced a success response.
// Failures are labelled with their fault code.
const StatusSuccess = "success"

// CommandExecutions counts dispatches by command and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var CommandExecutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "accountd_command_executions_total",
		Help: "Total number of command executions",
	},
	[]string{"command", "status"},
)

// CommandDuration is the histogram for command execution duration.
// Use RegisterMetrics to register this with a Prometheus registry.
var CommandDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "accountd_command_duration_seconds",
		Help:    "Command execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"command"},
)

// RegisterMetrics registers engine metrics with the given Prometheus
// registry. Call once at startup; panics if registration fails
// (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(CommandExecutions)
	reg.MustRegister(CommandDuration)
}

func recordDispatch(command, status string, elapsed time.Duration) {
	CommandExecutions.WithLabelValues(command, status).Inc()
	CommandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}
