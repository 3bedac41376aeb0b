// Package metrics registers the Prometheus instruments for the ingest
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchAttempts tracks every HTTP attempt against the upstream API.
	FetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfermkt_fetch_attempts_total",
		Help: "The total number of HTTP attempts sent to the upstream API.",
	})
	// FetchRetries tracks attempts beyond the first for a logical fetch.
	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfermkt_fetch_retries_total",
		Help: "The total number of retry attempts.",
	})
	// FetchFailures tracks logical fetches that returned no payload,
	// labeled by failure classification.
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfermkt_fetch_failures_total",
		Help: "The total number of logical fetches that produced no payload.",
	}, []string{"reason"})
	// PayloadsPersisted tracks payloads written to the object store.
	PayloadsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfermkt_payloads_persisted_total",
		Help: "The total number of payloads persisted to the object store.",
	})
	// LedgerRebuilds tracks full watermark table rebuilds.
	LedgerRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfermkt_ledger_rebuilds_total",
		Help: "The total number of watermark table rebuilds from ground truth.",
	})
)
