package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	SettlementsTotal  *prometheus.CounterVec
	SettlementLatency prometheus.Histogram
	ListingCreations  *prometheus.CounterVec
	TxnVerifications  *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		SettlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlements_total",
				Help: "Settlement attempts by outcome.",
			},
			[]string{"status"},
		),
		SettlementLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "settlement_latency_seconds",
				Help:    "End-to-end settlement latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ListingCreations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listing_creations_total",
				Help: "Listing creation attempts by outcome.",
			},
			[]string{"status"},
		),
		TxnVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txn_verifications_total",
				Help: "Transaction verification attempts by ledger path and outcome.",
			},
			[]string{"path", "status"},
		),
	}

	registry.MustRegister(m.SettlementsTotal, m.SettlementLatency, m.ListingCreations, m.TxnVerifications)
	return m
}

func (m *Metrics) settlement(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SettlementsTotal.WithLabelValues(status).Inc()
	m.SettlementLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) listingCreation(status string) {
	if m == nil {
		return
	}
	m.ListingCreations.WithLabelValues(status).Inc()
}

func (m *Metrics) verification(path, status string) {
	if m == nil {
		return
	}
	if path == "" {
		path = "none"
	}
	m.TxnVerifications.WithLabelValues(path, status).Inc()
}
