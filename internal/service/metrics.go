package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mandateUsages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mandate_usages_total",
		Help: "Payment mandate usage attempts, labeled by variant and outcome",
	}, []string{"variant", "outcome"})

	mandatesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mandate_expired_total",
		Help: "Mandates moved to inactive/expired by the lazy sweep",
	})

	mandateRevocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mandate_revocations_total",
		Help: "Revocation attempts, labeled by outcome",
	}, []string{"outcome"})

	captureReconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_reconciliations_total",
		Help: "Capture reconciliations, labeled by whether the capture changed",
	}, []string{"changed"})
)
