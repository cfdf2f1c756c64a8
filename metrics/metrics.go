// Package metrics exposes the service's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var PurchaseDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bundlestore_purchase_dispatch_total",
	Help: "Upstream purchase dispatches by outcome (success, not_confirmed, upstream_error).",
}, []string{"outcome"})

var PaymentVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bundlestore_payment_verify_total",
	Help: "Payment gateway verifications by result (success, failed, error).",
}, []string{"result"})

var IdempotentReplays = promauto.NewCounter(prometheus.CounterOpts{
	Name: "bundlestore_idempotent_replay_total",
	Help: "Purchase requests answered from the idempotency cache without an upstream call.",
})

var WalletCredits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "bundlestore_wallet_credit_total",
	Help: "Wallet credits applied from verified payments.",
})
