package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clawdlabs/clawd-domains/internal/market/model"
)

var (
	clawdPurchaseTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clawd_purchase_transitions_total",
		Help: "Total purchase state transitions by target state.",
	}, []string{"to"})

	clawdSettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clawd_settlements_total",
		Help: "Total settlement attempts by outcome.",
	}, []string{"outcome"})

	clawdRegistrarCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clawd_registrar_calls_total",
		Help: "Total registrar gateway calls by operation and result.",
	}, []string{"op", "result"})

	clawdReconciliationQueue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clawd_reconciliation_queue_depth",
		Help: "Purchases awaiting operator reconciliation.",
	})

	clawdRelayerGasWei = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clawd_relayer_gas_balance_wei",
		Help: "Native token balance of the relayer wallet.",
	})

	clawdDependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clawd_dependency_up",
		Help: "Last health probe result per upstream dependency (1 = healthy).",
	}, []string{"dependency"})

	clawdPurchasesByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clawd_purchases_by_state",
		Help: "Current purchase count per lifecycle state.",
	}, []string{"state"})
)

func recordTransition(to string) {
	clawdPurchaseTransitionsTotal.WithLabelValues(to).Inc()
}

func recordSettlement(outcome string) {
	clawdSettlementsTotal.WithLabelValues(outcome).Inc()
}

func recordRegistrarCall(op string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	clawdRegistrarCallsTotal.WithLabelValues(op, result).Inc()
}

// SetReconciliationDepth updates the operator alert gauge.
func SetReconciliationDepth(n float64) {
	clawdReconciliationQueue.Set(n)
}

// SetRelayerGasBalance updates the relayer wallet balance gauge.
func SetRelayerGasBalance(wei float64) {
	clawdRelayerGasWei.Set(wei)
}

func setPurchaseStateCounts(counts map[model.PurchaseState]int64) {
	for _, state := range model.AllStates {
		clawdPurchasesByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

// RecordDependencyHealth updates the per-dependency health gauge.
func RecordDependencyHealth(name string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	clawdDependencyUp.WithLabelValues(name).Set(v)
}
