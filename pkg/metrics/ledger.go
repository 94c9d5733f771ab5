package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts credit movements and rejected ledger operations.
type LedgerMetrics struct {
	credits  *prometheus.CounterVec
	rejected *prometheus.CounterVec
	webhooks *prometheus.CounterVec
}

// NewLedgerMetrics registers ledger metrics on reg. A nil registerer yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	credits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_credits_total",
		Help: "Credits moved through the ledger by transaction type.",
	}, []string{"type"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_rejected_total",
		Help: "Ledger operations rejected by error code.",
	}, []string{"operation", "code"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_webhook_events_total",
		Help: "Inbound processor events by type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(credits, rejected, webhooks)
	return &LedgerMetrics{credits: credits, rejected: rejected, webhooks: webhooks}
}

// AddCredits records amount credits (absolute) moved by a transaction type.
func (m *LedgerMetrics) AddCredits(txType string, amount int64) {
	if m == nil || m.credits == nil || amount == 0 {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	m.credits.WithLabelValues(normalizeLabel(txType)).Add(float64(amount))
}

// IncRejected counts a failed ledger operation.
func (m *LedgerMetrics) IncRejected(operation, code string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(operation), normalizeLabel(code)).Inc()
}

// IncWebhook counts a processed inbound event. Outcome is applied, noop or duplicate.
func (m *LedgerMetrics) IncWebhook(eventType, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
