package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Token-API Metrics
var (
	TokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vcu",
			Subsystem: "token_api",
			Name:      "tokens_issued_total",
			Help:      "Total tokens created",
		},
	)

	TokensRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vcu",
			Subsystem: "token_api",
			Name:      "tokens_revoked_total",
			Help:      "Total tokens revoked",
		},
	)

	QuotaDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vcu",
			Subsystem: "token_api",
			Name:      "quota_decisions_total",
			Help:      "Quota consume decisions by outcome",
		},
		[]string{"outcome"},
	)

	UsageUnitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vcu",
			Subsystem: "token_api",
			Name:      "usage_units_total",
			Help:      "Total compute units consumed across all tokens",
		},
	)

	RotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vcu",
			Subsystem: "token_api",
			Name:      "rotations_total",
			Help:      "Rotation attempts by outcome",
		},
		[]string{"outcome"},
	)

	ProviderErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vcu",
			Subsystem: "token_api",
			Name:      "provider_errors_total",
			Help:      "Total provider call failures during rotation",
		},
	)

	ValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vcu",
			Subsystem: "token_api",
			Name:      "validations_total",
			Help:      "Token validations by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordQuotaDecision records a consume decision. Allowed decisions also
// count one consumed unit.
func RecordQuotaDecision(allowed bool, reason string) {
	outcome := reason
	if allowed {
		outcome = "allowed"
		UsageUnitsTotal.Inc()
	}
	QuotaDecisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordRotation records a rotation attempt outcome.
func RecordRotation(success bool) {
	if success {
		RotationsTotal.WithLabelValues("success").Inc()
		return
	}
	RotationsTotal.WithLabelValues("failure").Inc()
	ProviderErrorsTotal.Inc()
}

// RecordValidation records a validation outcome.
func RecordValidation(valid bool, reason string) {
	outcome := reason
	if valid {
		outcome = "valid"
	}
	ValidationsTotal.WithLabelValues(outcome).Inc()
}
