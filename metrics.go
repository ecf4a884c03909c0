package sessionkit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments of the service. All counters are
// cheap enough to keep always-on.
type Metrics struct {
	SessionsCreated  *prometheus.CounterVec
	SignInFailures   *prometheus.CounterVec
	RefreshRotations prometheus.Counter
	RefreshFailures  prometheus.Counter
	TheftEvents      prometheus.Counter
	VerifyFailures   prometheus.Counter
}

// NewMetrics registers the instrument set on reg. Pass
// prometheus.DefaultRegisterer for the usual /metrics exposure, or a fresh
// registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkit",
			Name:      "sessions_created_total",
			Help:      "Sessions created, by identity strategy.",
		}, []string{"strategy"}),
		SignInFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkit",
			Name:      "signin_failures_total",
			Help:      "Rejected sign-in attempts, by identity strategy.",
		}, []string{"strategy"}),
		RefreshRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionkit",
			Name:      "refresh_rotations_total",
			Help:      "Successful refresh-token rotations.",
		}),
		RefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionkit",
			Name:      "refresh_failures_total",
			Help:      "Refresh attempts rejected as invalid.",
		}),
		TheftEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionkit",
			Name:      "token_theft_events_total",
			Help:      "Refresh-token replays that triggered family revocation.",
		}),
		VerifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionkit",
			Name:      "access_verify_failures_total",
			Help:      "Access tokens rejected by verification.",
		}),
	}

	reg.MustRegister(
		m.SessionsCreated,
		m.SignInFailures,
		m.RefreshRotations,
		m.RefreshFailures,
		m.TheftEvents,
		m.VerifyFailures,
	)
	return m
}
