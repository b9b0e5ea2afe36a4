package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// Registrations counts registration attempts by Outcome.
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_registrations_total",
			Help: "Total number of registration attempts",
		},
		[]string{"result"},
	)

	// Verifications counts email verification attempts by Outcome.
	Verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_verifications_total",
			Help: "Total number of email verification attempts",
		},
		[]string{"result"},
	)

	// Logins counts login attempts by Outcome.
	Logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"},
	)

	// MailDeliveries counts individual delivery attempts (success|failure).
	MailDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_mail_deliveries_total",
			Help: "Total number of verification mail delivery attempts",
		},
		[]string{"result"},
	)

	// RequestDuration measures HTTP request latencies.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Outcome labels a finished operation: "success" for nil, otherwise the
// error kind (validation, conflict, delivery, ...).
func Outcome(err error) string {
	if err == nil {
		return ResultSuccess
	}
	return apperr.KindOf(err).String()
}
