package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CreditsDebited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skillhub_credits_debited_total",
		Help: "Credits successfully debited from subscriptions.",
	})
	CreditsRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skillhub_credits_refunded_total",
		Help: "Credits refunded to subscriptions.",
	})
	InsufficientCredits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skillhub_insufficient_credits_total",
		Help: "Debit attempts rejected for insufficient balance.",
	})
	RequestsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skillhub_requests_created_total",
		Help: "Service requests created.",
	})
	RequestTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skillhub_request_transitions_total",
		Help: "Request status transitions by target status.",
	}, []string{"to"})
	NotificationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skillhub_notifications_created_total",
		Help: "Durable notification rows written.",
	})
	RealtimePushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skillhub_realtime_pushes_total",
		Help: "Live push attempts by outcome.",
	}, []string{"result"})
	CacheInvalidationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skillhub_cache_invalidation_errors_total",
		Help: "Cache invalidation calls that failed and were swallowed.",
	})
	SweepsRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skillhub_sweeps_total",
		Help: "Subscription expiry sweeps executed.",
	})
)

// Handler exposes the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
