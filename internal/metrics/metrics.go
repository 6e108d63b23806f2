package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slashpost_actions_total",
		Help: "Mutating actions by kind and outcome.",
	}, []string{"action", "outcome"})

	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slashpost_rate_limited_total",
		Help: "Actions denied by the per-agent rate limiter.",
	}, []string{"action"})
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

func Action(action, outcome string) {
	actionsTotal.WithLabelValues(action, outcome).Inc()
}

func RateLimited(action string) {
	rateLimitedTotal.WithLabelValues(action).Inc()
}

// Handler serves the prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
