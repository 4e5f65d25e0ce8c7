// Package metrics is the Metrics Sink: monotonic counters for prompt,
// completion, and total tokens, broken down by model and by (user, model),
// exposed in Prometheus text format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink records token usage as Prometheus counters. A Sink is safe for
// concurrent use from multiple pipeline goroutines without any
// gateway-side locking — CounterVec shards its label-set internally.
type Sink struct {
	promptTokens      prometheus.Counter
	completionTokens  prometheus.Counter
	totalTokens       prometheus.Counter
	tokensByModel     *prometheus.CounterVec
	tokensByUserModel *prometheus.CounterVec
}

// New registers and returns a Sink against the given registerer. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test runs.
func New(reg prometheus.Registerer) *Sink {
	factory := promauto.With(reg)

	return &Sink{
		promptTokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "prompt_tokens_total",
			Help: "Total prompt tokens accounted across all requests.",
		}),
		completionTokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "completion_tokens_total",
			Help: "Total completion tokens accounted across all requests.",
		}),
		totalTokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "tokens_total",
			Help: "Total tokens (prompt + completion) accounted across all requests.",
		}),
		tokensByModel: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokens_by_model",
			Help: "Tokens accounted per model, broken down by prompt/completion.",
		}, []string{"model", "type"}),
		tokensByUserModel: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokens_by_user_model",
			Help: "Tokens accounted per (user, model), broken down by prompt/completion.",
		}, []string{"user", "model", "type"}),
	}
}

// Record increments every series for one finalized request. user may be
// empty when the configured user header was absent from the request; the
// per-user series is simply labeled with the empty string in that case.
func (s *Sink) Record(user, model string, promptTokens, completionTokens uint64) {
	s.promptTokens.Add(float64(promptTokens))
	s.completionTokens.Add(float64(completionTokens))
	s.totalTokens.Add(float64(promptTokens + completionTokens))

	s.tokensByModel.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	s.tokensByModel.WithLabelValues(model, "completion").Add(float64(completionTokens))

	s.tokensByUserModel.WithLabelValues(user, model, "prompt").Add(float64(promptTokens))
	s.tokensByUserModel.WithLabelValues(user, model, "completion").Add(float64(completionTokens))
}

// Handler serves the registry's series in Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
