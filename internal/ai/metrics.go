package ai

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fable_provider_requests_total",
			Help: "Total number of requests to text providers.",
		},
		[]string{"provider", "model", "status"},
	)
	providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fable_provider_request_duration_seconds",
			Help:    "Histogram of text provider request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)
	providerPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fable_provider_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20),
		},
		[]string{"provider", "model"},
	)
	providerCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fable_provider_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20),
		},
		[]string{"provider", "model"},
	)
	providerEstimatedCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fable_provider_estimated_cost_usd_total",
			Help: "Estimated total cost of text provider requests in USD.",
		},
		[]string{"provider", "model"},
	)
)

func recordRequest(provider, model, status string, duration time.Duration) {
	providerRequestsTotal.With(prometheus.Labels{"provider": provider, "model": model, "status": status}).Inc()
	providerRequestDuration.With(prometheus.Labels{"provider": provider, "model": model}).Observe(duration.Seconds())
}

func recordUsage(provider, model string, usage UsageInfo) {
	if usage.TotalTokens == 0 {
		return
	}
	providerPromptTokens.With(prometheus.Labels{"provider": provider, "model": model}).Observe(float64(usage.PromptTokens))
	providerCompletionTokens.With(prometheus.Labels{"provider": provider, "model": model}).Observe(float64(usage.CompletionTokens))
	if usage.EstimatedCostUSD > 0 {
		providerEstimatedCostUSD.With(prometheus.Labels{"provider": provider, "model": model}).Add(usage.EstimatedCostUSD)
	}
}
