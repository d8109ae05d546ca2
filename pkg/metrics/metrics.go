package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docedit", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docedit", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	DocumentOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docedit", Name: "document_operations_total", Help: "Document store operations by operation and result."},
		[]string{"op", "result"},
	)
	AutosaveAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docedit", Name: "autosave_attempts_total", Help: "Save attempts issued by the autosave scheduler by result."},
		[]string{"result"},
	)
	RewriteRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docedit", Name: "rewrite_requests_total", Help: "Rewrite assist requests by result."},
		[]string{"result"},
	)
	SearchIndexOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docedit", Name: "search_index_operations_total", Help: "Search index writes by operation and result."},
		[]string{"op", "result"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(DocumentOps)
	reg.MustRegister(AutosaveAttempts)
	reg.MustRegister(RewriteRequests)
	reg.MustRegister(SearchIndexOps)
}

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
