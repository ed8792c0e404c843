package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "datamarket"

// Recorder groups the engine's counters and histograms.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	settlements    *prometheus.CounterVec
	anchored       *prometheus.CounterVec
	ledgerRequests *prometheus.HistogramVec
	integrity      *prometheus.CounterVec
	ratings        *prometheus.CounterVec
	httpRequests   *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "transitions_total",
			Help:      "Transactions leaving Pending, by resulting status and reason.",
		}, []string{"status", "reason"}),
		anchored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "checksum_anchored_total",
			Help:      "Settled transactions by whether ledger metadata carried the dataset checksum.",
		}, []string{"anchored"}),
		ledgerRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "request_duration_seconds",
			Help:      "Ledger API latency by endpoint and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "outcome"}),
		integrity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "checks_total",
			Help:      "File integrity checks against the ledger by outcome.",
		}, []string{"outcome"}),
		ratings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rating",
			Name:      "events_total",
			Help:      "Rating submissions and ledger cross-checks by outcome.",
		}, []string{"event", "outcome"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}

	reg.MustRegister(r.settlements, r.anchored, r.ledgerRequests, r.integrity, r.ratings, r.httpRequests)
	return r
}

// Settlement counts a Pending transaction reaching status.
func (r *Recorder) Settlement(status, reason string) {
	if r == nil {
		return
	}
	r.settlements.WithLabelValues(status, reason).Inc()
}

// ChecksumAnchored records settlement evidence: "true", "false" or "unknown"
// when metadata could not be fetched.
func (r *Recorder) ChecksumAnchored(outcome string) {
	if r == nil {
		return
	}
	r.anchored.WithLabelValues(outcome).Inc()
}

// LedgerRequest observes one ledger API call.
func (r *Recorder) LedgerRequest(endpoint string, err error, took time.Duration) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.ledgerRequests.WithLabelValues(endpoint, outcome).Observe(took.Seconds())
}

func (r *Recorder) IntegrityCheck(outcome string) {
	if r == nil {
		return
	}
	r.integrity.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Rating(event, outcome string) {
	if r == nil {
		return
	}
	r.ratings.WithLabelValues(event, outcome).Inc()
}

func (r *Recorder) HTTPRequest(method, route string, code int, took time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Observe(took.Seconds())
}
