package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Roster metrics
	rosterSnapshotsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roster_snapshots_applied_total",
			Help: "Remote roster snapshots written into the local list",
		},
	)

	rosterResubscribes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roster_resubscribes_total",
			Help: "Roster subscription attempts after a dropped stream",
		},
	)

	rosterSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roster_records",
			Help: "Records in the last applied roster snapshot",
		},
	)

	reorderCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roster_reorder_commits_total",
			Help: "Reorder batch commits by result",
		},
		[]string{"result"},
	)

	rosterMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roster_mutations_total",
			Help: "Roster member mutations by operation and result",
		},
		[]string{"op", "result"},
	)

	// Audit metrics
	auditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries written",
		},
	)

	auditFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_failures_total",
			Help: "Audit writes that failed and were discarded",
		},
	)

	// Session / authorization metrics
	authorizationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorization_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"action", "decision"},
	)

	sessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_transitions_total",
			Help: "Session state transitions by resulting state",
		},
		[]string{"state"},
	)

	// Database metrics
	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE handlers working behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routePattern labels requests by their chi route template so member ids do
// not blow up label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.Join(rctx.RoutePatterns, ""); pattern != "" {
			return strings.ReplaceAll(pattern, "/*/", "/")
		}
	}
	if len(r.URL.Path) > 100 {
		return "/api/..."
	}
	return r.URL.Path
}

// --- Business metric helpers ---

// RecordSnapshotApplied records a remote snapshot replacing the local list.
func RecordSnapshotApplied(records int) {
	rosterSnapshotsApplied.Inc()
	rosterSize.Set(float64(records))
}

// RecordResubscribe records an attempt to re-establish the roster stream.
func RecordResubscribe() {
	rosterResubscribes.Inc()
}

// RecordReorderCommit records the outcome of a reorder batch.
func RecordReorderCommit(ok bool) {
	reorderCommits.WithLabelValues(result(ok)).Inc()
}

// RecordRosterMutation records an add, update or delete.
func RecordRosterMutation(op string, ok bool) {
	rosterMutations.WithLabelValues(op, result(ok)).Inc()
}

// RecordAuditEntry records an audit entry creation
func RecordAuditEntry() {
	auditEntriesTotal.Inc()
}

// RecordAuditFailure records a swallowed audit write failure.
func RecordAuditFailure() {
	auditFailuresTotal.Inc()
}

// RecordAuthorizationDecision records an authorization decision
func RecordAuthorizationDecision(action string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	authorizationDecisions.WithLabelValues(action, decision).Inc()
}

// RecordSessionTransition records the session entering state.
func RecordSessionTransition(state string) {
	sessionTransitions.WithLabelValues(state).Inc()
}

// RecordDBConnections records active database connections
func RecordDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
