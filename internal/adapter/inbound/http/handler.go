// Package http exposes the gateway's HTTP surface: the authorize
// endpoint, approval polling and actions, rule/lease CRUD, health, and
// metrics (spec §6).
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tollgate/tollgate/internal/domain/approval"
	"github.com/tollgate/tollgate/internal/domain/authz"
	"github.com/tollgate/tollgate/internal/service"
)

// Handler serves the gateway's HTTP API.
type Handler struct {
	authorize     *service.AuthorizeService
	approvals     *approval.Manager
	approvalSvc   *service.ApprovalService
	rules         authz.Store
	evaluator     *authz.Evaluator
	logger        *slog.Logger
	validate      *validator.Validate
	metrics       *metricsCollector
	buildVer      string
	startedAt     time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithBuildVersion sets the version string reported on /healthz.
func WithBuildVersion(v string) Option {
	return func(h *Handler) { h.buildVer = v }
}

// NewHandler builds a Handler from its collaborators.
func NewHandler(authorizeSvc *service.AuthorizeService, approvals *approval.Manager, approvalSvc *service.ApprovalService, rules authz.Store, evaluator *authz.Evaluator, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		authorize:   authorizeSvc,
		approvals:   approvals,
		approvalSvc: approvalSvc,
		rules:       rules,
		evaluator:   evaluator,
		logger:      logger,
		validate:    validator.New(),
		metrics:     newMetricsCollector(),
		startedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the top-level http.Handler, mirroring the teacher's
// method+path ServeMux registration style.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /authorize", h.handleAuthorize)
	mux.HandleFunc("GET /approval-status", h.handleApprovalStatus)
	mux.HandleFunc("POST /approve", h.handleApprove)
	mux.HandleFunc("POST /deny", h.handleDeny)

	mux.HandleFunc("POST /rules", h.handleCreateRule)
	mux.HandleFunc("DELETE /rules/{id}", h.handleDeleteRule)
	mux.HandleFunc("POST /leases", h.handleCreateLease)
	mux.HandleFunc("DELETE /leases/{id}", h.handleDeleteLease)

	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.metrics.registry, promhttp.HandlerOpts{}))

	return h.metrics.instrument(mux)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) readJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return h.validate.Struct(v)
}

func (h *Handler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// metricsCollector wraps a prometheus.Registry with the handful of
// gauges/counters/histograms the authorize path exercises, grounded on
// the teacher's practice of registering its own collectors rather than
// relying solely on the default global registry.
type metricsCollector struct {
	registry      *prometheus.Registry
	requestsTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

func newMetricsCollector() *metricsCollector {
	reg := prometheus.NewRegistry()
	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tollgate",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed by path and status class.",
	}, []string{"path", "status_class"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tollgate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path"})
	reg.MustRegister(requestsTotal, duration)
	return &metricsCollector{registry: reg, requestsTotal: requestsTotal, duration: duration}
}

// instrument wraps next with request counting and latency observation.
func (m *metricsCollector) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.duration.WithLabelValues(r.URL.Path).Observe(time.Since(start).Seconds())
		m.requestsTotal.WithLabelValues(r.URL.Path, statusClass(rw.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"version":   h.buildVer,
		"uptime_s":  int(time.Since(h.startedAt).Seconds()),
	})
}
