package mediator

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sentinel-mediator/sentinel/internal/config"
	"github.com/sentinel-mediator/sentinel/internal/security"
	"github.com/sentinel-mediator/sentinel/internal/signer"
)

// metrics are the Prometheus collectors exposed on /metrics: decision
// counters broken out by code, a per-taint gauge (registered, but never set
// by this mediator), and an evaluation-latency histogram.
type metrics struct {
	decisions prometheus.CounterVec
	taints    prometheus.GaugeVec
	latency   prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		decisions: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_decisions_total",
			Help: "Security decisions made, by outcome code.",
		}, []string{"code"}),
		taints: *prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentinel_active_taints",
			Help: "Sessions currently holding each taint tag.",
		}, []string{"tag"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_evaluation_seconds",
			Help:    "Time to evaluate one security event.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(&m.decisions, &m.taints, m.latency)
	return m
}

// HealthChecker is satisfied by anything the /health route should probe for
// reachability (store.RedisSessionStore.Ping et al).
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HTTPMediator is the network-facing transport shape: one Core per inbound
// session, addressed by the session_id field of the request body, fronting an
// upstream MCP server reachable over HTTP rather than a spawned process.
type HTTPMediator struct {
	cfg     config.HTTPConfig
	signer  *signer.Signer
	logger  *zap.Logger
	metrics *metrics
	health  HealthChecker

	newCore func() *security.Core

	mu    sync.Mutex
	cores map[string]*security.Core
}

// NewHTTPMediator builds the chi router. newCore mints a fresh security.Core
// (with its policy already bound) for a session id the mediator hasn't seen
// before.
func NewHTTPMediator(cfg config.HTTPConfig, sgn *signer.Signer, logger *zap.Logger, health HealthChecker, newCore func() *security.Core) *HTTPMediator {
	return &HTTPMediator{
		cfg:     cfg,
		signer:  sgn,
		logger:  logger,
		metrics: newMetrics(prometheus.DefaultRegisterer),
		health:  health,
		newCore: newCore,
		cores:   make(map[string]*security.Core),
	}
}

// Router builds the chi.Router serving /v1/proxy-execute, /health and
// /metrics.
func (m *HTTPMediator) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if m.cfg.APIKey != "" {
		r.Use(m.requireAPIKey)
	}

	r.Post("/v1/proxy-execute", m.handleProxyExecute)
	r.Get("/health", m.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (m *HTTPMediator) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != m.cfg.APIKey {
			http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type proxyExecuteRequest struct {
	SessionID string         `json:"session_id,omitempty"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

type proxyExecuteResponse struct {
	SessionID string `json:"session_id"`
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Token     string `json:"token,omitempty"`
}

// handleProxyExecute evaluates a tool call against the session's bound
// policy and, if allowed, mints the short-lived bearer token the caller must
// present to the real upstream for this exact (tool, arguments) pair.
func (m *HTTPMediator) handleProxyExecute(w http.ResponseWriter, r *http.Request) {
	var req proxyExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"malformed request body"}`, http.StatusBadRequest)
		return
	}

	core := m.coreFor(req.SessionID)

	start := time.Now()
	decision := core.Evaluate(security.Event{
		Kind:         security.EventToolRequest,
		SessionToken: req.SessionID,
		ToolName:     req.Tool,
		ToolArgs:     req.Arguments,
	})
	m.metrics.latency.Observe(time.Since(start).Seconds())
	m.metrics.decisions.WithLabelValues(string(decision.Code)).Inc()

	resp := proxyExecuteResponse{SessionID: core.SessionID(), Allowed: decision.Code == security.CodeAllow, Reason: decision.Reason}

	if resp.Allowed {
		token, err := m.signer.MintToken(core.SessionID(), req.Tool, req.Arguments)
		if err != nil {
			m.logger.Error("failed to mint bearer token", zap.Error(err))
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		resp.Token = token
	}

	status := http.StatusOK
	switch decision.Code {
	case security.CodeAuth:
		status = http.StatusUnauthorized
	case security.CodeSecurityBlock:
		status = http.StatusForbidden
	case security.CodeInternal:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// coreFor returns the Core bound to sessionID, minting a new session (and a
// new Core) if the caller omitted one or it isn't yet tracked.
func (m *HTTPMediator) coreFor(sessionID string) *security.Core {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID != "" {
		if c, ok := m.cores[sessionID]; ok {
			return c
		}
	}
	c := m.newCore()
	m.cores[c.SessionID()] = c
	return c
}

// handleHealth probes the backing store, if one is configured, under the
// configured health-check timeout, per spec.md's 2s health budget.
func (m *HTTPMediator) handleHealth(w http.ResponseWriter, r *http.Request) {
	if m.health == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), m.cfg.HealthTimeout.Duration)
	defer cancel()

	if err := m.health.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
