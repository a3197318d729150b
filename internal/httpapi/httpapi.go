// Package httpapi is the small operational control surface a long-running
// pearsgambitd host/guest daemon exposes alongside its peer-to-peer
// listener: liveness/readiness/metrics for process supervisors, plus a
// pair of admin-token-gated operations for forcing a snapshot and
// adjusting the reconnect policy at runtime. It is adapted from the
// teacher's HandlerSet (internal/http/handlers.go), trimmed to the
// narrower set of signals a single game daemon has to report.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/logging"
)

// ReadinessProvider exposes daemon state required for readiness checks.
type ReadinessProvider interface {
	SessionState() string
	ConnectedPeers() int
	StartupError() error
	Uptime() time.Duration
}

// StatsFunc returns the cumulative move count and the current spectator
// count.
type StatsFunc func() (moves, spectators int)

// EngineStatus reports the analyzer subprocess's liveness and last-seen
// search progress for the metrics endpoint.
type EngineStatus interface {
	Alive() bool
	LastInfoDepth() int
}

// Snapshotter triggers an out-of-band persistence write, bypassing the
// session's normal on-event save.
type Snapshotter interface {
	ForceSnapshot(ctx context.Context) error
}

// ReconnectPolicy exposes the session's reconnect backoff for inspection
// and runtime adjustment.
type ReconnectPolicy interface {
	ReconnectPolicy() (maxAttempts int, baseDelayMs int)
	SetReconnectPolicy(maxAttempts int, baseDelayMs int) error
}

// RateLimiter gates how frequently sensitive admin operations may run.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Stats       StatsFunc
	Engine      EngineStatus
	Snapshotter Snapshotter
	Reconnect   ReconnectPolicy
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the daemon's operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	stats       StatsFunc
	engine      EngineStatus
	snapshotter Snapshotter
	reconnect   ReconnectPolicy
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		stats:       opts.Stats,
		engine:      opts.Engine,
		snapshotter: opts.Snapshotter,
		reconnect:   opts.Reconnect,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	if h.snapshotter != nil {
		mux.HandleFunc("/admin/snapshot", h.ForceSnapshotHandler())
	}
	if h.reconnect != nil {
		mux.HandleFunc("/admin/reconnect-policy", h.ReconnectPolicyHandler())
	}
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports daemon readiness, including the session state
// and connected peer count.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		SessionState  string  `json:"session_state,omitempty"`
		Peers         int     `json:"peers"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			resp.SessionState = h.readiness.SessionState()
			resp.Peers = h.readiness.ConnectedPeers()
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus-compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		if h.readiness != nil {
			fmt.Fprintf(w, "# HELP pearsgambit_uptime_seconds Daemon uptime in seconds.\n")
			fmt.Fprintf(w, "# TYPE pearsgambit_uptime_seconds gauge\n")
			fmt.Fprintf(w, "pearsgambit_uptime_seconds %.0f\n", h.readiness.Uptime().Seconds())

			fmt.Fprintf(w, "# HELP pearsgambit_connected_peers Currently connected swarm peers.\n")
			fmt.Fprintf(w, "# TYPE pearsgambit_connected_peers gauge\n")
			fmt.Fprintf(w, "pearsgambit_connected_peers %d\n", h.readiness.ConnectedPeers())
		}
		if h.stats != nil {
			moves, spectators := h.stats()
			fmt.Fprintf(w, "# HELP pearsgambit_moves_total Moves applied to the replicated log.\n")
			fmt.Fprintf(w, "# TYPE pearsgambit_moves_total counter\n")
			fmt.Fprintf(w, "pearsgambit_moves_total %d\n", moves)

			fmt.Fprintf(w, "# HELP pearsgambit_spectators Currently synced spectators.\n")
			fmt.Fprintf(w, "# TYPE pearsgambit_spectators gauge\n")
			fmt.Fprintf(w, "pearsgambit_spectators %d\n", spectators)
		}
		if h.engine != nil {
			alive := 0
			if h.engine.Alive() {
				alive = 1
			}
			fmt.Fprintf(w, "# HELP pearsgambit_engine_alive Whether the analyzer subprocess is running.\n")
			fmt.Fprintf(w, "# TYPE pearsgambit_engine_alive gauge\n")
			fmt.Fprintf(w, "pearsgambit_engine_alive %d\n", alive)

			fmt.Fprintf(w, "# HELP pearsgambit_engine_last_info_depth Search depth of the last reported info frame.\n")
			fmt.Fprintf(w, "# TYPE pearsgambit_engine_last_info_depth gauge\n")
			fmt.Fprintf(w, "pearsgambit_engine_last_info_depth %d\n", h.engine.LastInfoDepth())
		}
	}
}

// ForceSnapshotHandler authorizes and triggers an out-of-band persistence write.
func (h *HandlerSet) ForceSnapshotHandler() http.HandlerFunc {
	type response struct {
		Status string `json:"status"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "force_snapshot"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		//1.- Reject the wrong method before touching auth state at all.
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		//2.- No admin token configured means this operation is unreachable,
		// not silently open.
		if h.adminToken == "" {
			reqLogger.Warn("force snapshot denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		//3.- Constant-time bearer token check.
		if !h.authorize(r) {
			reqLogger.Warn("force snapshot denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		//4.- Rate limit only after auth succeeds, so unauthorized callers
		// never burn a token off the legitimate caller's budget.
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("force snapshot denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if err := h.snapshotter.ForceSnapshot(r.Context()); err != nil {
			reqLogger.Error("force snapshot failed", logging.Error(err))
			http.Error(w, "failed to force snapshot", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("snapshot forced")
		writeJSON(w, http.StatusAccepted, response{Status: "accepted"})
	}
}

// ReconnectPolicyHandler authorizes and applies runtime reconnect-policy
// adjustments: GET reports the current policy, POST applies overrides.
func (h *HandlerSet) ReconnectPolicyHandler() http.HandlerFunc {
	type request struct {
		MaxAttempts *int `json:"max_attempts"`
		BaseDelayMs *int `json:"base_delay_ms"`
	}
	type response struct {
		Status      string `json:"status"`
		MaxAttempts int    `json:"max_attempts"`
		BaseDelayMs int    `json:"base_delay_ms"`
		Message     string `json:"message,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		logger := h.logger.With(
			logging.String("handler", "reconnect_policy"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method == http.MethodGet {
			attempts, delay := h.reconnect.ReconnectPolicy()
			writeJSON(w, http.StatusOK, response{Status: "ok", MaxAttempts: attempts, BaseDelayMs: delay})
			return
		}
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			logger.Warn("reconnect policy change denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorize(r) {
			logger.Warn("reconnect policy change denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Warn("reconnect policy change denied: invalid payload", logging.Error(err))
			http.Error(w, "invalid request payload", http.StatusBadRequest)
			return
		}
		attempts, delay := h.reconnect.ReconnectPolicy()
		if req.MaxAttempts != nil {
			attempts = *req.MaxAttempts
		}
		if req.BaseDelayMs != nil {
			delay = *req.BaseDelayMs
		}
		if err := h.reconnect.SetReconnectPolicy(attempts, delay); err != nil {
			logger.Warn("reconnect policy change denied: invalid configuration", logging.Error(err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Info("reconnect policy adjusted", logging.Int("max_attempts", attempts), logging.Int("base_delay_ms", delay))
		writeJSON(w, http.StatusOK, response{Status: "ok", MaxAttempts: attempts, BaseDelayMs: delay})
	}
}

func (h *HandlerSet) authorize(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
