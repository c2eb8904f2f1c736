package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/shifter/go/internal/shift/interval"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const commandTimeout = 5 * time.Second

// Source is the view of the interval served over HTTP
type Source interface {
	Role() interval.Role
	Snapshot() interval.Snapshot
	StartShiftInterval(ctx context.Context) error
	PauseShiftInterval(ctx context.Context) error
	ResetShiftInterval(ctx context.Context) error
}

// Check is an extra named health check
type Check struct {
	Name string
	Fn   func() error
}

type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Role    interval.Role `json:"role"`
	Errors  []string      `json:"errors"`
}

// Handler serves /health, /status, /metrics and the command endpoints
type Handler struct {
	source   Source
	gatherer prometheus.Gatherer
	checks   []Check
	mux      *http.ServeMux
}

// NewHandler builds the handler. A nil gatherer leaves /metrics unregistered.
func NewHandler(source Source, gatherer prometheus.Gatherer, checks ...Check) *Handler {
	h := &Handler{
		source:   source,
		gatherer: gatherer,
		checks:   checks,
		mux:      http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /status", h.handleStatus)
	h.mux.HandleFunc("POST /commands/{command}", h.handleCommand)
	if gatherer != nil {
		h.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Check runs every health check
func (h *Handler) Check() HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Role:    h.source.Role(),
		Errors:  []string{},
	}

	if status.Role == interval.RoleNone {
		status.Healthy = false
		status.Errors = append(status.Errors, "no role, failover in progress")
	}
	for _, c := range h.checks {
		if err := c.Fn(); err != nil {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("%s: %v", c.Name, err))
		}
	}
	return status
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.Check()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Snapshot())
}

func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	var fn func(context.Context) error
	command := r.PathValue("command")
	switch command {
	case "start":
		fn = h.source.StartShiftInterval
	case "pause":
		fn = h.source.PauseShiftInterval
	case "reset":
		fn = h.source.ResetShiftInterval
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown command " + command})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Str("command", command).Msg("command failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.source.Snapshot())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

// NewServer wraps handler with CORS and h2c the way the API servers do
func NewServer(addr string, handler http.Handler) *http.Server {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(c.Handler(handler), &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
