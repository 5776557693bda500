package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tiancaiamao/procguard/pkg/admission"
)

// MetricsHandler provides HTTP endpoints exposing admission state.
type MetricsHandler struct {
	ctrl    *admission.Controller
	started time.Time
}

// NewMetricsHandler creates a new metrics HTTP handler.
func NewMetricsHandler(ctrl *admission.Controller) *MetricsHandler {
	return &MetricsHandler{ctrl: ctrl, started: time.Now()}
}

// RegisterRoutes registers endpoints with HTTP mux.
func (h *MetricsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/status/processes", h.handleProcesses)
	mux.HandleFunc("/metrics/health", h.handleHealth)

	// Prometheus-style metrics (text format)
	mux.HandleFunc("/metrics/prometheus", h.handlePrometheus)
}

// StatusResponse mirrors the socket protocol's status payload.
type StatusResponse struct {
	ActiveCount    int  `json:"active_count"`
	QueueDepth     int  `json:"queue_depth"`
	ShouldThrottle bool `json:"should_throttle"`
	Capacity       int  `json:"capacity"`
}

// ProcessInfo describes one admitted process.
type ProcessInfo struct {
	Pid        int32     `json:"pid"`
	Command    string    `json:"command"`
	Args       []string  `json:"args"`
	Started    time.Time `json:"started"`
	AgeSeconds float64   `json:"age_seconds"`
}

// handleStatus returns the current admission snapshot as JSON.
func (h *MetricsHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	snap := h.ctrl.Snapshot()
	resp := StatusResponse{
		ActiveCount:    snap.ActiveCount,
		QueueDepth:     snap.QueueDepth,
		ShouldThrottle: snap.ShouldThrottle,
		Capacity:       h.ctrl.Capacity(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleProcesses returns the admitted processes, oldest first.
func (h *MetricsHandler) handleProcesses(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	now := time.Now()
	records := h.ctrl.Records()
	procs := make([]ProcessInfo, 0, len(records))
	for _, rec := range records {
		procs = append(procs, ProcessInfo{
			Pid:        rec.Pid,
			Command:    rec.Command,
			Args:       rec.Args,
			Started:    rec.Started,
			AgeSeconds: rec.Age(now).Seconds(),
		})
	}
	if err := json.NewEncoder(w).Encode(procs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleHealth returns a basic liveness response.
func (h *MetricsHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := struct {
		Status string  `json:"status"`
		Uptime float64 `json:"uptimeSeconds"`
	}{
		Status: "ok",
		Uptime: time.Since(h.started).Seconds(),
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handlePrometheus returns gauges in Prometheus text format.
func (h *MetricsHandler) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	snap := h.ctrl.Snapshot()

	fmt.Fprintf(w, "# HELP procguard_uptime_seconds Daemon uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE procguard_uptime_seconds gauge\n")
	fmt.Fprintf(w, "procguard_uptime_seconds %.2f\n", time.Since(h.started).Seconds())

	fmt.Fprintf(w, "\n# HELP procguard_capacity Maximum concurrently admitted processes\n")
	fmt.Fprintf(w, "# TYPE procguard_capacity gauge\n")
	fmt.Fprintf(w, "procguard_capacity %d\n", h.ctrl.Capacity())

	fmt.Fprintf(w, "\n# HELP procguard_active_processes Currently admitted processes\n")
	fmt.Fprintf(w, "# TYPE procguard_active_processes gauge\n")
	fmt.Fprintf(w, "procguard_active_processes %d\n", snap.ActiveCount)

	fmt.Fprintf(w, "\n# HELP procguard_queue_depth Registrations waiting for a slot\n")
	fmt.Fprintf(w, "# TYPE procguard_queue_depth gauge\n")
	fmt.Fprintf(w, "procguard_queue_depth %d\n", snap.QueueDepth)

	fmt.Fprintf(w, "\n# HELP procguard_should_throttle Clients should throttle spawns (1/0)\n")
	fmt.Fprintf(w, "# TYPE procguard_should_throttle gauge\n")
	if snap.ShouldThrottle {
		fmt.Fprintf(w, "procguard_should_throttle 1\n")
	} else {
		fmt.Fprintf(w, "procguard_should_throttle 0\n")
	}
}
