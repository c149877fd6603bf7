package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-run/meridian/telemetry"
)

// httpServer builds the process's control surface: health/stats for
// operators and a minimal runtime-control surface (get config, live
// runtime state, emergency stop) backed directly by the bus manager and
// orchestrator rather than by a provider behind the registry — this
// endpoint set is how an operator controls the process itself, not
// traffic routed through a bus. Single-step, pause/resume, shutdown and
// adapter load/unload/list are not exposed.
func (a *app) httpServer(port int) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(telemetry.TracingMiddleware(a.cfg.Namespace))

	r.Get("/healthz", a.handleHealthz)
	r.Get("/telemetry/health", telemetry.HealthHandler)
	r.Get("/stats", a.handleStats)
	r.Get("/control/config", a.handleGetConfig)
	r.Get("/control/runtime-state", a.handleRuntimeState)
	r.Post("/control/emergency-stop", a.handleEmergencyStop)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealthz reports busmanager.HealthReport plus the orchestrator's
// emergency-stop flag, giving an operator one endpoint for the process's
// overall liveness.
func (a *app) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := a.busMgr.HealthCheck()
	healthy := true
	for _, ok := range report {
		if !ok {
			healthy = false
			break
		}
	}
	status := http.StatusOK
	if !healthy || a.orchestrator.EmergencyStopped() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"buses":             report,
		"emergency_stopped": a.orchestrator.EmergencyStopped(),
		"orchestrator_state": a.orchestrator.State(),
	})
}

// handleStats aggregates every typed bus's stats plus the LLM bus's
// per-provider metrics table (§4.5: "GetStats aggregates per-bus stats
// and the LLM bus's per-provider table").
func (a *app) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"buses": a.busMgr.GetStats(),
		"llm":   a.llmBus.Metrics(),
	})
}

// handleGetConfig returns the static startup configuration, with
// credentials redacted — this is the "get config" runtime-control
// operation named in §6.
func (a *app) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	redacted := *a.cfg
	redacted.SlackBotToken = ""
	redacted.RedisURL = ""
	redacted.PostgresURL = ""
	writeJSON(w, http.StatusOK, redacted)
}

// handleRuntimeState exposes the live adaptation-proposal-mutated
// configuration surface (§4.9/§4.10's applied proposals), distinct from
// the static config returned by handleGetConfig.
func (a *app) handleRuntimeState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.runtime.Snapshot())
}

// handleEmergencyStop lets an operator engage the sticky emergency stop
// out of band, e.g. in response to an external incident the variance
// monitor itself hasn't yet detected.
func (a *app) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	a.orchestrator.EmergencyStop("operator requested emergency stop via control API")
	writeJSON(w, http.StatusOK, map[string]interface{}{"emergency_stopped": true})
}
