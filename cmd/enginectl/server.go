package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newMux builds the HTTP handler tree for spec.md §6.1's API surface,
// following the teacher's own gateway http_server.go idiom: one
// *http.ServeMux, method+path patterns, JSON in and out except for the
// SSE run stream.
func (a *app) newMux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/threads", a.handleListThreads)
	mux.HandleFunc("POST /api/threads", a.handleCreateThread)
	mux.HandleFunc("GET /api/threads/{id}", a.handleGetThread)
	mux.HandleFunc("DELETE /api/threads/{id}", a.handleDeleteThread)

	mux.HandleFunc("POST /api/threads/{id}/runs", a.handleStartRun)
	mux.HandleFunc("POST /api/threads/{id}/runs/cancel", a.handleCancelRun)
	mux.HandleFunc("GET /api/threads/{id}/runs/stream", a.handleStreamRun)

	mux.HandleFunc("POST /api/threads/{id}/steer", a.handleSteer)
	mux.HandleFunc("POST /api/threads/{id}/queue-mode", a.handleSetQueueMode)

	mux.HandleFunc("POST /api/threads/{id}/sandbox/pause", a.handleSandboxPause)
	mux.HandleFunc("POST /api/threads/{id}/sandbox/resume", a.handleSandboxResume)
	mux.HandleFunc("DELETE /api/threads/{id}/sandbox", a.handleSandboxDestroy)

	mux.HandleFunc("GET /api/threads/{id}/session", a.handleGetSession)
	mux.HandleFunc("GET /api/threads/{id}/terminal", a.handleGetTerminal)
	mux.HandleFunc("GET /api/threads/{id}/lease", a.handleGetLease)
	mux.HandleFunc("GET /api/threads/{id}/runtime", a.handleGetRuntime)

	mux.HandleFunc("GET /api/sandbox/types", a.handleSandboxTypes)

	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func (a *app) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
