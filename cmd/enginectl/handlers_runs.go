package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/coreagent/enginectl/pkg/models"
	"github.com/google/uuid"
)

type startRunRequest struct {
	Message string `json:"message"`
}

// handleStartRun starts a new run for a thread and streams its events
// back as SSE (spec §6.1 "POST /api/threads/{id}/runs"). Prior turns
// are reconstructed from durable storage so the model sees the whole
// conversation, not just this message.
func (a *app) handleStartRun(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	history, err := a.threadHistory(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("reconstruct history: %w", err))
		return
	}

	runID := uuid.NewString()
	events, err := a.sched.RunWithHistory(r.Context(), threadID, runID, req.Message, history)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	a.noteRun(threadID, runID)

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	for event := range events {
		if err := a.store.AppendRunEvent(r.Context(), threadID, event); err != nil {
			return
		}
		if err := sse.send(event); err != nil {
			return
		}
	}
}

func (a *app) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	ok := a.sched.Cancel(threadID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no active run for thread %s", threadID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleStreamRun replays a thread's current run from a given sequence
// number, for clients reconnecting after a dropped SSE connection
// (spec §6.1 "GET .../runs/stream?after=<seq>").
func (a *app) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	runID, ok := a.currentRun(threadID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no run recorded for thread %s", threadID))
		return
	}

	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid after: %w", err))
			return
		}
		after = parsed
	}

	events, err := a.store.ListRunEventsAfter(r.Context(), runID, after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for _, event := range events {
		if err := sse.send(event); err != nil {
			return
		}
	}
}

type steerRequest struct {
	Message string `json:"message"`
}

func (a *app) handleSteer(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	var req steerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	seq := a.queues.Enqueue(threadID, req.Message, nil)
	writeJSON(w, http.StatusAccepted, map[string]uint64{"seq": seq})
}

type queueModeRequest struct {
	Mode string `json:"mode"`
}

func (a *app) handleSetQueueMode(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	var req queueModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	mode := models.QueueMode(req.Mode)
	switch mode {
	case models.QueueModeSteer, models.QueueModeFollowup, models.QueueModeCollect, models.QueueModeSteerBacklog, models.QueueModeInterrupt:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown queue mode %q", req.Mode))
		return
	}
	a.queues.ForThread(threadID).SetMode(mode)
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(mode)})
}
