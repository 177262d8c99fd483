package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/vantage/internal/batch"
	"github.com/aristath/vantage/internal/events"
)

// BatchHandlers serves the batch trigger, poll, and stream endpoints.
type BatchHandlers struct {
	orchestrator *batch.Orchestrator
	tracker      *batch.Tracker
	events       *events.Manager
	log          zerolog.Logger
}

// NewBatchHandlers creates the batch handlers.
func NewBatchHandlers(orchestrator *batch.Orchestrator, tracker *batch.Tracker, eventManager *events.Manager, log zerolog.Logger) *BatchHandlers {
	return &BatchHandlers{
		orchestrator: orchestrator,
		tracker:      tracker,
		events:       eventManager,
		log:          log.With().Str("handler", "batch").Logger(),
	}
}

// RegisterRoutes registers the batch routes.
func (h *BatchHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/batch", func(r chi.Router) {
		r.Post("/run", h.HandleTriggerRun)
		r.Get("/run/current", h.HandleCurrentRun)
		r.Get("/run/stream", h.HandleStream)
	})
}

type triggerRequest struct {
	PortfolioID string `json:"portfolio_id"`
	Date        string `json:"date"`
	Force       bool   `json:"force"`
}

// HandleTriggerRun starts a batch run.
// POST /api/batch/run
func (h *BatchHandlers) HandleTriggerRun(w http.ResponseWriter, r *http.Request) {
	// An empty body means "run everything with defaults".
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, h.log, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	run, err := h.orchestrator.Run(r.Context(), batch.RunOptions{
		TriggeredBy: "api",
		PortfolioID: req.PortfolioID,
		Date:        req.Date,
		Force:       req.Force,
	})
	if errors.Is(err, batch.ErrRunActive) {
		activeID, _ := h.tracker.ActiveRunID()
		writeJSON(w, h.log, http.StatusConflict, map[string]interface{}{
			"status":        "conflict",
			"run_id":        nil,
			"active_run_id": activeID,
		})
		return
	}
	if err != nil {
		writeJSON(w, h.log, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, h.log, http.StatusAccepted, map[string]interface{}{
		"status":        "started",
		"run_id":        run.RunID,
		"poll_endpoint": "/api/batch/run/current",
	})
}

// HandleCurrentRun reports the tracked run's progress.
// GET /api/batch/run/current
func (h *BatchHandlers) HandleCurrentRun(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.tracker.Snapshot()
	if !ok {
		writeJSON(w, h.log, http.StatusOK, map[string]string{"status": "idle"})
		return
	}
	writeJSON(w, h.log, http.StatusOK, snapshot)
}

// HandleStream pushes run events and tracker snapshots over a websocket.
// GET /api/batch/run/stream
func (h *BatchHandlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ch, cancel := h.events.Subscribe()
	defer cancel()

	ctx := r.Context()

	if snapshot, ok := h.tracker.Snapshot(); ok {
		if err := wsjson.Write(ctx, conn, streamMessage("snapshot", snapshot)); err != nil {
			return
		}
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, conn, streamMessage("event", event)); err != nil {
				return
			}
		case <-ticker.C:
			snapshot, ok := h.tracker.Snapshot()
			if !ok {
				continue
			}
			if err := wsjson.Write(ctx, conn, streamMessage("snapshot", snapshot)); err != nil {
				return
			}
		}
	}
}

func streamMessage(kind string, data interface{}) map[string]interface{} {
	return map[string]interface{}{"type": kind, "data": data}
}
