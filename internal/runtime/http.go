package runtime

import (
	"encoding/json"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/readaloud/internal/overlay"
	"github.com/loqalabs/readaloud/internal/presence"
	"github.com/loqalabs/readaloud/internal/protocol"
)

type statusResponse struct {
	protocol.ControlReply
	NodeID        string          `json:"node_id"`
	RunID         string          `json:"run_id"`
	ManualEnabled bool            `json:"manual_enabled"`
	CycleID       string          `json:"cycle_id,omitempty"`
	Words         int             `json:"words"`
	Outcomes      map[string]int  `json:"outcomes"`
	Nodes         []presence.Node `json:"nodes,omitempty"`
}

type historyEntry struct {
	CycleID   string          `json:"cycle_id"`
	Trigger   string          `json:"trigger"`
	Outcome   string          `json:"outcome"`
	Detail    json.RawMessage `json:"detail"`
	Timestamp time.Time       `json:"timestamp"`
}

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	mux.HandleFunc("GET /status", r.handleStatus)
	mux.HandleFunc("GET /history", r.handleHistory)
	mux.HandleFunc("GET /overlay.json", r.handleOverlayJSON)
	mux.HandleFunc("GET /overlay.png", r.handleOverlayPNG)
	mux.HandleFunc("POST /capture", r.handleControl("capture"))
	mux.HandleFunc("POST /toggle", r.handleControl("toggle"))
	mux.HandleFunc("POST /auto", r.handleAuto)
	mux.HandleFunc("POST /layout", r.handleLayout)
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) && (r.nats == nil || r.nats.Running()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStatus(w http.ResponseWriter, req *http.Request) {
	status, err := r.ctrl.Status(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	resp := statusResponse{
		ControlReply: protocol.ControlReply{
			OK:          true,
			State:       status.State.String(),
			AutoCapture: status.AutoCapture,
			Speaking:    status.Speaking,
			Cycles:      status.Cycles,
			LastOutcome: string(status.LastOutcome),
		},
		NodeID:        r.cfg.Node.ID,
		RunID:         r.runID,
		ManualEnabled: status.ManualEnabled,
		CycleID:       status.CycleID,
		Words:         r.words.Len(),
	}
	if r.presence != nil {
		resp.Nodes = r.presence.Nodes()
	}
	if resp.Outcomes, err = r.store.CountByOutcome(req.Context(), r.runID); err != nil {
		r.logger.Warn("failed to summarize journal", slog.String("error", err.Error()))
	}
	r.writeJSON(w, http.StatusOK, resp)
}

// handleHistory lists the journaled cycles of this run, oldest first.
func (r *Runtime) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit := 100
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	events, err := r.store.ListRunEvents(req.Context(), r.runID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	entries := make([]historyEntry, 0, len(events))
	for _, e := range events {
		entries = append(entries, historyEntry{
			CycleID:   e.CycleID,
			Trigger:   e.Trigger,
			Outcome:   e.Kind,
			Detail:    json.RawMessage(e.Payload),
			Timestamp: e.CreatedAt,
		})
	}
	r.writeJSON(w, http.StatusOK, entries)
}

func (r *Runtime) handleOverlayJSON(w http.ResponseWriter, _ *http.Request) {
	width, height := r.preprocessor.Target()
	r.writeJSON(w, http.StatusOK, overlay.ToPayload(r.cfg.Node.ID, r.overlay.Snapshot(), width, height))
}

func (r *Runtime) handleOverlayPNG(w http.ResponseWriter, _ *http.Request) {
	width, height := r.preprocessor.Target()
	if width <= 0 || height <= 0 {
		http.Error(w, "preview not laid out", http.StatusConflict)
		return
	}
	img := overlay.Render(r.overlay.Snapshot(), width, height)
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		r.logger.Warn("failed to encode overlay", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleControl(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.writeControl(w, control(req.Context(), r.ctrl, protocol.ControlRequest{Action: action}))
	}
}

func (r *Runtime) handleAuto(w http.ResponseWriter, req *http.Request) {
	enabled, err := strconv.ParseBool(req.URL.Query().Get("enabled"))
	if err != nil {
		http.Error(w, "enabled must be true or false", http.StatusBadRequest)
		return
	}
	r.writeControl(w, control(req.Context(), r.ctrl, protocol.ControlRequest{Action: "auto", Enabled: &enabled}))
}

// handleLayout records a new preview size, as a display does after layout.
func (r *Runtime) handleLayout(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	width, errW := strconv.Atoi(q.Get("width"))
	height, errH := strconv.Atoi(q.Get("height"))
	if errW != nil || errH != nil || width < 0 || height < 0 {
		http.Error(w, "width and height must be non-negative integers", http.StatusBadRequest)
		return
	}
	r.preprocessor.Resize(width, height)
	r.logger.Info("preview resized", slog.Int("width", width), slog.Int("height", height))
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) writeControl(w http.ResponseWriter, reply protocol.ControlReply) {
	code := http.StatusOK
	if !reply.OK {
		code = http.StatusBadRequest
	}
	r.writeJSON(w, code, reply)
}

func (r *Runtime) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		r.logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}
