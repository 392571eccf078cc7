package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/okulov/sensorfleet/internal/control"
	"github.com/okulov/sensorfleet/internal/fleet"
)

// Handler exposes the fleet lifecycle over HTTP. Control is fleet-wide:
// pause, resume and stop act on every producer at once.
type Handler struct {
	orch            *fleet.Orchestrator
	log             *slog.Logger
	shutdownTimeout time.Duration
}

func New(orch *fleet.Orchestrator, log *slog.Logger, shutdownTimeout time.Duration) *Handler {
	return &Handler{
		orch:            orch,
		log:             log,
		shutdownTimeout: shutdownTimeout,
	}
}

func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/control/pause", h.pause).Methods(http.MethodPost)
	r.HandleFunc("/control/resume", h.resume).Methods(http.MethodPost)
	r.HandleFunc("/control/stop", h.stop).Methods(http.MethodPost)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Status())
}

func (h *Handler) pause(w http.ResponseWriter, _ *http.Request) {
	if err := h.orch.Pause(); err != nil {
		h.controlError(w, "pause", err)
		return
	}
	writeJSON(w, http.StatusOK, h.orch.Status())
}

func (h *Handler) resume(w http.ResponseWriter, _ *http.Request) {
	if err := h.orch.Resume(); err != nil {
		h.controlError(w, "resume", err)
		return
	}
	writeJSON(w, http.StatusOK, h.orch.Status())
}

func (h *Handler) stop(w http.ResponseWriter, _ *http.Request) {
	summary, err := h.orch.StopAndWait(h.shutdownTimeout)
	if err != nil {
		switch {
		case errors.Is(err, fleet.ErrShutdownTimeout):
			h.log.Error("stop timed out", "err", err)
			writeError(w, http.StatusGatewayTimeout, err.Error())
		case errors.Is(err, fleet.ErrNotStarted):
			writeError(w, http.StatusConflict, "fleet not started")
		default:
			h.log.Error("stop failed", "err", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) controlError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, control.ErrStopped):
		writeError(w, http.StatusConflict, "fleet stopped")
	case errors.Is(err, fleet.ErrNotStarted):
		writeError(w, http.StatusConflict, "fleet not started")
	default:
		h.log.Error("control error", "op", op, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
