// internal/app/features/pods/handler.go
package pods

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quietcove/podhub/internal/app/engine"
	"github.com/quietcove/podhub/internal/app/system/htmlsanitize"
	"github.com/quietcove/podhub/internal/app/system/identity"
	"github.com/quietcove/podhub/internal/app/system/timeouts"
)

// Handler exposes the pod engine over HTTP and WebSocket.
type Handler struct {
	Engine   *engine.Service
	Identity identity.Provider
	Log      *zap.Logger
}

// NewHandler constructs a pods Handler.
func NewHandler(eng *engine.Service, ident identity.Provider, logger *zap.Logger) *Handler {
	return &Handler{
		Engine:   eng,
		Identity: ident,
		Log:      logger,
	}
}

// Join handles POST /pods/join: place the caller into a pod for the topic,
// creating one if needed.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	podID, err := h.Engine.FindOrCreatePod(ctx, userID, req.Topic, req.Style, req.Duration)
	if err != nil {
		h.engineError(w, err, "join failed")
		return
	}
	h.writeJSON(w, http.StatusOK, joinResponse{PodID: podID})
}

// Current handles GET /pods/current. The pod field is null when the caller
// has no active, non-expired pod.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	pod, err := h.Engine.CurrentPod(ctx, userID)
	if err != nil {
		h.engineError(w, err, "current pod lookup failed")
		return
	}
	h.writeJSON(w, http.StatusOK, currentResponse{Pod: pod})
}

// Leave handles POST /pods/leave: remove the caller from their current pod.
// Leaving with no current pod is a no-op.
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	pod, err := h.Engine.CurrentPod(ctx, userID)
	if err != nil {
		h.engineError(w, err, "current pod lookup failed")
		return
	}
	if pod != nil {
		if err := h.Engine.Leave(ctx, userID, pod.ID); err != nil {
			h.engineError(w, err, "leave failed")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Send handles POST /pods/{podID}/messages: append a user message to the
// pod's transcript.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	podID := chi.URLParam(r, "podID")

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	msg, err := h.Engine.SendMessage(ctx, podID, userID, htmlsanitize.MessageText(req.Text))
	if err != nil {
		h.engineError(w, err, "send failed")
		return
	}
	h.writeJSON(w, http.StatusCreated, msg)
}

/* ── helpers ───────────────────────────────────────────────────────────── */

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := h.Identity.UserID(w, r)
	if err != nil {
		h.Log.Error("identity resolution failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "identity unavailable")
		return "", false
	}
	return userID, true
}

// engineError maps engine errors onto HTTP statuses: invalid input reads
// as 422, everything else is a transient collaborator failure the caller
// may retry.
func (h *Handler) engineError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, engine.ErrInvalidTopic),
		errors.Is(err, engine.ErrInvalidStyle),
		errors.Is(err, engine.ErrInvalidDuration),
		errors.Is(err, engine.ErrEmptyMessage):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.Log.Error(logMsg, zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.Error("response encode failed", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}
