package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/psp-hub/platform/internal/auth"
	"github.com/psp-hub/platform/internal/shared/errors"
	"github.com/psp-hub/platform/internal/shared/metrics"
)

// maxActionLength bounds free-text actions recorded over HTTP.
const maxActionLength = 500

// Access reports who is calling. Actor returns UNAUTHORIZED for anonymous
// requests and may return SESSION_RESOLVING while identity is indeterminate.
type Access interface {
	Actor(ctx context.Context) (*auth.Identity, error)
}

// Handler provides HTTP handlers for the audit module
type Handler struct {
	logger    *Logger
	access    Access
	listLimit int
}

// NewHandler creates a new audit handler. listLimit caps list and verify
// requests.
func NewHandler(logger *Logger, access Access, listLimit int) *Handler {
	if listLimit <= 0 || listLimit > 100 {
		listLimit = 100
	}
	return &Handler{logger: logger, access: access, listLimit: listLimit}
}

// Routes registers the audit routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListEntries)
	r.Post("/", h.RecordAction)
	r.Get("/verify", h.VerifyChain)
	return r
}

// StreamRoutes registers the long-lived feed. It is mounted outside the
// request timeout.
func (h *Handler) StreamRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Stream)
	return r
}

// ListEntries lists the newest entries
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSuperior(w, r, string(auth.PermAuditRead)); !ok {
		return
	}

	entries, err := h.logger.Repository().List(r.Context(), h.limit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"total": len(entries),
	})
}

// VerifyChain verifies the integrity of the newest part of the chain
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSuperior(w, r, string(auth.PermAuditRead)); !ok {
		return
	}

	includeDetails := r.URL.Query().Get("details") == "true"

	result, err := h.logger.Repository().VerifyChain(r.Context(), h.limit(r), includeDetails)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// RecordActionRequest is the body of POST /audit.
type RecordActionRequest struct {
	Action string `json:"action"`
}

// RecordAction records a free-text action under the caller's identity.
func (h *Handler) RecordAction(w http.ResponseWriter, r *http.Request) {
	actor, err := h.access.Actor(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !auth.HasPermission(actor.Role, auth.PermAuditRecord) {
		metrics.RecordAuthorizationDecision(string(auth.PermAuditRecord), false)
		writeError(w, errors.Forbidden("not allowed to record actions"))
		return
	}
	metrics.RecordAuthorizationDecision(string(auth.PermAuditRecord), true)

	var req RecordActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	req.Action = strings.TrimSpace(req.Action)
	if req.Action == "" || len(req.Action) > maxActionLength {
		writeError(w, errors.Validation("invalid action", map[string]string{
			"action": "required, at most 500 characters",
		}))
		return
	}

	h.logger.Record(actor, req.Action)
	w.WriteHeader(http.StatusAccepted)
}

// Stream sends new entries as Server-Sent Events.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSuperior(w, r, string(auth.PermAuditRead)); !ok {
		return
	}

	watcher, ok := h.logger.Repository().(Watcher)
	if !ok {
		writeError(w, errors.Unavailable("live audit feed is not supported by this backend", nil))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, err := watcher.Watch(ctx)
	if err != nil {
		writeError(w, errors.Unavailable("failed to open audit feed", err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for entry := range ch {
		payload, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

func (h *Handler) requireSuperior(w http.ResponseWriter, r *http.Request, action string) (*auth.Identity, bool) {
	actor, err := h.access.Actor(r.Context())
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	allowed := actor.Superior()
	metrics.RecordAuthorizationDecision(action, allowed)
	if !allowed {
		writeError(w, errors.Forbidden("superior rank required"))
		return nil, false
	}
	return actor, true
}

func (h *Handler) limit(r *http.Request) int {
	limit := h.listLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed < limit {
			limit = parsed
		}
	}
	return limit
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := errors.As(err); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
