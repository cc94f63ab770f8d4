package roster

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/psp-hub/platform/internal/auth"
	"github.com/psp-hub/platform/internal/shared/errors"
)

// Gate authorizes the identity carried by a request context.
type Gate interface {
	Authorize(ctx context.Context, perm auth.Permission) (*auth.Identity, error)
	EditAllowed(ctx context.Context) bool
}

// Handler provides HTTP handlers for the roster
type Handler struct {
	list    *List
	service *Service
	reorder *ReorderController
	gate    Gate
}

// NewHandler creates a new roster handler
func NewHandler(list *List, service *Service, reorder *ReorderController, gate Gate) *Handler {
	return &Handler{list: list, service: service, reorder: reorder, gate: gate}
}

// Routes registers the roster routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)

	r.Route("/members", func(r chi.Router) {
		r.Post("/", h.AddMember)
		r.Put("/{memberID}", h.UpdateMember)
		r.Delete("/{memberID}", h.DeleteMember)
	})

	r.Route("/reorder", func(r chi.Router) {
		r.Post("/begin", h.BeginDrag)
		r.Post("/over", h.DragOver)
		r.Post("/end", h.EndDrag)
	})

	return r
}

// StreamRoutes registers the long-lived list feed. It is mounted outside the
// request timeout.
func (h *Handler) StreamRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Stream)
	return r
}

// ListResponse is the roster as shown to one caller.
type ListResponse struct {
	View
	Total       int  `json:"total"`
	EditAllowed bool `json:"editAllowed"`
}

func (h *Handler) respond(ctx context.Context, v View, search string) ListResponse {
	total := len(v.Records)
	v.Records = Filter(v.Records, search)
	return ListResponse{View: v, Total: total, EditAllowed: h.gate.EditAllowed(ctx)}
}

// List returns the ordered roster, optionally filtered by ?search=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if _, err := h.gate.Authorize(r.Context(), auth.PermRosterRead); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.respond(r.Context(), h.list.Snapshot(), r.URL.Query().Get("search")))
}

// Stream sends the roster as Server-Sent Events on every change.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if _, err := h.gate.Authorize(r.Context(), auth.PermRosterRead); err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	search := r.URL.Query().Get("search")
	ch := h.list.Subscribe(ctx)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for v := range ch {
		payload, err := json.Marshal(h.respond(r.Context(), v, search))
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

// AddMember registers a new member
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	actor, err := h.gate.Authorize(r.Context(), auth.PermRosterEdit)
	if err != nil {
		writeError(w, err)
		return
	}

	var in MemberInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	record, err := h.service.Add(r.Context(), actor, in)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

// UpdateMember edits a member
func (h *Handler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	actor, err := h.gate.Authorize(r.Context(), auth.PermRosterEdit)
	if err != nil {
		writeError(w, err)
		return
	}

	var in MemberInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := h.service.Update(r.Context(), actor, chi.URLParam(r, "memberID"), in); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteMember removes a member
func (h *Handler) DeleteMember(w http.ResponseWriter, r *http.Request) {
	actor, err := h.gate.Authorize(r.Context(), auth.PermRosterEdit)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.service.Delete(r.Context(), actor, chi.URLParam(r, "memberID")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// IndexRequest carries a list position.
type IndexRequest struct {
	Index *int `json:"index"`
}

func decodeIndex(r *http.Request) (int, error) {
	var req IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		return 0, errors.BadRequest("index is required")
	}
	return *req.Index, nil
}

// BeginDrag starts a reorder gesture
func (h *Handler) BeginDrag(w http.ResponseWriter, r *http.Request) {
	if _, err := h.gate.Authorize(r.Context(), auth.PermRosterEdit); err != nil {
		writeError(w, err)
		return
	}

	index, err := decodeIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.reorder.Begin(index); err != nil {
		writeError(w, reorderError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DragOver moves the dragged member and returns the optimistic list
func (h *Handler) DragOver(w http.ResponseWriter, r *http.Request) {
	if _, err := h.gate.Authorize(r.Context(), auth.PermRosterEdit); err != nil {
		writeError(w, err)
		return
	}

	index, err := decodeIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.reorder.DragOver(index); err != nil {
		writeError(w, reorderError(err))
		return
	}

	writeJSON(w, http.StatusOK, h.respond(r.Context(), h.list.Snapshot(), ""))
}

// EndDrag commits the new order
func (h *Handler) EndDrag(w http.ResponseWriter, r *http.Request) {
	if _, err := h.gate.Authorize(r.Context(), auth.PermRosterEdit); err != nil {
		writeError(w, err)
		return
	}

	if err := h.reorder.End(r.Context()); err != nil {
		writeError(w, reorderError(err))
		return
	}

	writeJSON(w, http.StatusOK, h.respond(r.Context(), h.list.Snapshot(), ""))
}

func reorderError(err error) error {
	switch {
	case stderrors.Is(err, ErrIndexOutOfRange):
		return errors.BadRequest(err.Error())
	case stderrors.Is(err, ErrNotDragging):
		return errors.Conflict("no reorder in progress")
	}
	return err
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
