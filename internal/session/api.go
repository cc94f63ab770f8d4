package session

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/psp-hub/platform/internal/audit"
	"github.com/psp-hub/platform/internal/auth"
	"github.com/psp-hub/platform/internal/shared/errors"
)

// Handler serves per-request sessions. The caller is whoever the bearer
// token on the request names; the process session is never consulted.
type Handler struct {
	authn *auth.Authenticator
	audit *audit.Logger
	gate  auth.RequestGate
}

// NewHandler creates a new session handler
func NewHandler(authn *auth.Authenticator, logger *audit.Logger) *Handler {
	return &Handler{authn: authn, audit: logger}
}

// Routes registers the session routes that need the bearer middleware.
// Login is mounted separately, ahead of it.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetSession)
	r.Post("/logout", h.Logout)
	return r
}

// SessionResponse describes the caller's session.
type SessionResponse struct {
	Status      Status         `json:"status"`
	Identity    *auth.Identity `json:"identity,omitempty"`
	Tier        auth.Tier      `json:"tier,omitempty"`
	EditAllowed bool           `json:"editAllowed"`
	Superior    bool           `json:"superior"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
}

func toResponse(identity *auth.Identity) SessionResponse {
	if identity == nil {
		return SessionResponse{Status: StatusAnonymous}
	}
	st := State{Status: StatusAuthenticated, Identity: identity}
	return SessionResponse{
		Status:      st.Status,
		Identity:    identity,
		Tier:        auth.TierOf(identity.Role),
		EditAllowed: st.EditAllowed(),
		Superior:    st.Superior(),
	}
}

// GetSession returns the caller's session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toResponse(auth.IdentityFrom(r.Context())))
}

// LoginRequest is the body of POST /session/login.
type LoginRequest struct {
	Token string `json:"token"`
}

// Login opens a session for a signed token. The token is then sent as a
// bearer credential on every request.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.Token == "" {
		writeError(w, errors.Validation("token is required", map[string]string{"token": "required"}))
		return
	}

	identity, sess, err := h.authn.Login(r.Context(), req.Token)
	if err != nil {
		writeError(w, err)
		return
	}

	h.audit.Record(identity, audit.ActionLogin)
	resp := toResponse(identity)
	resp.ExpiresAt = &sess.ExpiresAt
	writeJSON(w, http.StatusOK, resp)
}

// Logout writes the session-ended entry, then ends the caller's session. An
// audit failure is logged and does not keep the session open.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	actor, err := h.gate.Actor(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	actx, cancel := context.WithTimeout(r.Context(), logoutAuditTimeout)
	if _, err := h.audit.Write(actx, actor, audit.ActionLogout); err != nil {
		log.Printf("session: logout audit for %s failed: %v", actor.ID, err)
	}
	cancel()

	h.authn.Logout(auth.SessionIDFrom(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// Hierarchy lists the rank catalog. Superior ranks only.
func (h *Handler) Hierarchy(w http.ResponseWriter, r *http.Request) {
	if _, err := h.gate.Authorize(r.Context(), auth.PermHierarchyRead); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": auth.Hierarchy()})
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
