package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/psp-hub/platform/internal/shared/errors"
	"github.com/psp-hub/platform/internal/shared/metrics"
)

type contextKey string

const (
	// identityContextKey is the context key for the request identity
	identityContextKey contextKey = "identity"
	// sessionContextKey is the context key for the request session id
	sessionContextKey contextKey = "session"
)

// Authenticator turns bearer tokens into identities. Every request is
// verified and resolved again, so role changes apply on the next call.
type Authenticator struct {
	tokens   *TokenProvider
	resolver *Resolver
	sessions *Sessions
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(tokens *TokenProvider, resolver *Resolver, sessions *Sessions) *Authenticator {
	return &Authenticator{tokens: tokens, resolver: resolver, sessions: sessions}
}

// Login verifies token and opens its session.
func (a *Authenticator) Login(ctx context.Context, token string) (*Identity, *Session, error) {
	user, expiresAt, err := a.tokens.Verify(strings.TrimSpace(token))
	if err != nil {
		return nil, nil, errors.Unauthorized("invalid or expired token")
	}
	identity := a.resolver.Resolve(ctx, user)
	if identity == nil || user.TokenID == "" {
		return nil, nil, errors.Unauthorized("token carries no identity")
	}
	return identity, a.sessions.Open(user.TokenID, user.UID, expiresAt), nil
}

// Authenticate verifies token and returns its identity and session id. The
// session must have been opened by Login.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Identity, string, error) {
	user, _, err := a.tokens.Verify(token)
	if err != nil {
		return nil, "", errors.Unauthorized("invalid or expired token")
	}
	if _, err := a.sessions.Touch(user.TokenID); err != nil {
		return nil, "", errors.Unauthorized("session ended")
	}
	identity := a.resolver.Resolve(ctx, user)
	if identity == nil {
		return nil, "", errors.Unauthorized("token carries no identity")
	}
	return identity, user.TokenID, nil
}

// Logout ends session id. Later requests with its token are rejected.
func (a *Authenticator) Logout(sessionID string) {
	a.sessions.End(sessionID)
}

// Middleware attaches the bearer token's identity to the request context.
// Requests without an Authorization header pass through anonymous; a
// malformed or rejected header is answered with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			writeError(w, errors.Unauthorized("invalid authorization header format"))
			return
		}

		identity, sessionID, err := a.Authenticate(r.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity, sessionID)))
	})
}

// WithIdentity returns ctx carrying identity and its session id.
func WithIdentity(ctx context.Context, identity *Identity, sessionID string) context.Context {
	ctx = context.WithValue(ctx, identityContextKey, identity)
	return context.WithValue(ctx, sessionContextKey, sessionID)
}

// IdentityFrom returns the request identity, or nil when anonymous.
func IdentityFrom(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityContextKey).(*Identity)
	return identity
}

// SessionIDFrom returns the request session id, or "".
func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionContextKey).(string)
	return id
}

// RequestGate authorizes against the identity carried by the request.
type RequestGate struct{}

// Actor returns the request identity or UNAUTHORIZED.
func (RequestGate) Actor(ctx context.Context) (*Identity, error) {
	if identity := IdentityFrom(ctx); identity != nil {
		return identity, nil
	}
	return nil, errors.Unauthorized("not signed in")
}

// Authorize returns the request identity when it holds perm.
func (g RequestGate) Authorize(ctx context.Context, perm Permission) (*Identity, error) {
	identity, err := g.Actor(ctx)
	if err != nil {
		metrics.RecordAuthorizationDecision(string(perm), false)
		return nil, err
	}
	allowed := HasPermission(identity.Role, perm)
	metrics.RecordAuthorizationDecision(string(perm), allowed)
	if !allowed {
		return nil, errors.Forbidden(fmt.Sprintf("%s is not permitted for %s", perm, identity.Role))
	}
	return identity, nil
}

// EditAllowed reports whether the request identity may edit the roster.
func (RequestGate) EditAllowed(ctx context.Context) bool {
	identity := IdentityFrom(ctx)
	return identity != nil && identity.TopDirector()
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")

	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.Unauthorized("unauthorized")
	}
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(map[string]string{
		"error": appErr.Message,
		"code":  appErr.Code,
	})
}
