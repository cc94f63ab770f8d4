package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/psp-hub/platform/internal/shared/config"
)

var (
	// ErrInvalidCredential is returned for malformed, forged or expired tokens.
	ErrInvalidCredential = errors.New("invalid credential")
)

// Provider is the external identity provider.
type Provider interface {
	// Watch streams the signed-in user, starting with the current one (nil
	// when signed out). The channel closes when ctx ends.
	Watch(ctx context.Context) <-chan *ProviderUser
	// SignIn validates credential and makes it the active session.
	SignIn(ctx context.Context, credential string) (*ProviderUser, error)
	// SignOut ends the active session.
	SignOut(ctx context.Context) error
}

// Claims are the session token claims.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// TokenProvider is a Provider backed by HS256 session tokens. When the
// active token expires the provider reports the user as signed out.
type TokenProvider struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	current *ProviderUser
	expiry  *time.Timer
	watches map[int]chan *ProviderUser
	next    int
}

// NewTokenProvider creates a provider from auth configuration.
func NewTokenProvider(cfg config.AuthConfig) *TokenProvider {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &TokenProvider{
		secret:  []byte(cfg.JWTSecret),
		issuer:  cfg.Issuer,
		ttl:     ttl,
		now:     time.Now,
		watches: make(map[int]chan *ProviderUser),
	}
}

// Issue signs a session token for uid/email. A zero ttl uses the configured one.
func (p *TokenProvider) Issue(uid, email string, ttl time.Duration) (string, error) {
	if uid == "" || email == "" {
		return "", fmt.Errorf("uid and email are required")
	}
	if ttl <= 0 {
		ttl = p.ttl
	}
	now := p.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   uid,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: strings.ToLower(strings.TrimSpace(email)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// Verify parses and validates a token without changing the session.
func (p *TokenProvider) Verify(token string) (*ProviderUser, time.Time, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, time.Time{}, ErrInvalidCredential
	}

	return &ProviderUser{UID: claims.Subject, Email: claims.Email, TokenID: claims.ID}, claims.ExpiresAt.Time, nil
}

// SignIn implements Provider.
func (p *TokenProvider) SignIn(ctx context.Context, credential string) (*ProviderUser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	user, expiresAt, err := p.Verify(strings.TrimSpace(credential))
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.expiry != nil {
		p.expiry.Stop()
	}
	p.current = user
	p.expiry = time.AfterFunc(expiresAt.Sub(p.now()), func() { p.expire(user) })
	p.broadcastLocked()

	out := *user
	return &out, nil
}

// SignOut implements Provider.
func (p *TokenProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.expiry != nil {
		p.expiry.Stop()
		p.expiry = nil
	}
	p.current = nil
	p.broadcastLocked()
	return nil
}

// Current returns the signed-in user, or nil.
func (p *TokenProvider) Current() *ProviderUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	out := *p.current
	return &out
}

// Watch implements Provider. Each watcher holds at most one pending value;
// a newer state replaces an unread one.
func (p *TokenProvider) Watch(ctx context.Context) <-chan *ProviderUser {
	ch := make(chan *ProviderUser, 1)

	p.mu.Lock()
	id := p.next
	p.next++
	p.watches[id] = ch
	ch <- p.copyCurrentLocked()
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.watches, id)
		close(ch)
		p.mu.Unlock()
	}()

	return ch
}

func (p *TokenProvider) expire(user *ProviderUser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != user {
		return
	}
	p.current = nil
	p.expiry = nil
	p.broadcastLocked()
}

func (p *TokenProvider) broadcastLocked() {
	for _, ch := range p.watches {
		value := p.copyCurrentLocked()
		select {
		case ch <- value:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- value:
		default:
		}
	}
}

func (p *TokenProvider) copyCurrentLocked() *ProviderUser {
	if p.current == nil {
		return nil
	}
	out := *p.current
	return &out
}

var _ Provider = (*TokenProvider)(nil)
