// Package session holds the process-wide operator session: who is signed
// in, what they may do, and the transitions reported by the identity
// provider. Its HTTP handler serves the per-request bearer sessions.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/psp-hub/platform/internal/audit"
	"github.com/psp-hub/platform/internal/auth"
	"github.com/psp-hub/platform/internal/shared/errors"
	"github.com/psp-hub/platform/internal/shared/metrics"
)

// logoutAuditTimeout bounds the audit write that precedes sign-out.
const logoutAuditTimeout = 5 * time.Second

// Status of the session state machine.
type Status string

const (
	StatusResolving     Status = "resolving"
	StatusAuthenticated Status = "authenticated"
	StatusAnonymous     Status = "anonymous"
)

// State is an immutable view of the session.
type State struct {
	Status   Status         `json:"status"`
	Identity *auth.Identity `json:"identity,omitempty"`
	// Version increments once per applied provider event.
	Version uint64 `json:"version"`
}

// Resolving reports whether the provider has not yet answered.
func (s State) Resolving() bool {
	return s.Status == StatusResolving
}

// EditAllowed reports whether roster mutations are permitted.
func (s State) EditAllowed() bool {
	return s.Status == StatusAuthenticated && s.Identity.TopDirector()
}

// Superior reports whether elevated reads are permitted.
func (s State) Superior() bool {
	return s.Status == StatusAuthenticated && s.Identity.Superior()
}

// Context is the session shared by every component of the process. It
// starts Resolving and moves on each identity-provider event. Start and
// Stop bound its lifetime.
type Context struct {
	provider auth.Provider
	resolver *auth.Resolver
	audit    *audit.Logger

	mu      sync.RWMutex
	state   State
	subs    map[int]chan State
	nextSub int
	running bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a session context. Call Start before use.
func New(provider auth.Provider, resolver *auth.Resolver, logger *audit.Logger) *Context {
	return &Context{
		provider: provider,
		resolver: resolver,
		audit:    logger,
		state:    State{Status: StatusResolving},
		subs:     make(map[int]chan State),
	}
}

// Start begins watching the provider. It returns once the watch is
// registered; the first transition happens asynchronously.
func (c *Context) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running || c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("session: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	watch := c.provider.Watch(runCtx)
	go c.run(runCtx, watch)
	return nil
}

// Stop ends the provider watch and closes every subscription.
func (c *Context) Stop() {
	c.mu.Lock()
	if !c.running {
		c.stopped = true
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *Context) run(ctx context.Context, watch <-chan *auth.ProviderUser) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.stopped = true
		for id, ch := range c.subs {
			delete(c.subs, id)
			close(ch)
		}
		c.mu.Unlock()
		close(c.done)
	}()

	for user := range watch {
		c.apply(c.resolver.Resolve(ctx, user))
	}
}

func (c *Context) apply(identity *auth.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := State{Status: StatusAnonymous, Version: c.state.Version + 1}
	if identity != nil {
		next.Status = StatusAuthenticated
		next.Identity = identity
	}
	c.state = next
	metrics.RecordSessionTransition(string(next.Status))

	for _, ch := range c.subs {
		deliverLatest(ch, next)
	}
}

// Current returns the session state.
func (c *Context) Current() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// EditAllowed reports whether the signed-in identity may mutate the roster.
func (c *Context) EditAllowed() bool {
	return c.Current().EditAllowed()
}

// Subscribe delivers the current state and then every change. A reader that
// falls behind sees only the latest state. The channel closes when ctx ends
// or the session stops.
func (c *Context) Subscribe(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.state
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
		c.mu.Unlock()
	}()

	return ch
}

// Actor returns the signed-in identity. While resolving it fails with
// SESSION_RESOLVING, and when signed out with UNAUTHORIZED.
func (c *Context) Actor() (*auth.Identity, error) {
	st := c.Current()
	switch st.Status {
	case StatusResolving:
		return nil, errors.SessionResolving()
	case StatusAnonymous:
		return nil, errors.Unauthorized("not signed in")
	}
	return st.Identity, nil
}

// Authorize returns the identity if it holds perm.
func (c *Context) Authorize(perm auth.Permission) (*auth.Identity, error) {
	actor, err := c.Actor()
	if err != nil {
		return nil, err
	}
	allowed := auth.HasPermission(actor.Role, perm)
	metrics.RecordAuthorizationDecision(string(perm), allowed)
	if !allowed {
		return nil, errors.Forbidden(fmt.Sprintf("%s is not permitted for %s", perm, actor.Role))
	}
	return actor, nil
}

// Record audits action under the current identity, or the system actor
// when nobody is signed in. It never blocks.
func (c *Context) Record(action string) {
	c.audit.Record(c.Current().Identity, action)
}

// Login signs in with credential and waits until the session reflects the
// new identity.
func (c *Context) Login(ctx context.Context, credential string) (State, error) {
	user, err := c.provider.SignIn(ctx, credential)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			return State{}, errors.Unauthorized("invalid credential")
		}
		return State{}, errors.Unavailable("sign-in failed, try again", err)
	}

	st, err := c.waitFor(ctx, func(s State) bool {
		return s.Status == StatusAuthenticated && s.Identity.ID == user.UID
	})
	if err != nil {
		return State{}, err
	}

	c.audit.Record(st.Identity, audit.ActionLogin)
	return st, nil
}

// Logout writes the session-ended entry, then signs out and waits for the
// session to leave the identity. An audit failure is logged and does not
// stop the sign-out.
func (c *Context) Logout(ctx context.Context) error {
	actor, err := c.Actor()
	if err != nil {
		return err
	}

	actx, cancel := context.WithTimeout(ctx, logoutAuditTimeout)
	if _, err := c.audit.Write(actx, actor, audit.ActionLogout); err != nil {
		log.Printf("session: logout audit for %s failed: %v", actor.ID, err)
	}
	cancel()

	if err := c.provider.SignOut(ctx); err != nil {
		return errors.Unavailable("sign-out failed, try again", err)
	}

	_, err = c.waitFor(ctx, func(s State) bool {
		return s.Status != StatusAuthenticated || s.Identity.ID != actor.ID
	})
	return err
}

func (c *Context) waitFor(ctx context.Context, done func(State) bool) (State, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for st := range c.Subscribe(wctx) {
		if done(st) {
			return st, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return State{}, errors.Unavailable("session did not settle in time", err)
	}
	return State{}, errors.Unavailable("session stopped", nil)
}

func deliverLatest(ch chan State, st State) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}
