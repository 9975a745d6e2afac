// Package session holds the signed-in user as a single-writer observable
// cell. Only sign-in, sign-up, refresh, restore and sign-out write it.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrSignedOut = errors.New("not signed in")

type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (Session, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
	Refresh(ctx context.Context, refreshToken string) (Session, error)
	SignOut(ctx context.Context, refreshToken string) error
}

type Provider struct {
	auth Authenticator

	mu      sync.RWMutex
	current *Session

	listenerMu   sync.Mutex
	listeners    map[int]func(*Session)
	nextListener int
}

func NewProvider(auth Authenticator) *Provider {
	return &Provider{auth: auth, listeners: map[int]func(*Session){}}
}

// Current returns a copy of the session, or nil when signed out.
func (p *Provider) Current() *Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return nil
	}
	s := *p.current
	return &s
}

// OnChange registers fn to run after every session change with the new
// session (nil after sign-out). The returned function unregisters it.
func (p *Provider) OnChange(fn func(*Session)) func() {
	p.listenerMu.Lock()
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = fn
	p.listenerMu.Unlock()
	return func() {
		p.listenerMu.Lock()
		delete(p.listeners, id)
		p.listenerMu.Unlock()
	}
}

func (p *Provider) SignUp(ctx context.Context, email, password string) (*Session, error) {
	s, err := p.auth.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return p.set(&s), nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	s, err := p.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return p.set(&s), nil
}

// Refresh rotates the refresh token of the current session.
func (p *Provider) Refresh(ctx context.Context) (*Session, error) {
	cur := p.Current()
	if cur == nil {
		return nil, ErrSignedOut
	}
	s, err := p.auth.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		return nil, err
	}
	return p.set(&s), nil
}

// Restore installs a previously persisted session without contacting the
// authenticator.
func (p *Provider) Restore(s Session) *Session {
	return p.set(&s)
}

// SignOut revokes the refresh token and clears the session. The local
// session is cleared even when revocation fails.
func (p *Provider) SignOut(ctx context.Context) error {
	cur := p.Current()
	if cur == nil {
		return nil
	}
	err := p.auth.SignOut(ctx, cur.RefreshToken)
	p.set(nil)
	return err
}

func (p *Provider) set(s *Session) *Session {
	p.mu.Lock()
	p.current = s
	p.mu.Unlock()

	out := p.Current()
	p.listenerMu.Lock()
	fns := make([]func(*Session), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.listenerMu.Unlock()
	for _, fn := range fns {
		fn(p.Current())
	}
	return out
}
