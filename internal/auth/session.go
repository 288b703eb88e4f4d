package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/five82/storefront/internal/api"
	"github.com/five82/storefront/internal/cart"
	"github.com/five82/storefront/internal/logging"
	"github.com/five82/storefront/internal/persist"
)

// ErrInvalidCredentials is returned by SignIn and Register for malformed
// input, before any request is made.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Session is an authenticated user.
type Session struct {
	UserID  string `json:"_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Token   string `json:"token"`
	IsAdmin bool   `json:"isAdmin"`
}

// Valid reports whether s can authorize requests.
func (s Session) Valid() bool {
	return strings.TrimSpace(s.Token) != ""
}

// Transition describes a session change. A nil side means anonymous.
type Transition struct {
	Prev *Session
	Next *Session
	// Restored is set when Next was reloaded from persistence rather than
	// freshly signed in.
	Restored bool
}

// LoggedIn reports whether a user became active, including a switch from
// another user.
func (t Transition) LoggedIn() bool {
	return t.Next != nil && (t.Prev == nil || t.Prev.UserID != t.Next.UserID)
}

// LoggedOut reports whether the previous user is no longer active.
func (t Transition) LoggedOut() bool {
	return t.Prev != nil && (t.Next == nil || t.Prev.UserID != t.Next.UserID)
}

// Listener observes transitions.
type Listener func(ctx context.Context, t Transition)

// Manager owns the current session and tells subscribers when it changes.
type Manager struct {
	// notify serializes transitions so listeners see them in order.
	notify sync.Mutex

	mu        sync.RWMutex
	current   *Session
	listeners []Listener

	authn   api.Authenticator
	persist *persist.Adapter
	logger  *zap.Logger
}

// NewManager builds a manager. store may be nil to skip persistence.
func NewManager(authn api.Authenticator, store *persist.Adapter, logger *zap.Logger) *Manager {
	return &Manager{
		authn:   authn,
		persist: store,
		logger:  logging.OrNop(logger).Named("auth"),
	}
}

// Current returns the active session.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// Subscribe registers l. Listeners run synchronously in registration order.
func (m *Manager) Subscribe(l Listener) {
	if l == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

type credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

// SignIn authenticates and activates the resulting session.
func (m *Manager) SignIn(ctx context.Context, email, password string) (Session, error) {
	creds := credentials{Email: strings.TrimSpace(email), Password: password}
	if err := cart.Validator().Struct(creds); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if m.authn == nil {
		return Session{}, errors.New("sign in: no authenticator configured")
	}
	user, err := m.authn.Login(ctx, creds.Email, creds.Password)
	if err != nil {
		return Session{}, fmt.Errorf("sign in: %w", err)
	}
	s := sessionFromRecord(user)
	m.SetSession(ctx, s)
	return s, nil
}

type registration struct {
	Name     string `validate:"required"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

// Register creates an account and activates it. When the server does not
// hand back a token the new credentials are used to sign in.
func (m *Manager) Register(ctx context.Context, name, email, password string) (Session, error) {
	reg := registration{Name: strings.TrimSpace(name), Email: strings.TrimSpace(email), Password: password}
	if err := cart.Validator().Struct(reg); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if m.authn == nil {
		return Session{}, errors.New("register: no authenticator configured")
	}
	user, err := m.authn.Register(ctx, reg.Name, reg.Email, reg.Password)
	if err != nil {
		return Session{}, fmt.Errorf("register: %w", err)
	}
	m.logger.Info("account registered", zap.String("email", reg.Email))
	if user.Token == "" {
		return m.SignIn(ctx, reg.Email, reg.Password)
	}
	s := sessionFromRecord(user)
	if s.Email == "" {
		s.Email = reg.Email
	}
	if s.Name == "" {
		s.Name = reg.Name
	}
	m.SetSession(ctx, s)
	return s, nil
}

func sessionFromRecord(user api.UserRecord) Session {
	return Session{
		UserID:  user.ID,
		Name:    user.Name,
		Email:   user.Email,
		Token:   user.Token,
		IsAdmin: user.IsAdmin,
	}
}

// SetSession activates s. An invalid session signs out. Setting the session
// already active is a no-op.
func (m *Manager) SetSession(ctx context.Context, s Session) {
	if !s.Valid() {
		m.SignOut(ctx)
		return
	}
	next := s
	m.transition(ctx, &next, false)
}

// SignOut clears the session. Signing out while anonymous is a no-op.
func (m *Manager) SignOut(ctx context.Context) {
	m.transition(ctx, nil, false)
}

// Restore reactivates a persisted session and reports whether one was found.
func (m *Manager) Restore(ctx context.Context) bool {
	if m.persist == nil {
		return false
	}
	var s Session
	if !m.persist.LoadSession(ctx, &s) || !s.Valid() {
		return false
	}
	m.logger.Debug("restoring session", zap.String("user_id", s.UserID))
	m.transition(ctx, &s, true)
	return true
}

func (m *Manager) transition(ctx context.Context, next *Session, restored bool) {
	m.notify.Lock()
	defer m.notify.Unlock()

	m.mu.Lock()
	prev := m.current
	if sameSession(prev, next) {
		m.mu.Unlock()
		return
	}
	m.current = next
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	if m.persist != nil {
		if next != nil {
			m.persist.SaveSession(ctx, next)
		} else {
			m.persist.ClearSession(ctx)
		}
	}

	t := Transition{Prev: clone(prev), Next: clone(next), Restored: restored}
	switch {
	case t.LoggedIn():
		m.logger.Info("signed in", zap.String("user_id", next.UserID))
	case t.LoggedOut():
		m.logger.Info("signed out", zap.String("user_id", prev.UserID))
	}
	for _, l := range listeners {
		l(ctx, t)
	}
}

func sameSession(a, b *Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func clone(s *Session) *Session {
	if s == nil {
		return nil
	}
	dup := *s
	return &dup
}
