package auth

import (
	"context"
	"errors"
	"sync"
)

// ChangeFunc observes identity transitions. userID is empty when signedIn is false.
type ChangeFunc func(ctx context.Context, userID string, signedIn bool) error

// Session tracks the single identity the process currently acts for.
type Session struct {
	mu        sync.Mutex
	current   *AuthenticatedUser
	listeners []ChangeFunc
}

// NewSession returns a signed-out session.
func NewSession() *Session {
	return &Session{}
}

// OnChange registers fn for every sign-in and sign-out.
func (s *Session) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// CurrentUserID returns the signed-in user id, or "" for guests.
func (s *Session) CurrentUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.UserID
}

// Current returns the signed-in user, if any.
func (s *Session) Current() (AuthenticatedUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return AuthenticatedUser{}, false
	}
	return *s.current, true
}

// SignIn records user as the current identity and notifies listeners.
// Signing in again as the same user only refreshes the token.
func (s *Session) SignIn(ctx context.Context, user AuthenticatedUser) error {
	if user.UserID == "" {
		return errMissingSubject
	}

	s.mu.Lock()
	same := s.current != nil && s.current.UserID == user.UserID
	u := user
	s.current = &u
	listeners := append([]ChangeFunc(nil), s.listeners...)
	s.mu.Unlock()

	if same {
		return nil
	}
	return notify(ctx, listeners, user.UserID, true)
}

// SignOut clears the identity. It is a no-op for guests.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	wasSignedIn := s.current != nil
	s.current = nil
	listeners := append([]ChangeFunc(nil), s.listeners...)
	s.mu.Unlock()

	if !wasSignedIn {
		return nil
	}
	return notify(ctx, listeners, "", false)
}

func notify(ctx context.Context, listeners []ChangeFunc, userID string, signedIn bool) error {
	var errs []error
	for _, fn := range listeners {
		if err := fn(ctx, userID, signedIn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
