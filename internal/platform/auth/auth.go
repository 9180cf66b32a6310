// Package auth verifies sign-in tokens and tracks which account, if any, is
// signed in. A verified user id selects the account storage namespace.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/songmopx/planeveryday.org/internal/platform/apierror"
)

// Mode selects how sign-in tokens are verified.
type Mode string

const (
	// ModeClerk verifies Clerk-issued JWTs against the configured JWKS.
	ModeClerk Mode = "clerk"
	// ModeNoop trusts the bearer token as the user id. Local use and tests only.
	ModeNoop Mode = "noop"
)

// Config selects and parameterizes a Verifier.
type Config struct {
	Mode     Mode
	JWKSURL  string
	Audience string
	Issuer   string
}

// AuthenticatedUser is the account a token was issued for.
type AuthenticatedUser struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	Token     string `json:"-"`
}

// Verifier turns a bearer token into the user it identifies.
type Verifier interface {
	Verify(ctx context.Context, token string) (AuthenticatedUser, error)
}

var (
	ErrMissingAuthHeader = errors.New("authorization header missing")
	ErrInvalidAuthHeader = errors.New("authorization header is malformed")
	// ErrInvalidToken wraps every verification failure.
	ErrInvalidToken = errors.New("invalid sign-in token")
)

type ctxKey struct{}

// NewVerifier returns the verifier for cfg.Mode.
func NewVerifier(cfg Config) (Verifier, error) {
	switch cfg.Mode {
	case ModeClerk:
		return newClerkVerifier(cfg)
	case ModeNoop:
		return newNoopVerifier(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// Middleware rejects requests without a verifiable bearer token and stores
// the verified user on the request context. A nil verifier lets every
// request through unauthenticated.
func Middleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := TokenFromRequest(r)
			if err == nil {
				var user AuthenticatedUser
				if user, err = verifier.Verify(r.Context(), token); err == nil {
					next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
					return
				}
			}
			unauthorized(w, r, err)
		})
	}
}

// ErrWrongAccount is returned when a request's token names a different
// account than the one signed in.
var ErrWrongAccount = errors.New("token does not belong to the signed-in account")

// RequireSessionUser guards account data. While the session is a guest every
// request passes; once an account is signed in, requests must carry a token
// for that same account. A nil verifier disables the check.
func RequireSessionUser(session *Session, verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current, signedIn := session.Current()
			if !signedIn {
				next.ServeHTTP(w, r)
				return
			}
			token, err := TokenFromRequest(r)
			if err != nil {
				unauthorized(w, r, err)
				return
			}
			user, err := verifier.Verify(r.Context(), token)
			if err != nil {
				unauthorized(w, r, err)
				return
			}
			if user.UserID != current.UserID {
				reject(w, r, apierror.CodeForbidden, ErrWrongAccount)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	reject(w, r, apierror.CodeUnauthorized, err)
}

func reject(w http.ResponseWriter, r *http.Request, code string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierror.ToStatusCode(code))
	_ = json.NewEncoder(w).Encode(apierror.ErrorResponse{
		Code:      code,
		Message:   err.Error(),
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// TokenFromRequest returns the token of an "Authorization: Bearer" header.
func TokenFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingAuthHeader
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", ErrInvalidAuthHeader
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", ErrInvalidAuthHeader
	}
	return token, nil
}

// WithUser stores user on ctx.
func WithUser(ctx context.Context, user AuthenticatedUser) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFromContext returns the user stored by Middleware.
func UserFromContext(ctx context.Context) (AuthenticatedUser, bool) {
	user, ok := ctx.Value(ctxKey{}).(AuthenticatedUser)
	return user, ok
}
