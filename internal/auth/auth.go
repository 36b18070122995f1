// Package auth resolves the authenticated user id for each request. The
// identity provider is external; we only validate its token and treat the
// subject as an opaque id.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey struct{}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// UserID returns the authenticated user id placed by Middleware.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(contextKey{}).(string)
	return v, ok && v != ""
}

// Middleware authenticates requests. With a secret configured it requires an
// HS256 bearer token and takes the subject claim as the user id; without one
// it trusts the X-User-ID header, which keeps local runs tokenless.
func Middleware(secret []byte, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if len(secret) > 0 {
				sub, err := subjectFromBearer(r, secret)
				if err != nil {
					log.Debug("auth rejected", "error", err)
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				id = sub
			} else {
				id = strings.TrimSpace(r.Header.Get("X-User-ID"))
			}
			if id == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
		})
	}
}

func subjectFromBearer(r *http.Request, secret []byte) (string, error) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", fmt.Errorf("missing bearer token")
	}
	tok, err := jwt.Parse(strings.TrimPrefix(h, prefix),
		func(t *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}
