package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const claimsContextKey contextKey = "loadstorm-claims"

// Claims is the minimal JWT payload the control API expects: who is
// calling and what they are allowed to do, which lets a shared control
// plane restrict test creation to specific callers without a separate
// auth service.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// HasScope reports whether the token grants scope, or the wildcard "*".
func (c Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

// JWTMiddleware validates a Bearer token against secret using an HMAC
// signing method (HS256, HS384 or HS512; any other method is rejected) and
// attaches its Claims to the request context. A control plane that does
// not set LOADSTORM_JWT_SECRET skips this middleware entirely (see
// cmd/loadstormd), so auth stays opt-in rather than a hard requirement.
func JWTMiddleware(secret []byte) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, errors.New("invalid bearer token"))
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, *claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects requests whose JWTMiddleware-attached Claims lack
// scope. It must run after JWTMiddleware in the chain.
func RequireScope(scope string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := r.Context().Value(claimsContextKey).(Claims)
			if !ok || !claims.HasScope(scope) {
				writeError(w, http.StatusForbidden, errors.New("token lacks required scope: "+scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
