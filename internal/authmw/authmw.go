// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type actorKey struct{}

// Actor returns the authenticated actor identity stashed by BearerToken,
// or "" if the request was not authenticated.
func Actor(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// WithActor returns a context carrying the given actor identity. Intended
// for tests and trusted internal callers.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// BearerToken returns middleware that validates the Authorization header
// contains a Bearer token present in the tokens map (token -> actor).
// The matched actor identity is attached to the request context so handlers
// can attribute vault and review actions. Comparison uses constant-time
// equality to prevent timing side-channel attacks.
func BearerToken(tokens map[string]string) func(http.Handler) http.Handler {
	type credential struct {
		token []byte
		actor string
	}
	creds := make([]credential, 0, len(tokens))
	for token, actor := range tokens {
		creds = append(creds, credential{token: []byte(token), actor: actor})
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			got := []byte(auth[len("Bearer "):])

			// Compare against every credential so timing does not reveal
			// which token prefix matched.
			matched := ""
			for _, c := range creds {
				if subtle.ConstantTimeCompare(got, c.token) == 1 {
					matched = c.actor
				}
			}
			if matched == "" {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), matched)))
		})
	}
}
