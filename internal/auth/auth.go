// Package auth is an optional bearer-token guard for /model/register and
// /prove: static HS256 verification only, no JWKS fetch, no
// issuer/audience discovery, just "does this request carry a token signed
// with our shared secret." Unset by default; this is the one place the
// Unauthorized error kind is actually wired.
package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yuanjing-labs/yuanjing-core/internal/apierr"
)

// RequireBearer returns middleware that rejects requests lacking a valid
// HS256 JWT signed with secret. If secret is empty, the returned
// middleware is a no-op, so callers can install it unconditionally.
func RequireBearer(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" || token == header {
				apierr.WriteError(w, apierr.New(apierr.Unauthorized, "missing bearer token"))
				return
			}

			_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil {
				apierr.WriteError(w, apierr.Wrap(apierr.Unauthorized, "invalid bearer token", err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
