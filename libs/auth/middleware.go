package auth

import (
	"context"
	"net/http"
	"strings"
)

// UserIDHeader carries the verified subject to handlers. Any client-supplied
// value is stripped before verification.
const UserIDHeader = "X-User-Id"

type ctxKey int

const ctxKeyClaims ctxKey = iota

// Verifier checks bearer tokens. RS256 tokens with a kid are verified against
// the JWKS endpoint when one is configured; everything else against Secret.
type Verifier struct {
	Secret string
	JWKS   *JWKSClient
}

func (v Verifier) Verify(raw string) (*Claims, error) {
	if v.JWKS != nil {
		h, err := ParseHeader(raw)
		if err != nil {
			return nil, err
		}
		if h.Alg == "RS256" && h.Kid != "" {
			pub, err := v.JWKS.Get(h.Kid)
			if err != nil {
				return nil, ErrInvalidToken
			}
			return VerifyRS256(raw, pub)
		}
	}
	return ParseAndVerifyHS256(raw, v.Secret)
}

// RequireAuth rejects requests without a valid bearer token and exposes the
// subject through UserIDHeader and ClaimsFromContext.
func RequireAuth(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Del(UserIDHeader)
			raw, ok := bearer(r)
			if !ok {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			claims, err := v.Verify(raw)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			r.Header.Set(UserIDHeader, claims.Sub)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyClaims, claims)))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(*Claims)
	return c, ok
}

func bearer(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return tok, tok != ""
}
