// File: internal/infra/http/auth.go
package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"blobsubnet/internal/infra/metrics"
)

type adminCtxKey struct{}

// AdminClaims identifies the bearer as the subnet's admin authority: the
// caller permitted to run SetBlobPending/FinalizeBlob/SetAccountBlobTtlStatus.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuth mints and validates the HS256 bearer tokens gating the
// admin-only ledger operations.
type AdminAuth struct {
	secret []byte
	ttl    time.Duration
}

func NewAdminAuth(secret string, ttl time.Duration) *AdminAuth {
	return &AdminAuth{secret: []byte(secret), ttl: ttl}
}

func (a *AdminAuth) Mint() (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			Subject:   "admin",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AdminAuth) parse(tok string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || !tkn.Valid {
		return nil, errors.New("invalid admin token")
	}
	return claims, nil
}

// RequireAdmin is HTTP middleware gating a handler behind a valid
// "Authorization: Bearer <jwt>" admin token.
func (a *AdminAuth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
			metrics.IncAdminCommand(r.URL.Path, "unauthorized")
			writeError(w, errUnauthorized)
			return
		}
		claims, err := a.parse(strings.TrimSpace(hdr[7:]))
		if err != nil {
			metrics.IncAdminCommand(r.URL.Path, "unauthorized")
			writeError(w, errUnauthorized)
			return
		}
		metrics.IncAdminCommand(r.URL.Path, "authorized")
		ctx := context.WithValue(r.Context(), adminCtxKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isAdminRequest(r *http.Request) bool {
	_, ok := r.Context().Value(adminCtxKey{}).(*AdminClaims)
	return ok
}

var errUnauthorized = errors.New("missing or invalid admin token")
