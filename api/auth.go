/*
auth.go - Bearer-token identity resolution

PURPOSE:
  The engine trusts an already-resolved Identity; this file is the
  collaborator that resolves it. Requests carry a signed JWT (HS256) whose
  claims name the user, role, and office sub-role. The middleware verifies
  the signature, parses the claims through the closed role enumeration,
  and stashes the Identity in the request context.

TOKEN SHAPE:
  { "sub": "user-1", "role": "office", "subRole": "SUPER_ADMIN", "exp": ... }

  Unknown roles or sub-roles are rejected at the boundary - nothing
  downstream compares raw strings.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/warp/fieldwork-engine/fieldwork"
)

type ctxKey int

const identityKey ctxKey = iota

// sessionClaims is the JWT payload issued by the session layer.
type sessionClaims struct {
	Role    string `json:"role"`
	SubRole string `json:"subRole,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies bearer tokens and resolves identities.
type Authenticator struct {
	Secret []byte
}

// Issue signs a token for an identity. Used by tests and the dev seeder.
func (a *Authenticator) Issue(id fieldwork.Identity, ttl time.Duration) (string, error) {
	claims := sessionClaims{
		Role:    string(id.Role),
		SubRole: string(id.OfficeSubRole),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id.UserID),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

// Middleware rejects requests without a valid bearer token and resolves
// the acting Identity for everything downstream.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		id, err := a.resolve(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token", err)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) resolve(raw string) (fieldwork.Identity, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.Secret, nil
	})
	if err != nil {
		return fieldwork.Identity{}, err
	}
	if !token.Valid {
		return fieldwork.Identity{}, fmt.Errorf("token invalid")
	}

	role, err := fieldwork.ParseRole(claims.Role)
	if err != nil {
		return fieldwork.Identity{}, err
	}
	subRole, err := fieldwork.ParseOfficeSubRole(claims.SubRole)
	if err != nil {
		return fieldwork.Identity{}, err
	}

	return fieldwork.Identity{
		UserID:        fieldwork.UserID(claims.Subject),
		Role:          role,
		OfficeSubRole: subRole,
	}, nil
}

// identityFrom pulls the resolved identity out of the request context.
func identityFrom(r *http.Request) (fieldwork.Identity, bool) {
	id, ok := r.Context().Value(identityKey).(fieldwork.Identity)
	return id, ok
}
