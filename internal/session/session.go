// Package session resolves the current user identity from a bearer token.
// The calendar core treats "no session" as "no events": a missing or invalid
// token is not an error at this layer, the caller just scopes to nothing.
package session

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the authenticated identity all event queries are scoped by.
type Session struct {
	UserID string
}

var errBadToken = errors.New("session: invalid token")

// Parse verifies an HS256 token and extracts the user id from the "sub"
// claim (falling back to "user_id" for older tokens).
func Parse(secret []byte, token string) (Session, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errBadToken
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return Session{}, errBadToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Session{}, errBadToken
	}

	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return Session{UserID: sub}, nil
	}
	if uid, ok := claims["user_id"].(string); ok && uid != "" {
		return Session{UserID: uid}, nil
	}
	return Session{}, errBadToken
}

// FromRequest extracts the session from an Authorization: Bearer header.
// The second return is false when there is no usable session.
func FromRequest(secret []byte, r *http.Request) (Session, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return Session{}, false
	}
	s, err := Parse(secret, strings.TrimPrefix(auth, prefix))
	if err != nil {
		return Session{}, false
	}
	return s, true
}

// Token mints an HS256 token for the given user id. Used by tests and
// provisioning tooling; production tokens come from the auth service.
func Token(secret []byte, userID string) (string, error) {
	t := jwt.New(jwt.SigningMethodHS256)
	claims := t.Claims.(jwt.MapClaims)
	claims["sub"] = userID
	return t.SignedString(secret)
}
