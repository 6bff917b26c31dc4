// Package auth issues and validates the signed session tokens handed out at
// login. A token binds a session id to the combat it was issued for; the
// websocket handshake trusts the token instead of a server-side lookup.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid session token")

// Session is the decoded content of a valid token.
type Session struct {
	ID       string
	CombatID string
	Expires  time.Time
}

type claims struct {
	CombatID string `json:"combat_id"`
	jwt.RegisteredClaims
}

// Issue signs a new HS256 session token for combatID, valid for ttl. The
// session id is a fresh uuid.
func Issue(secret string, combatID string, ttl time.Duration) (string, Session, error) {
	now := time.Now().UTC()
	session := Session{
		ID:       uuid.NewString(),
		CombatID: combatID,
		Expires:  now.Add(ttl),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		CombatID: combatID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.Expires),
		},
	})

	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return "", Session{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, session, nil
}

// Verify parses and validates a token string. Expired or tampered tokens
// fail with ErrInvalidToken.
func Verify(secret string, token string) (Session, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return Session{}, ErrInvalidToken
	}
	if c.CombatID == "" || c.Subject == "" || c.ExpiresAt == nil {
		return Session{}, ErrInvalidToken
	}
	return Session{
		ID:       c.Subject,
		CombatID: c.CombatID,
		Expires:  c.ExpiresAt.Time,
	}, nil
}
