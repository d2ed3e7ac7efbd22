// Package token reads the claims the client needs from an access token.
//
// Signatures are not verified here: the backend is the only party that
// trusts a token, the client only schedules refreshes and derives a
// fallback profile from it.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed = errors.New("malformed token")
	ErrNoSubject = errors.New("token has no subject")
)

// Claims holds the registered claims plus the user_id claim some backends
// emit instead of sub.
type Claims struct {
	UserID any `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

func Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return claims, nil
}

// ExpiresAt returns the exp claim. ok is false when the token carries none.
func ExpiresAt(raw string) (exp time.Time, ok bool, err error) {
	claims, err := Parse(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false, nil
	}
	return claims.ExpiresAt.Time, true, nil
}

// ExpiresWithin reports whether raw expires before now+buffer. Tokens that
// cannot be decoded count as expired; tokens without exp never expire.
func ExpiresWithin(raw string, now time.Time, buffer time.Duration) bool {
	exp, ok, err := ExpiresAt(raw)
	if err != nil {
		return true
	}
	if !ok {
		return false
	}
	return !exp.After(now.Add(buffer))
}

// Subject returns the numeric user id carried by the token, from sub or
// user_id.
func Subject(raw string) (int64, error) {
	claims, err := Parse(raw)
	if err != nil {
		return 0, err
	}
	if claims.Subject != "" {
		if id, err := strconv.ParseInt(claims.Subject, 10, 64); err == nil {
			return id, nil
		}
	}
	switch v := claims.UserID.(type) {
	case float64:
		if v > 0 && v == float64(int64(v)) {
			return int64(v), nil
		}
	case json.Number:
		if id, err := v.Int64(); err == nil {
			return id, nil
		}
	case string:
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			return id, nil
		}
	}
	return 0, ErrNoSubject
}
