package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSigningKey = []byte("threadline-test-key")

// NewTestToken signs an HS256 token with the given subject and expiry. It is
// meant for tests and fake backends; an empty subject omits the claim.
func NewTestToken(subject string, exp time.Time) string {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		panic(err)
	}
	return signed
}

// NewTestTokenWithUserID is NewTestToken for backends that put the user id in
// a numeric user_id claim instead of sub.
func NewTestTokenWithUserID(userID int64, exp time.Time) string {
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		panic(err)
	}
	return signed
}
