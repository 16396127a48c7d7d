package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "chatrooms"

type AuthClaims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenVerifier resolves bearer tokens into user ids.
// It holds no mutable state so it is safe for concurrent use.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{secret: secret}
}

// Verify validates the signature and expiry of token and returns the user id it carries.
func (v *TokenVerifier) Verify(token string) (int64, error) {
	if token == "" {
		return 0, ErrMissingToken
	}

	claims := &AuthClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))

	switch {
	case err == nil && parsed.Valid:
		if claims.UserID == 0 {
			return 0, ErrTokenInvalid
		}
		return claims.UserID, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return 0, ErrTokenExpired
	default:
		return 0, ErrTokenInvalid
	}
}

// TokenIssuer signs tokens for the REST sign-in and register endpoints.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue returns a signed token for userID and the time it expires.
func (i *TokenIssuer) Issue(userID int64) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := &AuthClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("SignedString: %w", err)
	}
	return signed, exp, nil
}
