package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretSize is the shortest admin secret accepted for HS256.
const MinSecretSize = 32

// KeySet signs admin tokens and resolves verification keys.
type KeySet interface {
	// Sign creates a signed token with the current key.
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	// KeyFunc returns the key for verification based on the token header.
	KeyFunc() jwt.Keyfunc
}

// HMACKeySet holds a single shared HS256 secret, as configured by
// ADMIN_JWT_SECRET.
type HMACKeySet struct {
	secret []byte
}

// NewHMACKeySet creates a key set from secret.
func NewHMACKeySet(secret []byte) (*HMACKeySet, error) {
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("admin secret must be at least %d bytes, got %d", MinSecretSize, len(secret))
	}
	return &HMACKeySet{secret: append([]byte(nil), secret...)}, nil
}

// Sign implements KeySet.
func (ks *HMACKeySet) Sign(_ context.Context, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ks.secret)
}

// KeyFunc implements KeySet. Only HS256 is accepted.
func (ks *HMACKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ks.secret, nil
	}
}
