package service

import (
	"errors"

	"debugsync/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Identity resolves a credential into a verified username. Credential
// validation itself lives in the external auth service; the core trusts
// whatever username a valid token carries.
type Identity interface {
	Verify(token string) (string, error)
}

// JWTIdentity verifies tokens issued by the auth service with a shared
// HMAC secret.
type JWTIdentity struct {
	secret []byte
}

func NewJWTIdentity(secret string) *JWTIdentity {
	return &JWTIdentity{secret: []byte(secret)}
}

func (s *JWTIdentity) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &model.IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*model.IdentityClaims)
	if !ok || !token.Valid || claims.Username == "" {
		return "", ErrInvalidToken
	}

	return claims.Username, nil
}
