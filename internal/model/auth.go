package model

import "github.com/golang-jwt/jwt/v5"

// IdentityClaims is the JWT payload issued by the external auth service.
// The core trusts the username it carries once the signature checks out.
type IdentityClaims struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}
