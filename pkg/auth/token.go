package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims carried by caller tokens.
type Claims struct {
	jwt.RegisteredClaims
	PharmacyID string   `json:"pharmacy_id"`
	Roles      []string `json:"roles"`
}

// TokenValidator parses bearer tokens into Principals.
type TokenValidator struct {
	keyFunc jwt.Keyfunc
}

// NewTokenValidator builds a validator over an HMAC secret.
func NewTokenValidator(secret []byte) *TokenValidator {
	return &TokenValidator{
		keyFunc: func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return secret, nil
		},
	}
}

// Validate parses and validates a token string into a Principal.
func (v *TokenValidator) Validate(tokenStr string) (Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token subject is required")
	}

	roles := make([]Role, 0, len(claims.Roles))
	for _, r := range claims.Roles {
		roles = append(roles, Role(r))
	}
	if len(roles) == 0 {
		roles = append(roles, RoleUser)
	}
	return &BasePrincipal{
		ID:         claims.Subject,
		PharmacyID: claims.PharmacyID,
		Roles:      roles,
	}, nil
}

// Mint issues a signed token for the principal. Used by the admin CLI
// and tests; production callers arrive with tokens issued upstream.
func Mint(secret []byte, p Principal) (string, error) {
	roles := make([]string, 0, len(p.GetRoles()))
	for _, r := range p.GetRoles() {
		roles = append(roles, string(r))
	}
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: p.GetID()},
		PharmacyID:       p.GetPharmacyID(),
		Roles:            roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
