package trigger

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier validates push trigger tokens. Tokens are HS256 JWTs signed
// with a shared secret and must carry scope "push".
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for the given shared secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

type pushClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Verify checks the token signature, expiry and scope. Any failure is
// reported as ErrUnauthorized with the underlying cause attached.
func (v *TokenVerifier) Verify(tokenString string) error {
	claims := &pushClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	if claims.Scope != "push" {
		return fmt.Errorf("%w: token scope %q is not allowed to push", ErrUnauthorized, claims.Scope)
	}

	return nil
}
