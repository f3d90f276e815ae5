// internal/pkg/token/verifier.go
package token

import (
	"fmt"

	xerrors "kvitto-service/internal/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates token signatures and claims. Every failure
// collapses into xerrors.ErrInvalidToken so callers cannot tell which
// check failed; the underlying cause travels inside the wrap for
// internal logging only and must never reach a client response.
type Verifier struct {
	keys       *KeySet
	issuer     string
	accessAud  string
	refreshAud string
}

func NewVerifier(keys *KeySet, issuer, accessAud, refreshAud string) *Verifier {
	return &Verifier{
		keys:       keys,
		issuer:     issuer,
		accessAud:  accessAud,
		refreshAud: refreshAud,
	}
}

// Verify validates signature, issuer, audience, expiry and the type
// claim against expected. The audience is bound to the expected type,
// so a refresh token can never pass an access-context check.
func (v *Verifier) Verify(tokenString string, expected Type) (*Claims, error) {
	if v.keys == nil {
		return nil, fmt.Errorf("%w: verifier has no key set", xerrors.ErrInvalidToken)
	}

	audience := v.accessAud
	if expected == TypeRefresh {
		audience = v.refreshAud
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{v.keys.SigningMethod().Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)

	parsed, err := parser.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != v.keys.SigningMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.keys.VerifyKey(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%w: malformed claim set", xerrors.ErrInvalidToken)
	}

	if claims.TokenType != expected {
		return nil, fmt.Errorf("%w: type mismatch", xerrors.ErrInvalidToken)
	}
	if !claims.VerifyAudience(audience) {
		return nil, fmt.Errorf("%w: audience mismatch", xerrors.ErrInvalidToken)
	}
	if claims.SessionID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing session binding", xerrors.ErrInvalidToken)
	}

	return claims, nil
}

// DecodeUnverified parses claims WITHOUT validating the signature or
// expiry. Diagnostics and expiry inspection only; never use the result
// for an authorization decision.
func (v *Verifier) DecodeUnverified(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return claims, nil
}
