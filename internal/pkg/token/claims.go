// internal/pkg/token/claims.go
package token

import (
	"github.com/golang-jwt/jwt/v5"
)

// Type discriminates the two halves of an issued pair. The type claim
// and the audience claim must both match the verification context.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Claims is the signed claim set carried by every kvitto token.
type Claims struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role"`
	CompanyID int64  `json:"company_id,omitempty"`
	DeviceID  string `json:"device_id"`
	SessionID string `json:"session_id"`
	TokenType Type   `json:"type"`
	jwt.RegisteredClaims
}

// VerifyAudience checks if the expected audience is listed in the claims.
func (c *Claims) VerifyAudience(audience string) bool {
	for _, aud := range c.Audience {
		if aud == audience {
			return true
		}
	}
	return false
}
