// internal/middleware/helpers.go
package middleware

import (
	"kvitto-service/internal/domain/auth"

	"github.com/gin-gonic/gin"
)

// GetIdentity returns the identity placed on the context by Auth().
func GetIdentity(c *gin.Context) (*auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	ident, ok := v.(*auth.Identity)
	return ident, ok
}

// MustGetIdentity is for handlers behind Auth(); it panics when the
// gate did not run, which is a wiring bug, not a runtime condition.
func MustGetIdentity(c *gin.Context) *auth.Identity {
	ident, ok := GetIdentity(c)
	if !ok {
		panic("middleware: identity missing; route not behind Auth()")
	}
	return ident
}
