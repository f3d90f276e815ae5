// internal/pkg/token/issuer.go
package token

import (
	"fmt"
	"strconv"
	"time"

	"kvitto-service/internal/domain/auth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Pair is the result of one issuance: two signed tokens sharing a
// session id and device id, differing in type, audience and expiry.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessJTI        string
	RefreshJTI       string
	SessionID        string
	DeviceID         string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Issuer mints access/refresh pairs. Issuance is a pure signing
// operation; it performs no storage writes.
type Issuer struct {
	keys       *KeySet
	issuer     string
	accessAud  string
	refreshAud string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func NewIssuer(keys *KeySet, issuer, accessAud, refreshAud string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		keys:       keys,
		issuer:     issuer,
		accessAud:  accessAud,
		refreshAud: refreshAud,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
	}
}

// IssuePair mints a fresh pair for a new login. A new session id is
// always generated; the device id comes from the client fingerprint
// when present, otherwise a fresh one is generated for this login.
func (i *Issuer) IssuePair(p *auth.Principal, device auth.DeviceInfo) (*Pair, error) {
	sessionID := ulid.Make().String()
	deviceID := device.Fingerprint
	if deviceID == "" {
		deviceID = ulid.Make().String()
	}
	return i.mint(p, sessionID, deviceID)
}

// RotatePair mints a new pair during refresh. The session id and
// device id are inherited so session-level revocation covers the
// entire chain regardless of which token is presented.
func (i *Issuer) RotatePair(p *auth.Principal, sessionID, deviceID string) (*Pair, error) {
	if sessionID == "" || deviceID == "" {
		return nil, fmt.Errorf("rotation requires existing session and device ids")
	}
	return i.mint(p, sessionID, deviceID)
}

func (i *Issuer) mint(p *auth.Principal, sessionID, deviceID string) (*Pair, error) {
	if i.keys == nil {
		return nil, fmt.Errorf("token issuer has no key set")
	}

	now := time.Now()
	accessExp := now.Add(i.AccessTTL)
	refreshExp := now.Add(i.RefreshTTL)

	base := Claims{
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Role:      string(p.Role),
		DeviceID:  deviceID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if p.CompanyID.Valid {
		base.CompanyID = p.CompanyID.Int64
	}

	access := base
	access.TokenType = TypeAccess
	access.Audience = jwt.ClaimStrings{i.accessAud}
	access.ExpiresAt = jwt.NewNumericDate(accessExp)
	access.ID = ulid.Make().String()

	refresh := base
	refresh.TokenType = TypeRefresh
	refresh.Audience = jwt.ClaimStrings{i.refreshAud}
	refresh.ExpiresAt = jwt.NewNumericDate(refreshExp)
	refresh.ID = ulid.Make().String()

	accessToken, err := jwt.NewWithClaims(i.keys.SigningMethod(), access).SignedString(i.keys.SignKey())
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refreshToken, err := jwt.NewWithClaims(i.keys.SigningMethod(), refresh).SignedString(i.keys.SignKey())
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &Pair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessJTI:        access.ID,
		RefreshJTI:       refresh.ID,
		SessionID:        sessionID,
		DeviceID:         deviceID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}
