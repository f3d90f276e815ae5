// internal/pkg/session/types.go
package session

import "time"

// Record is the registry entry correlating one login: one principal on
// one device under one session id. All tokens minted for that login,
// including rotated pairs, reference the same session id.
type Record struct {
	SessionID        string    `json:"session_id"`
	PrincipalID      int64     `json:"principal_id"`
	DeviceID         string    `json:"device_id"`
	DeviceName       string    `json:"device_name,omitempty"`
	IPAddress        string    `json:"ip_address,omitempty"`
	UserAgent        string    `json:"user_agent,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	LastSeenAt       time.Time `json:"last_seen_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
