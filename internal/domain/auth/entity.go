// internal/domain/auth/entity.go
package auth

import (
	"database/sql"
	"time"
)

// Role is the single authorization role carried by a principal.
type Role string

const (
	RoleIndividual      Role = "individual"
	RoleCompanyEmployee Role = "company_employee"
	RoleCompanyAdmin    Role = "company_admin"
	RoleSystemAdmin     Role = "system_admin"
)

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	switch r {
	case RoleIndividual, RoleCompanyEmployee, RoleCompanyAdmin, RoleSystemAdmin:
		return true
	}
	return false
}

// Principal is a user identity as read from the user store. The auth
// core never writes principals beyond status/password updates.
type Principal struct {
	ID           int64          `json:"id" db:"id"`
	Email        string         `json:"email" db:"email"`
	FirstName    string         `json:"first_name" db:"first_name"`
	LastName     string         `json:"last_name" db:"last_name"`
	Role         Role           `json:"role" db:"role"`
	CompanyID    sql.NullInt64  `json:"company_id" db:"company_id"`
	PasswordHash string         `json:"-" db:"password_hash"`
	Status       string         `json:"status" db:"status"` // active, inactive, suspended
	LastLogin    sql.NullTime   `json:"last_login" db:"last_login"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
	DeletedAt    sql.NullTime   `json:"-" db:"deleted_at"`
}

// Active reports whether the principal may authenticate.
func (p *Principal) Active() bool {
	return p.Status == "active"
}

// DeviceInfo is client-supplied metadata distinguishing concurrent
// logins. Fingerprint may be empty; a device id is generated then.
type DeviceInfo struct {
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name"`
	IPAddress   string `json:"-"`
	UserAgent   string `json:"-"`
}

// Identity is the resolved per-request identity context attached by
// the authorization gate and consumed by downstream handlers.
type Identity struct {
	Principal *Principal
	SessionID string
	DeviceID  string
	JTI       string
	TokenRef  string // hashed reference to the presented raw token
	ExpiresAt time.Time
}
