package domain

import "time"

const RoleAdmin = "admin"

// Credentials is the authenticated session capability. It is passed
// explicitly to the components that need it.
type Credentials struct {
	Token     string
	UserID    int
	Name      string
	Role      string
	ExpiresAt time.Time
}

func (c Credentials) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Expired reports whether the token is past its expiry. A zero ExpiresAt never expires.
func (c Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// RealtimeAllowed reports whether the admin progress channel may be opened.
func (c Credentials) RealtimeAllowed(now time.Time) bool {
	return c.Token != "" && c.IsAdmin() && !c.Expired(now)
}
