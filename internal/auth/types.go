package auth

import (
	"strings"
	"time"
)

// Account and role-assignment statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Session creation types.
const (
	CreatedByLogin   = "login"
	CreatedByRefresh = "refresh"
)

// Authentication methods reported by the dual-strategy authenticator.
const (
	MethodLocal     = "local"
	MethodDirectory = "directory"
)

// User is a credential record owned by the external store. PasswordHash is
// empty for directory-only accounts.
type User struct {
	Username     string
	DisplayName  string
	Email        string
	PasswordHash string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the account may authenticate.
func (u *User) Active() bool {
	return u != nil && u.Status == StatusActive
}

// RoleAssignment grants a role within an entity scope. Only assignments with
// status active contribute to authorization claims.
type RoleAssignment struct {
	Role   string
	Entity string
	Status string
}

// Entity is a tenant/application that partitions role assignments and
// sessions.
type Entity struct {
	Code      string
	Name      string
	Status    string
	CreatedAt time.Time
}

// Session is a persisted refresh session. TokenHash is the hex SHA-256
// digest of the opaque token value; the plain value is returned to the
// caller exactly once at creation and never stored.
type Session struct {
	ID         string
	TokenHash  string
	Username   string
	Entity     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt *time.Time
	Revoked    bool
	RevokedAt  *time.Time
	CreatedBy  string
	IP         string
	UserAgent  string
	Device     string
}

// ActiveAt reports whether the session may still be used at the given time.
func (s *Session) ActiveAt(now time.Time) bool {
	return s != nil && !s.Revoked && s.ExpiresAt.After(now)
}

// ClientMeta carries request attribution recorded on each session.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// DeviceLabel derives a coarse human-readable device name from the user
// agent. Best effort; unrecognized agents fall back to "unknown".
func (m ClientMeta) DeviceLabel() string {
	ua := strings.ToLower(m.UserAgent)
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		return "ios"
	case strings.Contains(ua, "android"):
		return "android"
	case strings.Contains(ua, "windows"):
		return "windows"
	case strings.Contains(ua, "macintosh"), strings.Contains(ua, "mac os"):
		return "macos"
	case strings.Contains(ua, "linux"):
		return "linux"
	case strings.Contains(ua, "curl"), strings.Contains(ua, "wget"), strings.Contains(ua, "httpie"):
		return "cli"
	default:
		return "unknown"
	}
}

// NormalizeUsername lowercases and trims a username. All lookups and session
// rows use the normalized form.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ActiveRoles returns the role names of the active assignments, optionally
// filtered to one entity scope. Duplicates are removed; order follows the
// input.
func ActiveRoles(assignments []RoleAssignment, entity string) []string {
	seen := make(map[string]struct{}, len(assignments))
	var roles []string
	for _, a := range assignments {
		if a.Status != StatusActive {
			continue
		}
		if entity != "" && a.Entity != entity {
			continue
		}
		if _, ok := seen[a.Role]; ok {
			continue
		}
		seen[a.Role] = struct{}{}
		roles = append(roles, a.Role)
	}
	return roles
}
