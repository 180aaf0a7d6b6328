package types

import (
	"sort"
	"strings"
	"time"
)

// RoleScope is one grant on an API key.
type RoleScope string

const (
	RolePlanner  RoleScope = "planner"
	RoleAgent    RoleScope = "agent"
	RoleReviewer RoleScope = "reviewer"
	RoleOperator RoleScope = "operator"
	RoleAdmin    RoleScope = "admin"
)

// ValidRoleScope reports whether r is a known role.
func ValidRoleScope(r RoleScope) bool {
	switch r {
	case RolePlanner, RoleAgent, RoleReviewer, RoleOperator, RoleAdmin:
		return true
	}
	return false
}

// RoleScopes is a normalized set of role grants.
type RoleScopes []RoleScope

// ParseRoleScopes parses a comma-delimited scope list ("planner,agent").
func ParseRoleScopes(s string) (RoleScopes, error) {
	var out RoleScopes
	seen := make(map[RoleScope]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r := RoleScope(strings.ToLower(part))
		if !ValidRoleScope(r) {
			return nil, NewError(ErrAuthDenied, "unknown role scope %q", part)
		}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// String renders the storage encoding ("agent,planner").
func (rs RoleScopes) String() string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

// Has reports whether the set grants role r. Admin implies every role.
func (rs RoleScopes) Has(r RoleScope) bool {
	for _, have := range rs {
		if have == r || have == RoleAdmin {
			return true
		}
	}
	return false
}

// APIKeyStatus enumerates key lifecycle states.
type APIKeyStatus string

const (
	KeyActive  APIKeyStatus = "active"
	KeyRevoked APIKeyStatus = "revoked"
)

// APIKey is a stored credential. Only the SHA-256 hash of the raw key is
// persisted; Prefix (the first characters of the raw key) exists for lookup
// and operator display. ProjectID empty means the key spans all projects and
// may only be issued with the admin role.
type APIKey struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"project_id,omitempty"`
	Name      string       `json:"name"`
	Prefix    string       `json:"prefix"`
	KeyHash   string       `json:"-"`
	Scopes    RoleScopes   `json:"scopes"`
	Status    APIKeyStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	RevokedAt *time.Time   `json:"revoked_at,omitempty"`
}

// Identity is the authenticated caller attached to a request context after
// key verification.
type Identity struct {
	KeyID     string     `json:"key_id"`
	Name      string     `json:"name"`
	ProjectID string     `json:"project_id,omitempty"`
	Scopes    RoleScopes `json:"scopes"`
}

// Allows reports whether the identity grants role r.
func (id *Identity) Allows(r RoleScope) bool {
	return id.Scopes.Has(r)
}

// CanAccessProject reports whether the identity may touch projectID.
// Keys without a project binding span all projects.
func (id *Identity) CanAccessProject(projectID string) bool {
	return id.ProjectID == "" || id.ProjectID == projectID
}
