// Package roles resolves a user's effective application role from a
// per-client role-mapping table.
//
// A client carries an ordered list of (role name, assigned role) pairs.
// Resolution starts from the client's default role and walks the table in
// its configured order: every mapping whose role name the user holds
// overwrites the result, so the last matching entry wins. The table is an
// explicit slice rather than a map to make that precedence deterministic.
package roles

// Mapping translates one external role or group membership into an
// application role assigned by a client.
type Mapping struct {
	// RoleName is the external role/group name to match against the
	// user's role memberships.
	RoleName string `json:"role_name"`

	// Role is the application role assigned when RoleName matches.
	Role string `json:"role"`
}

// Resolve computes the effective application role for a user.
//
// userRoles is the user's set of external role memberships, defaultRole is
// the client's fallback, and mappings is the client's ordered mapping table.
// Matching is exact and case-sensitive. Resolution is deterministic: the
// same inputs always produce the same output.
func Resolve(userRoles []string, defaultRole string, mappings []Mapping) string {
	if len(mappings) == 0 || len(userRoles) == 0 {
		return defaultRole
	}

	held := make(map[string]bool, len(userRoles))
	for _, r := range userRoles {
		held[r] = true
	}

	role := defaultRole
	for _, m := range mappings {
		if held[m.RoleName] {
			role = m.Role
		}
	}
	return role
}
