package auth

import "strings"

// Role grants access to a class of API operations.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// ParseRole accepts a role name in any case.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	_, ok := roleRanks[role]
	return role, ok
}

// Allows reports whether r may perform operations that require required.
func (r Role) Allows(required Role) bool {
	return roleRanks[r] >= roleRanks[required]
}
