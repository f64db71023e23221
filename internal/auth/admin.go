package auth

import "strings"

// AdminCheck decides whether a caller may use the admin surface. It is
// policy configuration injected from the environment, not core logic.
type AdminCheck func(callerID string, roles []string) bool

// NewAdminCheck builds a predicate admitting callers that either carry
// the admin role or appear in the comma-separated id allowlist.
func NewAdminCheck(allowlist string) AdminCheck {
	allowed := make(map[string]struct{})
	for _, id := range strings.Split(allowlist, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			allowed[id] = struct{}{}
		}
	}
	return func(callerID string, roles []string) bool {
		if _, ok := allowed[callerID]; ok {
			return true
		}
		for _, role := range roles {
			if strings.EqualFold(role, RoleAdmin) {
				return true
			}
		}
		return false
	}
}
