package auth

import (
	"net/http"
	"strings"
)

// Rule maps a path prefix to the role it needs. WriteRole applies to
// non-read methods; an empty WriteRole means ReadRole for every method.
// Public rules bypass role checks entirely.
type Rule struct {
	Prefix    string
	ReadRole  Role
	WriteRole Role
	Public    bool
}

// Policy resolves the role a request needs. Rules are matched in order, so
// narrower prefixes go first.
type Policy struct {
	exempt map[string]struct{}
	rules  []Rule
}

var defaultRules = []Rule{
	{Prefix: "/api/v1/ingest", Public: true},
	{Prefix: "/api/v1/scenarios/", ReadRole: RoleViewer, WriteRole: RoleOperator},
	{Prefix: "/api/v1/thresholds/", ReadRole: RoleViewer, WriteRole: RoleAdmin},
	{Prefix: "/api/v1/alarms/export.", ReadRole: RoleOperator},
	{Prefix: "/api/v1/alarms/", ReadRole: RoleViewer},
	{Prefix: "/api/v1/monitoring/", ReadRole: RoleViewer},
	{Prefix: "/api/", ReadRole: RoleViewer, WriteRole: RoleOperator},
}

// NewDefaultPolicy builds the plantwatch route policy. exemptPaths match
// exactly and skip authentication as well as role checks.
func NewDefaultPolicy(exemptPaths []string, extra []Rule) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	rules := make([]Rule, 0, len(extra)+len(defaultRules))
	rules = append(rules, extra...)
	rules = append(rules, defaultRules...)
	return Policy{exempt: set, rules: rules}
}

// IsExempt reports whether r skips authentication.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	_, ok := p.exempt[r.URL.Path]
	return ok
}

// RequiredRole resolves the role r needs. ok is false for public routes and
// paths outside the API.
func (p Policy) RequiredRole(r *http.Request) (role Role, ok bool) {
	if r == nil {
		return "", false
	}
	for _, rule := range p.rules {
		if !strings.HasPrefix(r.URL.Path, rule.Prefix) {
			continue
		}
		if rule.Public {
			return "", false
		}
		if rule.WriteRole != "" && !isRead(r.Method) {
			return rule.WriteRole, true
		}
		return rule.ReadRole, true
	}
	return "", false
}

func isRead(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
