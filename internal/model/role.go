package model

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleAdmin             Role = "admin"
	RoleResearcher        Role = "researcher"
	RoleGroupLeader       Role = "group_leader"
	RoleInternalEvaluator Role = "internal_evaluator"
	RoleExternalEvaluator Role = "external_evaluator"
)

var knownRoles = map[Role]struct{}{
	RoleAdmin:             {},
	RoleResearcher:        {},
	RoleGroupLeader:       {},
	RoleInternalEvaluator: {},
	RoleExternalEvaluator: {},
}

// Evaluators groups both evaluator roles, which share most permissions.
var Evaluators = []Role{RoleInternalEvaluator, RoleExternalEvaluator}

func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownRoles[role]; !ok {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return role, nil
}

func (r Role) Valid() bool {
	_, ok := knownRoles[r]
	return ok
}

// Authorize reports whether identity holds one of the allowed roles.
// An empty allow-list admits nobody.
func Authorize(identity Identity, allowed ...Role) bool {
	for _, role := range allowed {
		if identity.Role == role {
			return true
		}
	}
	return false
}
