package auth

import (
	"fmt"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const rbacModel = `[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// RBAC answers permission checks for a role using a casbin enforcer loaded
// from RolePermissions and RoleInheritance.
type RBAC struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
}

func NewRBAC() (*RBAC, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("load rbac model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}
	for role, perms := range RolePermissions {
		for _, perm := range perms {
			obj, act := splitPermission(perm)
			if _, err := enforcer.AddPolicy(role, obj, act); err != nil {
				return nil, err
			}
		}
	}
	for role, parents := range RoleInheritance {
		for _, parent := range parents {
			if _, err := enforcer.AddGroupingPolicy(role, parent); err != nil {
				return nil, err
			}
		}
	}
	return &RBAC{enforcer: enforcer}, nil
}

func (r *RBAC) Allowed(role, permission string) (bool, error) {
	if role == "" {
		return false, nil
	}
	obj, act := splitPermission(permission)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enforcer.Enforce(role, obj, act)
}

func splitPermission(permission string) (string, string) {
	obj, act, found := strings.Cut(permission, ".")
	if !found {
		return permission, "*"
	}
	return obj, act
}
