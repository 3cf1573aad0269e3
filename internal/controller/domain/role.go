package domain

import (
	"errors"
	"sort"
)

// Role is a service responsibility tag carried by a node.
type Role string

const (
	RoleShadow          Role = "shadow"
	RoleLoadBalancer    Role = "load_balancer"
	RoleDBMaster        Role = "db_master"
	RoleDBSlave         Role = "db_slave"
	RoleZookeeper       Role = "zookeeper"
	RoleMemcache        Role = "memcache"
	RoleTaskQueueMaster Role = "taskqueue_master"
	RoleTaskQueueSlave  Role = "taskqueue_slave"
	RoleLogin           Role = "login"
	RoleSearch          Role = "search"
	RoleAppEngine       Role = "appengine"

	// RoleOpen marks a node with no assigned roles. It never coexists with another role.
	RoleOpen Role = "open"
)

var ErrUnknownRole = errors.New("unknown role")

// knownRoles is the whitelist used when scanning role strings.
var knownRoles = map[Role]struct{}{
	RoleShadow:          {},
	RoleLoadBalancer:    {},
	RoleDBMaster:        {},
	RoleDBSlave:         {},
	RoleZookeeper:       {},
	RoleMemcache:        {},
	RoleTaskQueueMaster: {},
	RoleTaskQueueSlave:  {},
	RoleLogin:           {},
	RoleSearch:          {},
	RoleAppEngine:       {},
	RoleOpen:            {},
}

// protectedRoles are never dropped from a node by reconciliation.
var protectedRoles = map[Role]struct{}{
	RoleShadow:   {},
	RoleDBMaster: {},
}

// IsKnownRole reports whether r is part of the role vocabulary.
func IsKnownRole(r Role) bool {
	_, ok := knownRoles[r]
	return ok
}

// IsProtectedRole reports whether r may only be removed explicitly.
func IsProtectedRole(r Role) bool {
	_, ok := protectedRoles[r]
	return ok
}

// ParseRole validates a role tag.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !IsKnownRole(r) {
		return "", ErrUnknownRole
	}
	return r, nil
}

// SortRoles orders roles alphabetically with appengine last.
func SortRoles(roles []Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i] == RoleAppEngine || roles[j] == RoleAppEngine {
			return roles[j] == RoleAppEngine && roles[i] != RoleAppEngine
		}
		return roles[i] < roles[j]
	})
}

// RoleStrings converts roles to plain strings.
func RoleStrings(roles []Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

// DiffRoles returns the roles in want but not in have, and the roles in have but not in want.
func DiffRoles(want, have []Role) (toStart, toStop []Role) {
	wantSet := make(map[Role]struct{}, len(want))
	for _, r := range want {
		wantSet[r] = struct{}{}
	}
	haveSet := make(map[Role]struct{}, len(have))
	for _, r := range have {
		haveSet[r] = struct{}{}
	}
	for _, r := range want {
		if _, ok := haveSet[r]; !ok && r != RoleOpen {
			toStart = append(toStart, r)
		}
	}
	for _, r := range have {
		if _, ok := wantSet[r]; !ok && r != RoleOpen {
			toStop = append(toStop, r)
		}
	}
	SortRoles(toStart)
	SortRoles(toStop)
	return toStart, toStop
}
