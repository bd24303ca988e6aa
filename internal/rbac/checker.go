package rbac

import (
	"context"
	"strings"
)

type Checker struct {
	RolePermissions map[string][]string
}

func NewChecker(rp map[string][]string) *Checker {
	if rp == nil {
		rp = RolePermissions
	}
	return &Checker{RolePermissions: rp}
}

func (c *Checker) Has(role, perm string) bool {
	perms, ok := c.RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == "*" || matchPerm(p, perm) {
			return true
		}
	}
	return false
}

func (c *Checker) Any(role string, perms ...string) bool {
	for _, p := range perms {
		if c.Has(role, p) {
			return true
		}
	}
	return false
}

func matchPerm(pattern, perm string) bool {
	if pattern == "*" || pattern == perm {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(perm, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

// ---- identity in context ----

// Identity is what the JWT layer attaches for downstream handlers: the user
// subject plus the membership the token was issued against.
type Identity struct {
	Subject      string
	Role         string
	MembershipID string
	ClubID       string
}

type ctxKey struct{}

var ctxKeyIdentity = ctxKey{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

func IdentityFromContext(ctx context.Context) Identity {
	if v := ctx.Value(ctxKeyIdentity); v != nil {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}
}

func RoleFromContext(ctx context.Context) string {
	return IdentityFromContext(ctx).Role
}
