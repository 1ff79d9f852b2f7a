package core

import (
	"context"
	"fmt"

	"daoforge/pkg/domain"
)

// NewPermissionIntegrityRule blocks ACL entries without a manager, manage-class
// roles with several grantees, and roles attached to the wrong kind of resource.
func NewPermissionIntegrityRule() domain.Rule {
	return permissionIntegrityRule{}
}

type permissionIntegrityRule struct{}

func (permissionIntegrityRule) Name() string { return "permission_integrity" }

// Evaluate checks each touched permission as it stands at commit, not as an
// intermediate write left it.
func (r permissionIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	seen := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityPermission || change.Action == domain.ActionDelete {
			continue
		}
		if _, dup := seen[change.Key]; dup {
			continue
		}
		seen[change.Key] = struct{}{}
		touched, ok := change.After.(domain.Permission)
		if !ok {
			continue
		}
		p, ok := view.FindPermission(touched.Key())
		if !ok {
			continue
		}
		if msg := r.check(view, p); msg != "" {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  msg,
				Entity:   domain.EntityPermission,
				EntityID: change.Key,
			})
		}
	}
	return res, nil
}

func (permissionIntegrityRule) check(view domain.RuleView, p domain.Permission) string {
	if p.Manager.IsZero() {
		return fmt.Sprintf("%s has no manager", p.Key())
	}
	if p.Role.Class() == domain.ClassManage && len(p.Grantees) > 1 {
		return fmt.Sprintf("%s is manage-class but has %d grantees", p.Key(), len(p.Grantees))
	}
	c, ok := view.FindComponent(p.Resource)
	if !ok {
		return fmt.Sprintf("%s targets an unknown resource", p.Key())
	}
	if !p.Role.ValidFor(c.Kind) {
		return fmt.Sprintf("%s is not a %s role", p.Key(), c.Kind)
	}
	return ""
}
