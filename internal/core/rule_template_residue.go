package core

import (
	"context"
	"fmt"

	"daoforge/pkg/domain"
)

// NewTemplateResidueRule blocks finalizing an organization while template
// still holds or manages any of its permissions.
func NewTemplateResidueRule(template domain.Address) domain.Rule {
	return templateResidueRule{template: template}
}

type templateResidueRule struct {
	template domain.Address
}

func (templateResidueRule) Name() string { return "template_residue" }

func (r templateResidueRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	finalized := make(map[domain.Address]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityOrganization {
			continue
		}
		if org, ok := change.After.(domain.Organization); ok && org.Status == domain.OrgFinalized {
			finalized[org.Address] = struct{}{}
		}
	}
	res := domain.Result{}
	if len(finalized) == 0 {
		return res, nil
	}
	for _, p := range view.ListPermissions() {
		if p.Manager != r.template && !p.GrantedTo(r.template) {
			continue
		}
		c, ok := view.FindComponent(p.Resource)
		if !ok {
			continue
		}
		if _, ok := finalized[c.Org]; !ok {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("template still holds %s on finalized organization %s", p.Key(), c.Org),
			Entity:   domain.EntityPermission,
			EntityID: p.Key().String(),
		})
	}
	return res, nil
}
