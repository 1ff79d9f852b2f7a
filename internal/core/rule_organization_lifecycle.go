package core

import (
	"context"
	"fmt"

	"daoforge/pkg/domain"
)

// NewOrganizationLifecycleRule blocks status changes out of the terminal
// finalized and orphaned states and warns when an organization is orphaned.
func NewOrganizationLifecycleRule() domain.Rule {
	return organizationLifecycleRule{}
}

type organizationLifecycleRule struct{}

var (
	organizationStates = toSet(domain.OrgPrepared, domain.OrgFinalized, domain.OrgOrphaned)
	terminalStates     = toSet(domain.OrgFinalized, domain.OrgOrphaned)
)

func toSet(states ...domain.OrganizationStatus) map[domain.OrganizationStatus]struct{} {
	out := make(map[domain.OrganizationStatus]struct{}, len(states))
	for _, s := range states {
		out[s] = struct{}{}
	}
	return out
}

func (organizationLifecycleRule) Name() string { return "organization_lifecycle" }

func (r organizationLifecycleRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityOrganization {
			continue
		}
		after, ok := change.After.(domain.Organization)
		if !ok {
			continue
		}
		if _, valid := organizationStates[after.Status]; !valid {
			res.Violations = append(res.Violations, r.violation(domain.SeverityBlock, after,
				fmt.Sprintf("organization %s is set to invalid state %q", after.Address, after.Status)))
			continue
		}
		before, ok := change.Before.(domain.Organization)
		if !ok {
			continue
		}
		if _, terminal := terminalStates[before.Status]; terminal && after.Status != before.Status {
			res.Violations = append(res.Violations, r.violation(domain.SeverityBlock, after,
				fmt.Sprintf("cannot move organization %s from terminal state %s to %s", after.Address, before.Status, after.Status)))
			continue
		}
		if before.Status == domain.OrgPrepared && after.Status == domain.OrgOrphaned {
			res.Violations = append(res.Violations, r.violation(domain.SeverityWarn, after,
				fmt.Sprintf("organization %s orphaned; its components stay allocated", after.Address)))
		}
	}
	return res, nil
}

func (r organizationLifecycleRule) violation(sev domain.Severity, org domain.Organization, msg string) domain.Violation {
	return domain.Violation{
		Rule:     r.Name(),
		Severity: sev,
		Message:  msg,
		Entity:   domain.EntityOrganization,
		EntityID: org.Address.Hex(),
	}
}
