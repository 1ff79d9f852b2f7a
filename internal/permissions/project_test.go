package permissions

import (
	"errors"
	"testing"

	"daoforge/pkg/domain"
)

func TestProjectRejectsStructuralErrors(t *testing.T) {
	finance := domain.Ref{Kind: domain.KindFinance, Address: addr("finance")}
	council := addr("council")
	cases := map[string]struct {
		seed []domain.Permission
		ops  []Operation
		want error
	}{
		"create twice": {
			ops: []Operation{
				{Kind: OpCreate, Resource: finance, Role: domain.RoleCreatePayments, Entity: council, Manager: council},
				{Kind: OpCreate, Resource: finance, Role: domain.RoleCreatePayments, Entity: council, Manager: council},
			},
			want: domain.ErrACLExistentManager,
		},
		"wrong kind": {
			ops:  []Operation{{Kind: OpCreate, Resource: finance, Role: domain.RoleMint, Entity: council, Manager: council}},
			want: domain.ErrACLRoleKindMismatch,
		},
		"grant missing": {
			ops: []Operation{{Kind: OpGrant, Resource: finance, Role: domain.RoleCreatePayments, Entity: council}},
		},
		"manage shared": {
			ops: []Operation{
				{Kind: OpCreate, Resource: finance, Role: domain.RoleManagePayments, Entity: council, Manager: council},
				{Kind: OpGrant, Resource: finance, Role: domain.RoleManagePayments, Entity: addr("other")},
			},
		},
		"unknown kind": {
			ops: []Operation{{Kind: OpKind(42), Resource: finance, Role: domain.RoleCreatePayments}},
		},
	}
	for name, tc := range cases {
		_, err := Project(tc.seed, tc.ops)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}
}

func TestProjectRevokeAndGrantIdempotent(t *testing.T) {
	agent := domain.Ref{Kind: domain.KindAgent, Address: addr("agent")}
	a, b := addr("a"), addr("b")
	grants, err := Project(nil, []Operation{
		{Kind: OpCreate, Resource: agent, Role: domain.RoleExecute, Entity: a, Manager: a},
		{Kind: OpGrant, Resource: agent, Role: domain.RoleExecute, Entity: b},
		{Kind: OpGrant, Resource: agent, Role: domain.RoleExecute, Entity: b},
		{Kind: OpRevoke, Resource: agent, Role: domain.RoleExecute, Entity: a},
		{Kind: OpSetManager, Resource: agent, Role: domain.RoleExecute, Manager: b},
	})
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if len(grants) != 1 || grants[0].Grantee != b || grants[0].Manager != b {
		t.Fatalf("unexpected grants %+v", grants)
	}
}

func TestOperationStrings(t *testing.T) {
	agent := domain.Ref{Kind: domain.KindAgent, Address: addr("agent")}
	for _, op := range []Operation{
		{Kind: OpCreate, Resource: agent, Role: domain.RoleExecute},
		{Kind: OpGrant, Resource: agent, Role: domain.RoleExecute},
		{Kind: OpRevoke, Resource: agent, Role: domain.RoleExecute},
		{Kind: OpSetManager, Resource: agent, Role: domain.RoleExecute},
	} {
		if op.String() == "" || op.Kind.String() == "" {
			t.Fatalf("empty string for %v", op.Kind)
		}
	}
	if OpKind(9).String() != "op(9)" {
		t.Fatalf("unexpected unknown op string %q", OpKind(9).String())
	}
}
