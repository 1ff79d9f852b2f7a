package domain

import "testing"

func TestRolesBelongToExactlyOneKind(t *testing.T) {
	kinds := []ComponentKind{
		KindKernel, KindACL, KindEVMScriptReg, KindAgent, KindFinance,
		KindVoting, KindTokenManager, KindTokenWrapper, KindVotingAggregator,
	}
	seen := map[Role]ComponentKind{}
	for _, k := range kinds {
		for _, r := range RolesFor(k) {
			if prev, ok := seen[r]; ok {
				t.Fatalf("role %s listed for %s and %s", r, prev, k)
			}
			seen[r] = k
			if !r.ValidFor(k) {
				t.Fatalf("role %s should be valid for %s", r, k)
			}
		}
	}
	if len(seen) != int(roleCount)-1 {
		t.Fatalf("expected every role to be assigned a kind, got %d of %d", len(seen), int(roleCount)-1)
	}
	if RoleExecute.ValidFor(KindFinance) {
		t.Fatalf("agent role must not be valid on finance")
	}
}

func TestRoleClasses(t *testing.T) {
	cases := map[Role]RoleClass{
		RoleExecute:        ClassExecute,
		RoleRunScript:      ClassExecute,
		RoleCreateVotes:    ClassExecute,
		RoleMint:           ClassExecute,
		RoleAppManager:     ClassManage,
		RoleModifyQuorum:   ClassManage,
		RoleManagePayments: ClassManage,
	}
	for role, want := range cases {
		if got := role.Class(); got != want {
			t.Fatalf("%s: expected class %s, got %s", role, want, got)
		}
	}
}

func TestRoleTextRoundTrip(t *testing.T) {
	text, err := RoleCreatePermissions.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(text) != "CREATE_PERMISSIONS_ROLE" {
		t.Fatalf("unexpected role name %s", text)
	}
	var r Role
	if err := r.UnmarshalText(text); err != nil || r != RoleCreatePermissions {
		t.Fatalf("expected round trip, got %v (%v)", r, err)
	}
	if err := r.UnmarshalText([]byte("NOPE_ROLE")); err == nil {
		t.Fatalf("expected unknown role error")
	}
	if _, err := RoleUnknown.MarshalText(); err == nil {
		t.Fatalf("expected error marshalling unknown role")
	}
}

func TestPermissionKeyText(t *testing.T) {
	key := PermissionKey{Resource: PrincipalAddress("finance"), Role: RoleChangeBudgets}
	text, err := key.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded PermissionKey
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != key {
		t.Fatalf("expected %v, got %v", key, decoded)
	}
}
