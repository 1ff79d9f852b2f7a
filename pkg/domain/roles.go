package domain

import "fmt"

// ComponentKind identifies the capability an installed component provides.
type ComponentKind string

// Component kinds. Kernel, ACL and EVM script registry are created with every
// organization; the rest are installed apps.
const (
	KindKernel           ComponentKind = "kernel"
	KindACL              ComponentKind = "acl"
	KindEVMScriptReg     ComponentKind = "evm-script-registry"
	KindAgent            ComponentKind = "agent"
	KindFinance          ComponentKind = "finance"
	KindVoting           ComponentKind = "voting"
	KindTokenManager     ComponentKind = "token-manager"
	KindTokenWrapper     ComponentKind = "token-wrapper"
	KindVotingAggregator ComponentKind = "voting-aggregator"
)

// RoleClass separates roles that perform actions from roles that change settings.
// Execute-class roles may be held by several grantees; manage-class roles are held by one.
type RoleClass uint8

const (
	ClassExecute RoleClass = iota + 1
	ClassManage
)

func (c RoleClass) String() string {
	switch c {
	case ClassExecute:
		return "execute"
	case ClassManage:
		return "manage"
	default:
		return "unknown"
	}
}

// Role is a tagged permission identifier. Each role belongs to exactly one
// component kind, so a role can never be granted on the wrong resource.
type Role uint8

// Roles, grouped by the kind of resource they live on.
const (
	RoleUnknown Role = iota

	RoleAppManager        // kernel
	RoleCreatePermissions // acl

	RoleRegistryAddExecutor // evm script registry
	RoleRegistryManager

	RoleExecute // agent
	RoleRunScript
	RoleTransfer
	RoleDesignateSigner
	RoleAddPresignedHash

	RoleCreatePayments // finance
	RoleExecutePayments
	RoleManagePayments
	RoleChangePeriod
	RoleChangeBudgets

	RoleCreateVotes // voting
	RoleModifyQuorum
	RoleModifySupport

	RoleMint // token manager
	RoleBurn
	RoleIssue
	RoleAssign
	RoleRevokeVestings

	RoleInstallAdmin // token wrapper

	RoleAddPowerSource // voting aggregator
	RoleManagePowerSource
	RoleManageWeights

	roleCount
)

type roleInfo struct {
	name  string
	kind  ComponentKind
	class RoleClass
}

var roleTable = [roleCount]roleInfo{
	RoleAppManager:          {"APP_MANAGER_ROLE", KindKernel, ClassManage},
	RoleCreatePermissions:   {"CREATE_PERMISSIONS_ROLE", KindACL, ClassManage},
	RoleRegistryAddExecutor: {"REGISTRY_ADD_EXECUTOR_ROLE", KindEVMScriptReg, ClassManage},
	RoleRegistryManager:     {"REGISTRY_MANAGER_ROLE", KindEVMScriptReg, ClassManage},
	RoleExecute:             {"EXECUTE_ROLE", KindAgent, ClassExecute},
	RoleRunScript:           {"RUN_SCRIPT_ROLE", KindAgent, ClassExecute},
	RoleTransfer:            {"TRANSFER_ROLE", KindAgent, ClassExecute},
	RoleDesignateSigner:     {"DESIGNATE_SIGNER_ROLE", KindAgent, ClassManage},
	RoleAddPresignedHash:    {"ADD_PRESIGNED_HASH_ROLE", KindAgent, ClassManage},
	RoleCreatePayments:      {"CREATE_PAYMENTS_ROLE", KindFinance, ClassExecute},
	RoleExecutePayments:     {"EXECUTE_PAYMENTS_ROLE", KindFinance, ClassExecute},
	RoleManagePayments:      {"MANAGE_PAYMENTS_ROLE", KindFinance, ClassManage},
	RoleChangePeriod:        {"CHANGE_PERIOD_ROLE", KindFinance, ClassManage},
	RoleChangeBudgets:       {"CHANGE_BUDGETS_ROLE", KindFinance, ClassManage},
	RoleCreateVotes:         {"CREATE_VOTES_ROLE", KindVoting, ClassExecute},
	RoleModifyQuorum:        {"MODIFY_QUORUM_ROLE", KindVoting, ClassManage},
	RoleModifySupport:       {"MODIFY_SUPPORT_ROLE", KindVoting, ClassManage},
	RoleMint:                {"MINT_ROLE", KindTokenManager, ClassExecute},
	RoleBurn:                {"BURN_ROLE", KindTokenManager, ClassExecute},
	RoleIssue:               {"ISSUE_ROLE", KindTokenManager, ClassManage},
	RoleAssign:              {"ASSIGN_ROLE", KindTokenManager, ClassManage},
	RoleRevokeVestings:      {"REVOKE_VESTINGS_ROLE", KindTokenManager, ClassManage},
	RoleInstallAdmin:        {"INSTALL_ADMIN_ROLE", KindTokenWrapper, ClassManage},
	RoleAddPowerSource:      {"ADD_POWER_SOURCE_ROLE", KindVotingAggregator, ClassManage},
	RoleManagePowerSource:   {"MANAGE_POWER_SOURCE_ROLE", KindVotingAggregator, ClassManage},
	RoleManageWeights:       {"MANAGE_WEIGHTS_ROLE", KindVotingAggregator, ClassManage},
}

var rolesByName = func() map[string]Role {
	out := make(map[string]Role, roleCount)
	for r := RoleAppManager; r < roleCount; r++ {
		out[roleTable[r].name] = r
	}
	return out
}()

func (r Role) valid() bool { return r > RoleUnknown && r < roleCount }

func (r Role) String() string {
	if !r.valid() {
		return fmt.Sprintf("ROLE(%d)", uint8(r))
	}
	return roleTable[r].name
}

// Kind returns the component kind the role is defined on.
func (r Role) Kind() ComponentKind {
	if !r.valid() {
		return ""
	}
	return roleTable[r].kind
}

// Class returns whether the role is execute- or manage-class.
func (r Role) Class() RoleClass {
	if !r.valid() {
		return 0
	}
	return roleTable[r].class
}

// ValidFor reports whether the role may be attached to a resource of kind k.
func (r Role) ValidFor(k ComponentKind) bool {
	return r.valid() && roleTable[r].kind == k
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.valid() {
		return nil, fmt.Errorf("role %d is not defined", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	role, ok := ParseRole(string(text))
	if !ok {
		return fmt.Errorf("unknown role %q", string(text))
	}
	*r = role
	return nil
}

// ParseRole looks a role up by its canonical name.
func ParseRole(name string) (Role, bool) {
	r, ok := rolesByName[name]
	return r, ok
}

// RolesFor lists every role defined on kind k in declaration order.
func RolesFor(k ComponentKind) []Role {
	var out []Role
	for r := RoleAppManager; r < roleCount; r++ {
		if roleTable[r].kind == k {
			out = append(out, r)
		}
	}
	return out
}

// Ref is a strongly typed reference to a permissioned resource.
type Ref struct {
	Kind    ComponentKind `json:"kind"`
	Address Address       `json:"address"`
}

func (r Ref) String() string { return fmt.Sprintf("%s@%s", r.Kind, r.Address.Hex()) }

// RoleKey names one (resource, role) slot in an ACL.
type RoleKey struct {
	Resource Ref  `json:"resource"`
	Role     Role `json:"role"`
}

func (k RoleKey) String() string { return fmt.Sprintf("%s/%s", k.Resource, k.Role) }

// PermissionKey is the storage key of an ACL entry.
type PermissionKey struct {
	Resource Address
	Role     Role
}

// String returns "<resource hex>/<ROLE_NAME>", used as a persistence map key.
func (k PermissionKey) String() string {
	return k.Resource.Hex() + "/" + k.Role.String()
}

// MarshalText implements encoding.TextMarshaler so keys work in JSON maps.
func (k PermissionKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PermissionKey) UnmarshalText(text []byte) error {
	s := string(text)
	idx := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("permission key %q: missing separator", s)
	}
	addr, err := ParseAddress(s[:idx])
	if err != nil {
		return err
	}
	role, ok := ParseRole(s[idx+1:])
	if !ok {
		return fmt.Errorf("permission key %q: unknown role", s)
	}
	k.Resource = addr
	k.Role = role
	return nil
}
