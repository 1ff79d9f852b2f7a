// Package domain defines the ledger entities, value types, and rule
// evaluation primitives used by daoforge.
package domain

import (
	"fmt"
	"sort"
	"time"
)

// EntityType identifies the type of record stored on the ledger.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	EntityOrganization   EntityType = "organization"
	EntityComponent      EntityType = "component"
	EntityToken          EntityType = "token"
	EntityPermission     EntityType = "permission"
	EntityName           EntityType = "name"
	EntityCachedInstance EntityType = "cached_instance"
	EntityCachedToken    EntityType = "cached_token"
	EntityAsset          EntityType = "asset"
	EntityAccount        EntityType = "account"
)

// Action describes the type of change applied to an entity.
type Action string

// Change actions enumerate supported mutations captured per transaction.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes a mutation applied within a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Key    string
	Before any
	After  any
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return fmt.Sprintf("transaction blocked by rules: %s: %s", v.Rule, v.Message)
		}
	}
	return "transaction blocked by rules"
}

// OrganizationStatus tracks where an organization sits in the two-phase flow.
type OrganizationStatus string

const (
	OrgPrepared  OrganizationStatus = "prepared"
	OrgFinalized OrganizationStatus = "finalized"
	// OrgOrphaned marks a prepared organization whose cache entry was superseded
	// before finalize. Its components stay allocated but nothing references them.
	OrgOrphaned OrganizationStatus = "orphaned"
)

// Organization is the root governed entity. Its address is the kernel address.
type Organization struct {
	Address       Address            `json:"address"`
	ACL           Address            `json:"acl"`
	Registry      Address            `json:"evm_script_registry"`
	RecoveryVault Address            `json:"recovery_vault"`
	Creator       Address            `json:"creator"`
	Status        OrganizationStatus `json:"status"`
	Name          string             `json:"name,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Phase is the logical install time of a component.
type Phase uint8

const (
	PhaseOrganization Phase = iota
	PhasePrepare
	PhaseFinalize
)

// Component is a deployed app instance owned by an organization.
type Component struct {
	Address     Address         `json:"address"`
	Org         Address         `json:"org"`
	Kind        ComponentKind   `json:"kind"`
	AppID       string          `json:"app_id,omitempty"`
	Phase       Phase           `json:"phase"`
	Params      ComponentParams `json:"params"`
	InstalledAt time.Time       `json:"installed_at"`
}

// Ref returns the typed resource reference for the component.
func (c Component) Ref() Ref { return Ref{Kind: c.Kind, Address: c.Address} }

// Clone returns a deep copy.
func (c Component) Clone() Component {
	cp := c
	cp.Params = c.Params.Clone()
	return cp
}

// ComponentParams holds the init parameters of exactly one component kind.
type ComponentParams struct {
	Agent        *AgentParams        `json:"agent,omitempty"`
	Finance      *FinanceParams      `json:"finance,omitempty"`
	Voting       *VotingParams       `json:"voting,omitempty"`
	TokenManager *TokenManagerParams `json:"token_manager,omitempty"`
	TokenWrapper *TokenWrapperParams `json:"token_wrapper,omitempty"`
	Aggregator   *AggregatorParams   `json:"aggregator,omitempty"`
}

// Clone returns a deep copy.
func (p ComponentParams) Clone() ComponentParams {
	var cp ComponentParams
	if p.Agent != nil {
		v := *p.Agent
		cp.Agent = &v
	}
	if p.Finance != nil {
		v := *p.Finance
		cp.Finance = &v
	}
	if p.Voting != nil {
		v := *p.Voting
		cp.Voting = &v
	}
	if p.TokenManager != nil {
		v := *p.TokenManager
		cp.TokenManager = &v
	}
	if p.TokenWrapper != nil {
		v := *p.TokenWrapper
		cp.TokenWrapper = &v
	}
	if p.Aggregator != nil {
		v := *p.Aggregator
		v.Sources = append([]PowerSource(nil), p.Aggregator.Sources...)
		cp.Aggregator = &v
	}
	return cp
}

// AgentParams configures the custody app.
type AgentParams struct {
	DesignatedSigner Address `json:"designated_signer"`
}

// FinanceParams configures the funds ledger.
type FinanceParams struct {
	Vault          Address       `json:"vault"`
	PeriodDuration time.Duration `json:"period_duration"`
}

// VotingParams configures a voting app.
type VotingParams struct {
	Token    Address        `json:"token"`
	Settings VotingSettings `json:"settings"`
}

// TokenManagerParams configures a token-issuance manager.
type TokenManagerParams struct {
	Token            Address `json:"token"`
	Transferable     bool    `json:"transferable"`
	MaxAccountTokens uint64  `json:"max_account_tokens"`
}

// TokenWrapperParams configures a token wrapper over an external asset.
type TokenWrapperParams struct {
	DepositedToken Address `json:"deposited_token"`
	// IssuedToken is set when the wrapper mints an existing token instead of
	// tracking wrapped balances itself.
	IssuedToken Address `json:"issued_token"`
	Name        string  `json:"name"`
	Symbol      string  `json:"symbol"`
}

// AggregatorParams configures a vote-power aggregator.
type AggregatorParams struct {
	Name     string        `json:"name"`
	Symbol   string        `json:"symbol"`
	Decimals uint8         `json:"decimals"`
	Sources  []PowerSource `json:"sources"`
}

// PowerSourceType enumerates how an aggregator reads voting power from a source.
type PowerSourceType uint8

const (
	PowerSourceInvalid PowerSourceType = iota
	PowerSourceERC20WithCheckpointing
	PowerSourceERC900
)

// PowerSource is one weighted input of a vote-power aggregator.
type PowerSource struct {
	Source  Address         `json:"source"`
	Type    PowerSourceType `json:"type"`
	Enabled bool            `json:"enabled"`
	Weight  uint64          `json:"weight"`
}

// PctBase is the fixed-point base for voting fractions: PctBase == 100%.
const PctBase uint64 = 1_000_000_000_000_000_000

// Pct converts a whole percentage into PctBase units.
func Pct(whole uint64) uint64 { return whole * (PctBase / 100) }

// VotingSettings holds the three voting parameters. Absent values are zero;
// nothing is defaulted.
type VotingSettings struct {
	SupportRequired uint64        `json:"support_required"`
	MinAcceptQuorum uint64        `json:"min_accept_quorum"`
	Duration        time.Duration `json:"duration"`
}

// Validate applies the voting app's init bounds.
func (s VotingSettings) Validate() error {
	if s.MinAcceptQuorum > s.SupportRequired {
		return ErrVotingInitPcts
	}
	if s.SupportRequired >= PctBase {
		return ErrVotingSupportTooBig
	}
	return nil
}

// Token is a governance token issued on the ledger.
type Token struct {
	Address          Address            `json:"address"`
	Name             string             `json:"name"`
	Symbol           string             `json:"symbol"`
	Decimals         uint8              `json:"decimals"`
	TransfersEnabled bool               `json:"transfers_enabled"`
	Controller       Address            `json:"controller"`
	TotalSupply      uint64             `json:"total_supply"`
	Balances         map[Address]uint64 `json:"balances"`
	CreatedAt        time.Time          `json:"created_at"`
}

// Clone returns a deep copy.
func (t Token) Clone() Token {
	cp := t
	cp.Balances = cloneBalances(t.Balances)
	return cp
}

// BalanceOf returns holder's balance.
func (t Token) BalanceOf(holder Address) uint64 { return t.Balances[holder] }

// Holders returns addresses with a non-zero balance in byte order.
func (t Token) Holders() []Address {
	out := make([]Address, 0, len(t.Balances))
	for a, b := range t.Balances {
		if b > 0 {
			out = append(out, a)
		}
	}
	SortAddresses(out)
	return out
}

// Asset is an external fungible asset known to the ledger.
type Asset struct {
	Address  Address            `json:"address"`
	Name     string             `json:"name"`
	Symbol   string             `json:"symbol"`
	Decimals *uint8             `json:"decimals,omitempty"`
	Supply   uint64             `json:"supply"`
	Balances map[Address]uint64 `json:"balances"`
}

// Clone returns a deep copy.
func (a Asset) Clone() Asset {
	cp := a
	if a.Decimals != nil {
		d := *a.Decimals
		cp.Decimals = &d
	}
	cp.Balances = cloneBalances(a.Balances)
	return cp
}

// BalanceOf returns holder's balance.
func (a Asset) BalanceOf(holder Address) uint64 { return a.Balances[holder] }

// Capability is an interface an external account declares it implements.
type Capability string

// CapabilityForwarder marks accounts that can forward actions, such as multisigs.
const CapabilityForwarder Capability = "forwarder"

// Account is an external principal known to the ledger.
type Account struct {
	Address      Address      `json:"address"`
	Label        string       `json:"label,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// Clone returns a deep copy.
func (a Account) Clone() Account {
	cp := a
	cp.Capabilities = append([]Capability(nil), a.Capabilities...)
	return cp
}

// Has reports whether the account declares capability c.
func (a Account) Has(c Capability) bool {
	for _, have := range a.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Permission is one ACL entry: a single manager and the set of grantees.
type Permission struct {
	Resource Address   `json:"resource"`
	Role     Role      `json:"role"`
	Manager  Address   `json:"manager"`
	Grantees []Address `json:"grantees"`
}

// Key returns the storage key.
func (p Permission) Key() PermissionKey { return PermissionKey{Resource: p.Resource, Role: p.Role} }

// Clone returns a deep copy.
func (p Permission) Clone() Permission {
	cp := p
	cp.Grantees = append([]Address(nil), p.Grantees...)
	return cp
}

// Holds reports whether entity holds the permission directly or via AnyAddress.
func (p Permission) Holds(entity Address) bool {
	for _, g := range p.Grantees {
		if g == entity || g == AnyAddress {
			return true
		}
	}
	return false
}

// GrantedTo reports whether entity is listed as a grantee.
func (p Permission) GrantedTo(entity Address) bool {
	for _, g := range p.Grantees {
		if g == entity {
			return true
		}
	}
	return false
}

// PermissionGrant is a single directed edge of the permission graph.
type PermissionGrant struct {
	Resource Address `json:"resource"`
	Role     Role    `json:"role"`
	Manager  Address `json:"manager"`
	Grantee  Address `json:"grantee"`
}

// Edges flattens the permission into one grant per grantee.
func (p Permission) Edges() []PermissionGrant {
	out := make([]PermissionGrant, 0, len(p.Grantees))
	for _, g := range p.Grantees {
		out = append(out, PermissionGrant{Resource: p.Resource, Role: p.Role, Manager: p.Manager, Grantee: g})
	}
	return out
}

// NameRecord binds a registered label to an organization.
type NameRecord struct {
	Label        string    `json:"label"`
	Node         string    `json:"node"`
	Target       Address   `json:"target"`
	Owner        Address   `json:"owner"`
	RegisteredAt time.Time `json:"registered_at"`
}

// CachedInstance is the partial organization bridging prepare and finalize.
type CachedInstance struct {
	Principal    Address   `json:"principal"`
	Org          Address   `json:"org"`
	Agent        Address   `json:"agent"`
	TokenWrapper Address   `json:"token_wrapper"`
	Aggregator   Address   `json:"aggregator"`
	Asset        Address   `json:"asset"`
	CachedAt     time.Time `json:"cached_at"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the entry has a TTL that elapsed before now.
func (c CachedInstance) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// CachedToken is the legacy single-token cache entry bridging newToken and newInstance.
type CachedToken struct {
	Principal Address   `json:"principal"`
	Token     Address   `json:"token"`
	CachedAt  time.Time `json:"cached_at"`
}

// SortAddresses orders addresses by their byte value.
func SortAddresses(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return string(addrs[i][:]) < string(addrs[j][:])
	})
}

// SortPermissions orders permissions by resource then role.
func SortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool {
		a, b := perms[i], perms[j]
		if a.Resource != b.Resource {
			return string(a.Resource[:]) < string(b.Resource[:])
		}
		return a.Role < b.Role
	})
}

func cloneBalances(in map[Address]uint64) map[Address]uint64 {
	out := make(map[Address]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
