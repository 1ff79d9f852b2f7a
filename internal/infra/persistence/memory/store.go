// Package memory provides an in-memory implementation of the ledger
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"daoforge/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Address aliases domain.Address.
	Address = domain.Address
	// Organization aliases domain.Organization.
	Organization = domain.Organization
	// Component aliases domain.Component.
	Component = domain.Component
	// Token aliases domain.Token.
	Token = domain.Token
	// Permission aliases domain.Permission.
	Permission = domain.Permission
	// PermissionKey aliases domain.PermissionKey.
	PermissionKey = domain.PermissionKey
	// NameRecord aliases domain.NameRecord.
	NameRecord = domain.NameRecord
	// CachedInstance aliases domain.CachedInstance.
	CachedInstance = domain.CachedInstance
	// CachedToken aliases domain.CachedToken.
	CachedToken = domain.CachedToken
	// Asset aliases domain.Asset.
	Asset = domain.Asset
	// Account aliases domain.Account.
	Account = domain.Account
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	organizations   map[Address]Organization
	components      map[Address]Component
	tokens          map[Address]Token
	permissions     map[PermissionKey]Permission
	names           map[string]NameRecord
	cachedInstances map[Address]CachedInstance
	cachedTokens    map[Address]CachedToken
	assets          map[Address]Asset
	accounts        map[Address]Account
	nonces          map[Address]uint64
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Organizations   map[Address]Organization     `json:"organizations"`
	Components      map[Address]Component        `json:"components"`
	Tokens          map[Address]Token            `json:"tokens"`
	Permissions     map[PermissionKey]Permission `json:"permissions"`
	Names           map[string]NameRecord        `json:"names"`
	CachedInstances map[Address]CachedInstance   `json:"cached_instances"`
	CachedTokens    map[Address]CachedToken      `json:"cached_tokens"`
	Assets          map[Address]Asset            `json:"assets"`
	Accounts        map[Address]Account          `json:"accounts"`
	Nonces          map[Address]uint64           `json:"nonces"`
}

// Buckets returns the snapshot fields keyed by their persistence bucket name.
// Values are pointers so callers can decode into them.
func (s *Snapshot) Buckets() map[string]any {
	return map[string]any{
		"organizations":    &s.Organizations,
		"components":       &s.Components,
		"tokens":           &s.Tokens,
		"permissions":      &s.Permissions,
		"names":            &s.Names,
		"cached_instances": &s.CachedInstances,
		"cached_tokens":    &s.CachedTokens,
		"assets":           &s.Assets,
		"accounts":         &s.Accounts,
		"nonces":           &s.Nonces,
	}
}

// BucketNames lists every persistence bucket in a stable order.
func BucketNames() []string {
	names := make([]string, 0, 10)
	for name := range (&Snapshot{}).Buckets() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newMemoryState() memoryState {
	return memoryState{
		organizations:   make(map[Address]Organization),
		components:      make(map[Address]Component),
		tokens:          make(map[Address]Token),
		permissions:     make(map[PermissionKey]Permission),
		names:           make(map[string]NameRecord),
		cachedInstances: make(map[Address]CachedInstance),
		cachedTokens:    make(map[Address]CachedToken),
		assets:          make(map[Address]Asset),
		accounts:        make(map[Address]Account),
		nonces:          make(map[Address]uint64),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cp := state.clone()
	return Snapshot{
		Organizations:   cp.organizations,
		Components:      cp.components,
		Tokens:          cp.tokens,
		Permissions:     cp.permissions,
		Names:           cp.names,
		CachedInstances: cp.cachedInstances,
		CachedTokens:    cp.cachedTokens,
		Assets:          cp.assets,
		Accounts:        cp.accounts,
		Nonces:          cp.nonces,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Organizations {
		state.organizations[k] = v
	}
	for k, v := range s.Components {
		state.components[k] = v.Clone()
	}
	for k, v := range s.Tokens {
		state.tokens[k] = v.Clone()
	}
	for k, v := range s.Permissions {
		state.permissions[k] = normalizePermission(v)
	}
	for k, v := range s.Names {
		state.names[k] = v
	}
	for k, v := range s.CachedInstances {
		state.cachedInstances[k] = v
	}
	for k, v := range s.CachedTokens {
		state.cachedTokens[k] = v
	}
	for k, v := range s.Assets {
		state.assets[k] = v.Clone()
	}
	for k, v := range s.Accounts {
		state.accounts[k] = v.Clone()
	}
	for k, v := range s.Nonces {
		state.nonces[k] = v
	}
	return state
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.organizations {
		cloned.organizations[k] = v
	}
	for k, v := range s.components {
		cloned.components[k] = v.Clone()
	}
	for k, v := range s.tokens {
		cloned.tokens[k] = v.Clone()
	}
	for k, v := range s.permissions {
		cloned.permissions[k] = v.Clone()
	}
	for k, v := range s.names {
		cloned.names[k] = v
	}
	for k, v := range s.cachedInstances {
		cloned.cachedInstances[k] = v
	}
	for k, v := range s.cachedTokens {
		cloned.cachedTokens[k] = v
	}
	for k, v := range s.assets {
		cloned.assets[k] = v.Clone()
	}
	for k, v := range s.accounts {
		cloned.accounts[k] = v.Clone()
	}
	for k, v := range s.nonces {
		cloned.nonces[k] = v
	}
	return cloned
}

// normalizePermission sorts and dedupes grantees so equal ACLs compare equal.
func normalizePermission(p Permission) Permission {
	cp := p.Clone()
	domain.SortAddresses(cp.Grantees)
	out := cp.Grantees[:0]
	for _, g := range cp.Grantees {
		if len(out) > 0 && out[len(out)-1] == g {
			continue
		}
		out = append(out, g)
	}
	cp.Grantees = out
	return cp
}

var kindOrder = map[domain.ComponentKind]int{
	domain.KindKernel:           0,
	domain.KindACL:              1,
	domain.KindEVMScriptReg:     2,
	domain.KindAgent:            3,
	domain.KindTokenWrapper:     4,
	domain.KindVotingAggregator: 5,
	domain.KindFinance:          6,
	domain.KindTokenManager:     7,
	domain.KindVoting:           8,
}

func sortComponents(out []Component) {
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Phase != b.Phase {
			return a.Phase < b.Phase
		}
		if kindOrder[a.Kind] != kindOrder[b.Kind] {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		if !a.InstalledAt.Equal(b.InstalledAt) {
			return a.InstalledAt.Before(b.InstalledAt)
		}
		return string(a.Address[:]) < string(b.Address[:])
	})
}

// Store provides an in-memory transactional ledger.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the clock. Tests use it to step past cache TTLs.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = fn
}

type transaction struct {
	transactionView
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListOrganizations returns all organizations ordered by address.
func (v transactionView) ListOrganizations() []Organization {
	out := make([]Organization, 0, len(v.state.organizations))
	for _, o := range v.state.organizations {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Address[:]) < string(out[j].Address[:])
	})
	return out
}

// ListComponents returns the components owned by org in install order.
func (v transactionView) ListComponents(org Address) []Component {
	var out []Component
	for _, c := range v.state.components {
		if c.Org == org {
			out = append(out, c.Clone())
		}
	}
	sortComponents(out)
	return out
}

// ListPermissions returns every ACL entry ordered by resource and role.
func (v transactionView) ListPermissions() []Permission {
	out := make([]Permission, 0, len(v.state.permissions))
	for _, p := range v.state.permissions {
		out = append(out, p.Clone())
	}
	domain.SortPermissions(out)
	return out
}

// ListNames returns the registered names ordered by label.
func (v transactionView) ListNames() []NameRecord {
	out := make([]NameRecord, 0, len(v.state.names))
	for _, n := range v.state.names {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func (v transactionView) FindOrganization(addr Address) (Organization, bool) {
	o, ok := v.state.organizations[addr]
	return o, ok
}

func (v transactionView) FindComponent(addr Address) (Component, bool) {
	c, ok := v.state.components[addr]
	if !ok {
		return Component{}, false
	}
	return c.Clone(), true
}

func (v transactionView) FindToken(addr Address) (Token, bool) {
	t, ok := v.state.tokens[addr]
	if !ok {
		return Token{}, false
	}
	return t.Clone(), true
}

func (v transactionView) FindPermission(key PermissionKey) (Permission, bool) {
	p, ok := v.state.permissions[key]
	if !ok {
		return Permission{}, false
	}
	return p.Clone(), true
}

func (v transactionView) FindName(node string) (NameRecord, bool) {
	n, ok := v.state.names[node]
	return n, ok
}

func (v transactionView) FindCachedInstance(principal Address) (CachedInstance, bool) {
	c, ok := v.state.cachedInstances[principal]
	return c, ok
}

func (v transactionView) FindCachedToken(principal Address) (CachedToken, bool) {
	c, ok := v.state.cachedTokens[principal]
	return c, ok
}

func (v transactionView) FindAsset(addr Address) (Asset, bool) {
	a, ok := v.state.assets[addr]
	if !ok {
		return Asset{}, false
	}
	return a.Clone(), true
}

func (v transactionView) FindAccount(addr Address) (Account, bool) {
	a, ok := v.state.accounts[addr]
	if !ok {
		return Account{}, false
	}
	return a.Clone(), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Nothing fn writes is visible outside unless fn and every blocking rule succeed.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	tx.transactionView = transactionView{state: &tx.state}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

// ListOrganizations returns committed organizations.
func (s *Store) ListOrganizations() []Organization {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListOrganizations()
}

// ListPermissions returns committed ACL entries.
func (s *Store) ListPermissions() []Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListPermissions()
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// Now returns the timestamp fixed at transaction start.
func (tx *transaction) Now() time.Time { return tx.now }

// NextNonce returns deployer's next deployment nonce and advances it.
func (tx *transaction) NextNonce(deployer Address) uint64 {
	n := tx.state.nonces[deployer]
	tx.state.nonces[deployer] = n + 1
	return n
}

// CreateOrganization stores a new organization.
func (tx *transaction) CreateOrganization(o Organization) (Organization, error) {
	if o.Address.IsZero() {
		return Organization{}, fmt.Errorf("organization address is required")
	}
	if _, exists := tx.state.organizations[o.Address]; exists {
		return Organization{}, fmt.Errorf("organization %s already exists", o.Address)
	}
	if o.Status == "" {
		o.Status = domain.OrgPrepared
	}
	o.CreatedAt = tx.now
	o.UpdatedAt = tx.now
	tx.state.organizations[o.Address] = o
	tx.recordChange(Change{Entity: domain.EntityOrganization, Action: domain.ActionCreate, Key: o.Address.Hex(), After: o})
	return o, nil
}

// UpdateOrganization mutates an organization using the provided mutator function.
func (tx *transaction) UpdateOrganization(addr Address, mutator func(*Organization) error) (Organization, error) {
	current, ok := tx.state.organizations[addr]
	if !ok {
		return Organization{}, fmt.Errorf("organization %s not found", addr)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Organization{}, err
	}
	current.Address = addr
	current.UpdatedAt = tx.now
	tx.state.organizations[addr] = current
	tx.recordChange(Change{Entity: domain.EntityOrganization, Action: domain.ActionUpdate, Key: addr.Hex(), Before: before, After: current})
	return current, nil
}

// InstallComponent stores a new component under an existing organization.
func (tx *transaction) InstallComponent(c Component) (Component, error) {
	if c.Address.IsZero() {
		return Component{}, fmt.Errorf("component address is required")
	}
	if _, ok := tx.state.organizations[c.Org]; !ok {
		return Component{}, fmt.Errorf("component %s: organization %s not found", c.Address, c.Org)
	}
	if _, exists := tx.state.components[c.Address]; exists {
		return Component{}, fmt.Errorf("component %s already exists", c.Address)
	}
	c.InstalledAt = tx.now
	tx.state.components[c.Address] = c.Clone()
	tx.recordChange(Change{Entity: domain.EntityComponent, Action: domain.ActionCreate, Key: c.Address.Hex(), After: c.Clone()})
	return c.Clone(), nil
}

// UpdateComponent mutates a component's parameters.
func (tx *transaction) UpdateComponent(addr Address, mutator func(*Component) error) (Component, error) {
	current, ok := tx.state.components[addr]
	if !ok {
		return Component{}, fmt.Errorf("component %s not found", addr)
	}
	before := current.Clone()
	current = current.Clone()
	if err := mutator(&current); err != nil {
		return Component{}, err
	}
	current.Address = addr
	current.Org = before.Org
	current.Kind = before.Kind
	tx.state.components[addr] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityComponent, Action: domain.ActionUpdate, Key: addr.Hex(), Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// CreateToken stores a new token.
func (tx *transaction) CreateToken(t Token) (Token, error) {
	if t.Address.IsZero() {
		return Token{}, fmt.Errorf("token address is required")
	}
	if _, exists := tx.state.tokens[t.Address]; exists {
		return Token{}, fmt.Errorf("token %s already exists", t.Address)
	}
	if t.Balances == nil {
		t.Balances = map[Address]uint64{}
	}
	t.CreatedAt = tx.now
	tx.state.tokens[t.Address] = t.Clone()
	tx.recordChange(Change{Entity: domain.EntityToken, Action: domain.ActionCreate, Key: t.Address.Hex(), After: t.Clone()})
	return t.Clone(), nil
}

// UpdateToken mutates a token's controller or balances.
func (tx *transaction) UpdateToken(addr Address, mutator func(*Token) error) (Token, error) {
	current, ok := tx.state.tokens[addr]
	if !ok {
		return Token{}, fmt.Errorf("token %s not found", addr)
	}
	before := current.Clone()
	current = current.Clone()
	if err := mutator(&current); err != nil {
		return Token{}, err
	}
	current.Address = addr
	tx.state.tokens[addr] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityToken, Action: domain.ActionUpdate, Key: addr.Hex(), Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// PutPermission creates or replaces an ACL entry.
func (tx *transaction) PutPermission(p Permission) error {
	if p.Resource.IsZero() {
		return fmt.Errorf("permission resource is required")
	}
	if p.Role == domain.RoleUnknown {
		return fmt.Errorf("permission on %s: role is required", p.Resource)
	}
	p = normalizePermission(p)
	key := p.Key()
	change := Change{Entity: domain.EntityPermission, Action: domain.ActionCreate, Key: key.String(), After: p.Clone()}
	if before, ok := tx.state.permissions[key]; ok {
		change.Action = domain.ActionUpdate
		change.Before = before.Clone()
	}
	tx.state.permissions[key] = p
	tx.recordChange(change)
	return nil
}

// DeletePermission removes an ACL entry.
func (tx *transaction) DeletePermission(key PermissionKey) error {
	current, ok := tx.state.permissions[key]
	if !ok {
		return fmt.Errorf("permission %s not found", key)
	}
	delete(tx.state.permissions, key)
	tx.recordChange(Change{Entity: domain.EntityPermission, Action: domain.ActionDelete, Key: key.String(), Before: current})
	return nil
}

// CreateName registers a name record under its node.
func (tx *transaction) CreateName(n NameRecord) error {
	if n.Node == "" {
		return fmt.Errorf("name %q: node is required", n.Label)
	}
	if _, exists := tx.state.names[n.Node]; exists {
		return fmt.Errorf("name %q: %w", n.Label, domain.ErrNameExists)
	}
	n.RegisteredAt = tx.now
	tx.state.names[n.Node] = n
	tx.recordChange(Change{Entity: domain.EntityName, Action: domain.ActionCreate, Key: n.Node, After: n})
	return nil
}

// PutCachedInstance stores entry for its principal, returning any entry it replaced.
func (tx *transaction) PutCachedInstance(entry CachedInstance) (CachedInstance, bool, error) {
	if entry.Principal.IsZero() {
		return CachedInstance{}, false, fmt.Errorf("cached instance principal is required")
	}
	entry.CachedAt = tx.now
	prev, replaced := tx.state.cachedInstances[entry.Principal]
	change := Change{Entity: domain.EntityCachedInstance, Action: domain.ActionCreate, Key: entry.Principal.Hex(), After: entry}
	if replaced {
		change.Action = domain.ActionUpdate
		change.Before = prev
	}
	tx.state.cachedInstances[entry.Principal] = entry
	tx.recordChange(change)
	return prev, replaced, nil
}

// DeleteCachedInstance clears principal's cache entry.
func (tx *transaction) DeleteCachedInstance(principal Address) error {
	current, ok := tx.state.cachedInstances[principal]
	if !ok {
		return fmt.Errorf("cached instance for %s not found", principal)
	}
	delete(tx.state.cachedInstances, principal)
	tx.recordChange(Change{Entity: domain.EntityCachedInstance, Action: domain.ActionDelete, Key: principal.Hex(), Before: current})
	return nil
}

// PutCachedToken stores entry for its principal, returning any entry it replaced.
func (tx *transaction) PutCachedToken(entry CachedToken) (CachedToken, bool, error) {
	if entry.Principal.IsZero() {
		return CachedToken{}, false, fmt.Errorf("cached token principal is required")
	}
	entry.CachedAt = tx.now
	prev, replaced := tx.state.cachedTokens[entry.Principal]
	change := Change{Entity: domain.EntityCachedToken, Action: domain.ActionCreate, Key: entry.Principal.Hex(), After: entry}
	if replaced {
		change.Action = domain.ActionUpdate
		change.Before = prev
	}
	tx.state.cachedTokens[entry.Principal] = entry
	tx.recordChange(change)
	return prev, replaced, nil
}

// DeleteCachedToken clears principal's token cache entry.
func (tx *transaction) DeleteCachedToken(principal Address) error {
	current, ok := tx.state.cachedTokens[principal]
	if !ok {
		return fmt.Errorf("cached token for %s not found", principal)
	}
	delete(tx.state.cachedTokens, principal)
	tx.recordChange(Change{Entity: domain.EntityCachedToken, Action: domain.ActionDelete, Key: principal.Hex(), Before: current})
	return nil
}

// PutAsset creates or replaces an external asset.
func (tx *transaction) PutAsset(a Asset) error {
	if a.Address.IsZero() {
		return fmt.Errorf("asset address is required")
	}
	if a.Balances == nil {
		a.Balances = map[Address]uint64{}
	}
	change := Change{Entity: domain.EntityAsset, Action: domain.ActionCreate, Key: a.Address.Hex(), After: a.Clone()}
	if before, ok := tx.state.assets[a.Address]; ok {
		change.Action = domain.ActionUpdate
		change.Before = before
	}
	tx.state.assets[a.Address] = a.Clone()
	tx.recordChange(change)
	return nil
}

// PutAccount creates or replaces an external account.
func (tx *transaction) PutAccount(a Account) error {
	if a.Address.IsZero() {
		return fmt.Errorf("account address is required")
	}
	change := Change{Entity: domain.EntityAccount, Action: domain.ActionCreate, Key: a.Address.Hex(), After: a.Clone()}
	if before, ok := tx.state.accounts[a.Address]; ok {
		change.Action = domain.ActionUpdate
		change.Before = before
	}
	tx.state.accounts[a.Address] = a.Clone()
	tx.recordChange(change)
	return nil
}
