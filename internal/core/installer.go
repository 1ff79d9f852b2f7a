package core

import (
	"context"
	"fmt"

	"daoforge/internal/catalog"
	"daoforge/internal/permissions"
	"daoforge/pkg/domain"
)

// InstallRequest describes one app installation into an organization.
type InstallRequest struct {
	Org    Address
	Kind   ComponentKind
	Phase  domain.Phase
	Params ComponentParams
}

// TokenSpec configures a token deployment.
type TokenSpec struct {
	Name         string
	Symbol       string
	Decimals     uint8
	Transferable bool
}

// ComponentInstaller deploys organizations, apps and tokens into a ledger
// transaction and returns the result together with the event describing it.
type ComponentInstaller interface {
	// NewOrganization creates a kernel with its ACL and script registry.
	// root receives the organization's initial root permissions.
	NewOrganization(ctx context.Context, tx Transaction, root, creator Address) (Organization, Event, error)
	// Install deploys and initializes an app. actor must hold APP_MANAGER_ROLE
	// on the organization's kernel.
	Install(ctx context.Context, tx Transaction, actor Address, req InstallRequest) (Component, Event, error)
	// DeployToken creates a token controlled by controller.
	DeployToken(ctx context.Context, tx Transaction, controller Address, spec TokenSpec) (Token, Event, error)
}

// LedgerInstaller is the default ComponentInstaller. Addresses derive from the
// deployer and its nonce, so replaying the same calls yields the same ledger.
type LedgerInstaller struct {
	catalog *catalog.Catalog
}

// NewLedgerInstaller builds an installer resolving app IDs through c.
func NewLedgerInstaller(c *catalog.Catalog) *LedgerInstaller {
	if c == nil {
		c = catalog.Default()
	}
	return &LedgerInstaller{catalog: c}
}

// NewOrganization implements ComponentInstaller.
func (l *LedgerInstaller) NewOrganization(_ context.Context, tx Transaction, root, creator Address) (Organization, Event, error) {
	if root.IsZero() {
		return Organization{}, Event{}, fmt.Errorf("installer: organization root is required")
	}
	kernel := domain.DeriveAddress(domain.DomainOrganization, root, tx.NextNonce(root))
	org := Organization{
		Address:  kernel,
		ACL:      domain.DeriveAddress(domain.DomainApp, kernel, tx.NextNonce(kernel)),
		Registry: domain.DeriveAddress(domain.DomainApp, kernel, tx.NextNonce(kernel)),
		Creator:  creator,
		Status:   domain.OrgPrepared,
	}
	org, err := tx.CreateOrganization(org)
	if err != nil {
		return Organization{}, Event{}, fmt.Errorf("installer: %w", err)
	}
	base := []Component{
		{Address: org.Address, Org: org.Address, Kind: domain.KindKernel, Phase: domain.PhaseOrganization},
		{Address: org.ACL, Org: org.Address, Kind: domain.KindACL, Phase: domain.PhaseOrganization},
		{Address: org.Registry, Org: org.Address, Kind: domain.KindEVMScriptReg, Phase: domain.PhaseOrganization},
	}
	for _, c := range base {
		c.InstalledAt = tx.Now()
		if _, err := tx.InstallComponent(c); err != nil {
			return Organization{}, Event{}, fmt.Errorf("installer: %w", err)
		}
	}
	held := []domain.RoleKey{
		{Resource: domain.Ref{Kind: domain.KindKernel, Address: org.Address}, Role: domain.RoleAppManager},
		{Resource: domain.Ref{Kind: domain.KindACL, Address: org.ACL}, Role: domain.RoleCreatePermissions},
		{Resource: domain.Ref{Kind: domain.KindEVMScriptReg, Address: org.Registry}, Role: domain.RoleRegistryAddExecutor},
		{Resource: domain.Ref{Kind: domain.KindEVMScriptReg, Address: org.Registry}, Role: domain.RoleRegistryManager},
	}
	for _, p := range permissions.Seed(root, held) {
		if err := tx.PutPermission(p); err != nil {
			return Organization{}, Event{}, fmt.Errorf("installer: %w", err)
		}
	}
	return org, Event{Type: domain.EventDeployDao, Org: org.Address}, nil
}

// Install implements ComponentInstaller.
func (l *LedgerInstaller) Install(_ context.Context, tx Transaction, actor Address, req InstallRequest) (Component, Event, error) {
	org, ok := tx.FindOrganization(req.Org)
	if !ok {
		return Component{}, Event{}, fmt.Errorf("installer: organization %s not found", req.Org)
	}
	manager, ok := tx.FindPermission(PermissionKey{Resource: org.Address, Role: domain.RoleAppManager})
	if !ok || !manager.Holds(actor) {
		return Component{}, Event{}, fmt.Errorf("installer: install %s: %w", req.Kind, domain.ErrACLAuthFailed)
	}
	if _, ok := l.catalog.Lookup(req.Kind); !ok {
		return Component{}, Event{}, fmt.Errorf("installer: %s is not in the app catalog", req.Kind)
	}
	if err := validateParams(tx, org, req); err != nil {
		return Component{}, Event{}, err
	}
	c := Component{
		Address:     domain.DeriveAddress(domain.DomainApp, org.Address, tx.NextNonce(org.Address)),
		Org:         org.Address,
		Kind:        req.Kind,
		AppID:       l.catalog.AppID(req.Kind),
		Phase:       req.Phase,
		Params:      req.Params.Clone(),
		InstalledAt: tx.Now(),
	}
	c, err := tx.InstallComponent(c)
	if err != nil {
		return Component{}, Event{}, fmt.Errorf("installer: %w", err)
	}
	if err := takeController(tx, actor, c); err != nil {
		return Component{}, Event{}, err
	}
	return c, Event{Type: domain.EventInstallApp, Org: org.Address, App: c.Address, AppID: c.AppID}, nil
}

// DeployToken implements ComponentInstaller.
func (l *LedgerInstaller) DeployToken(_ context.Context, tx Transaction, controller Address, spec TokenSpec) (Token, Event, error) {
	if controller.IsZero() {
		return Token{}, Event{}, fmt.Errorf("installer: token controller is required")
	}
	token := Token{
		Address:          domain.DeriveAddress(domain.DomainToken, controller, tx.NextNonce(controller)),
		Name:             spec.Name,
		Symbol:           spec.Symbol,
		Decimals:         spec.Decimals,
		TransfersEnabled: spec.Transferable,
		Controller:       controller,
		CreatedAt:        tx.Now(),
	}
	token, err := tx.CreateToken(token)
	if err != nil {
		return Token{}, Event{}, fmt.Errorf("installer: %w", err)
	}
	return token, Event{Type: domain.EventDeployToken, Token: token.Address}, nil
}

// validateParams applies each app's init checks. Exactly the params block
// matching the requested kind must be present.
func validateParams(view TransactionView, org Organization, req InstallRequest) error {
	p := req.Params
	switch req.Kind {
	case domain.KindAgent:
		if p.Agent == nil {
			return fmt.Errorf("installer: agent params are required")
		}
	case domain.KindFinance:
		if p.Finance == nil {
			return fmt.Errorf("installer: finance params are required")
		}
		vault, ok := view.FindComponent(p.Finance.Vault)
		if !ok || vault.Org != org.Address || vault.Kind != domain.KindAgent {
			return fmt.Errorf("installer: finance vault %s is not an agent of %s", p.Finance.Vault, org.Address)
		}
		if p.Finance.PeriodDuration < MinFinancePeriod {
			return domain.ErrFinancePeriodTooShort
		}
	case domain.KindVoting:
		if p.Voting == nil {
			return fmt.Errorf("installer: voting params are required")
		}
		if !isTokenLike(view, p.Voting.Token) {
			return fmt.Errorf("installer: voting token %s is not a token", p.Voting.Token)
		}
		if err := p.Voting.Settings.Validate(); err != nil {
			return err
		}
	case domain.KindTokenManager:
		if p.TokenManager == nil {
			return fmt.Errorf("installer: token manager params are required")
		}
		if _, ok := view.FindToken(p.TokenManager.Token); !ok {
			return fmt.Errorf("installer: token manager token %s not found", p.TokenManager.Token)
		}
	case domain.KindTokenWrapper:
		if p.TokenWrapper == nil {
			return fmt.Errorf("installer: token wrapper params are required")
		}
		if !isContract(view, p.TokenWrapper.DepositedToken) {
			return domain.ErrWrapperTokenNotContract
		}
		if !p.TokenWrapper.IssuedToken.IsZero() {
			if _, ok := view.FindToken(p.TokenWrapper.IssuedToken); !ok {
				return fmt.Errorf("installer: token wrapper issued token %s not found", p.TokenWrapper.IssuedToken)
			}
		}
	case domain.KindVotingAggregator:
		if p.Aggregator == nil {
			return fmt.Errorf("installer: aggregator params are required")
		}
		if len(p.Aggregator.Sources) > 0 {
			return fmt.Errorf("installer: aggregator sources are added after install")
		}
	default:
		return fmt.Errorf("installer: %s cannot be installed as an app", req.Kind)
	}
	return nil
}

// takeController moves control of the token an app issues from actor to the
// app. Token managers and issuing wrappers refuse tokens they cannot control.
func takeController(tx Transaction, actor Address, c Component) error {
	var token Address
	switch {
	case c.Kind == domain.KindTokenManager:
		token = c.Params.TokenManager.Token
	case c.Kind == domain.KindTokenWrapper && !c.Params.TokenWrapper.IssuedToken.IsZero():
		token = c.Params.TokenWrapper.IssuedToken
	default:
		return nil
	}
	_, err := tx.UpdateToken(token, func(t *Token) error {
		if t.Controller != actor {
			return domain.ErrTokenControllerMismatch
		}
		t.Controller = c.Address
		return nil
	})
	return err
}

// isContract reports whether addr is something deployed on the ledger.
func isContract(view TransactionView, addr Address) bool {
	if addr.IsZero() {
		return false
	}
	if _, ok := view.FindAsset(addr); ok {
		return true
	}
	if _, ok := view.FindToken(addr); ok {
		return true
	}
	_, ok := view.FindComponent(addr)
	return ok
}

// isTokenLike reports whether addr exposes balances: a token, an asset, or
// an app that issues or aggregates voting power.
func isTokenLike(view TransactionView, addr Address) bool {
	if _, ok := view.FindToken(addr); ok {
		return true
	}
	if _, ok := view.FindAsset(addr); ok {
		return true
	}
	c, ok := view.FindComponent(addr)
	return ok && (c.Kind == domain.KindTokenWrapper || c.Kind == domain.KindVotingAggregator)
}
