package core

import (
	"context"
	"fmt"
	"time"

	"daoforge/internal/permissions"
	"daoforge/pkg/domain"
)

// Typed handles produced by the install steps. A step that needs an earlier
// component takes its handle, so the install order is visible in the types.
type (
	// AgentApp is the custody app; it doubles as the recovery vault.
	AgentApp struct {
		Address Address `json:"address"`
	}
	// FinanceApp is the funds ledger bound to the agent.
	FinanceApp struct {
		Address Address `json:"address"`
	}
	// TokenWrapperApp wraps the external asset.
	TokenWrapperApp struct {
		Address Address `json:"address"`
		Asset   Address `json:"asset"`
	}
	// AggregatorApp sums voting power across its sources.
	AggregatorApp struct {
		Address Address `json:"address"`
	}
	// TokenManagerApp issues the council token.
	TokenManagerApp struct {
		Address Address `json:"address"`
		Token   Address `json:"token"`
	}
	// VotingApp is a voting app and the token it counts.
	VotingApp struct {
		Address Address `json:"address"`
		Token   Address `json:"token"`
	}
)

// PrepareRequest carries the prepare-phase inputs.
type PrepareRequest struct {
	Asset           Address `json:"asset"`
	WrapName        string  `json:"wrap_name"`
	WrapSymbol      string  `json:"wrap_symbol"`
	AggregateName   string  `json:"aggregate_name"`
	AggregateSymbol string  `json:"aggregate_symbol"`
}

// FinalizeRequest carries the finalize-phase inputs. A zero FinancePeriod
// selects the service default.
type FinalizeRequest struct {
	ID              string         `json:"id"`
	CommunityVoting VotingSettings `json:"community_voting"`
	CouncilMembers  []Address      `json:"council_members"`
	CouncilVoting   VotingSettings `json:"council_voting"`
	FinancePeriod   time.Duration  `json:"finance_period"`
}

// PreparedInstance is what prepare leaves for finalize.
type PreparedInstance struct {
	Org          Address         `json:"org"`
	Agent        AgentApp        `json:"agent"`
	TokenWrapper TokenWrapperApp `json:"token_wrapper"`
	Aggregator   AggregatorApp   `json:"aggregator"`
}

// PrepareResult is returned by Prepare.
type PrepareResult struct {
	PreparedInstance
	Receipt Receipt `json:"receipt"`
}

// Instance is a finalized two-phase organization.
type Instance struct {
	Org             Organization    `json:"org"`
	Agent           AgentApp        `json:"agent"`
	Finance         FinanceApp      `json:"finance"`
	TokenWrapper    TokenWrapperApp `json:"token_wrapper"`
	Aggregator      AggregatorApp   `json:"aggregator"`
	TokenManager    TokenManagerApp `json:"token_manager"`
	CouncilVoting   VotingApp       `json:"council_voting"`
	CommunityVoting VotingApp       `json:"community_voting"`
	CouncilToken    Address         `json:"council_token"`
	Name            string          `json:"name,omitempty"`
}

// FinalizeResult is returned by Finalize and CreateInstance.
type FinalizeResult struct {
	Instance
	Receipt Receipt `json:"receipt"`
}

func preparedFromCache(entry CachedInstance) PreparedInstance {
	return PreparedInstance{
		Org:          entry.Org,
		Agent:        AgentApp{Address: entry.Agent},
		TokenWrapper: TokenWrapperApp{Address: entry.TokenWrapper, Asset: entry.Asset},
		Aggregator:   AggregatorApp{Address: entry.Aggregator},
	}
}

func (p PreparedInstance) cacheEntry(principal Address) CachedInstance {
	return CachedInstance{
		Principal:    principal,
		Org:          p.Org,
		Agent:        p.Agent.Address,
		TokenWrapper: p.TokenWrapper.Address,
		Aggregator:   p.Aggregator.Address,
		Asset:        p.TokenWrapper.Asset,
	}
}

// deployment accumulates one call's installs and events.
type deployment struct {
	ctx     context.Context
	tx      Transaction
	svc     *Service
	org     Organization
	phase   domain.Phase
	receipt *Receipt
}

func (s *Service) newReceipt(tx Transaction, op string, principal Address) *Receipt {
	return &Receipt{Operation: op, Principal: principal, At: tx.Now()}
}

func (s *Service) createOrganization(ctx context.Context, tx Transaction, principal Address, phase domain.Phase, receipt *Receipt) (*deployment, error) {
	org, ev, err := s.installer.NewOrganization(ctx, tx, TemplateAddress, principal)
	if err != nil {
		return nil, err
	}
	receipt.Append(ev)
	return &deployment{ctx: ctx, tx: tx, svc: s, org: org, phase: phase, receipt: receipt}, nil
}

func (s *Service) resume(ctx context.Context, tx Transaction, org Address, phase domain.Phase, receipt *Receipt) (*deployment, error) {
	o, ok := tx.FindOrganization(org)
	if !ok {
		return nil, fmt.Errorf("organization %s not found", org)
	}
	if o.Status != domain.OrgPrepared {
		return nil, fmt.Errorf("organization %s is %s, not prepared", org, o.Status)
	}
	return &deployment{ctx: ctx, tx: tx, svc: s, org: o, phase: phase, receipt: receipt}, nil
}

func (d *deployment) install(kind ComponentKind, params ComponentParams) (Component, error) {
	c, ev, err := d.svc.installer.Install(d.ctx, d.tx, TemplateAddress, InstallRequest{
		Org:    d.org.Address,
		Kind:   kind,
		Phase:  d.phase,
		Params: params,
	})
	if err != nil {
		return Component{}, err
	}
	d.receipt.Append(ev)
	return c, nil
}

func (d *deployment) acl() *aclWriter { return newACLWriter(d.tx, d.org) }

func (d *deployment) installAgent() (AgentApp, error) {
	c, err := d.install(domain.KindAgent, ComponentParams{Agent: &domain.AgentParams{}})
	if err != nil {
		return AgentApp{}, err
	}
	org, err := d.tx.UpdateOrganization(d.org.Address, func(o *Organization) error {
		o.RecoveryVault = c.Address
		return nil
	})
	if err != nil {
		return AgentApp{}, err
	}
	d.org = org
	return AgentApp{Address: c.Address}, nil
}

func (d *deployment) installTokenWrapper(asset Address, issued Address, name, symbol string) (TokenWrapperApp, error) {
	c, err := d.install(domain.KindTokenWrapper, ComponentParams{TokenWrapper: &domain.TokenWrapperParams{
		DepositedToken: asset,
		IssuedToken:    issued,
		Name:           name,
		Symbol:         symbol,
	}})
	if err != nil {
		return TokenWrapperApp{}, err
	}
	return TokenWrapperApp{Address: c.Address, Asset: asset}, nil
}

// installAggregator installs the aggregator with the wrapper as its only
// power source. The template keeps ADD_POWER_SOURCE_ROLE until finalize.
func (d *deployment) installAggregator(wrapper TokenWrapperApp, name, symbol string) (AggregatorApp, error) {
	c, err := d.install(domain.KindVotingAggregator, ComponentParams{Aggregator: &domain.AggregatorParams{
		Name:     name,
		Symbol:   symbol,
		Decimals: 18,
	}})
	if err != nil {
		return AggregatorApp{}, err
	}
	ref := c.Ref()
	if err := d.acl().Create(TemplateAddress, ref, domain.RoleAddPowerSource, TemplateAddress, TemplateAddress); err != nil {
		return AggregatorApp{}, err
	}
	err = addPowerSource(d.tx, TemplateAddress, c.Address, domain.PowerSource{
		Source: wrapper.Address,
		Type:   domain.PowerSourceERC20WithCheckpointing,
		Weight: 1,
	})
	if err != nil {
		return AggregatorApp{}, err
	}
	return AggregatorApp{Address: c.Address}, nil
}

func (d *deployment) installFinance(agent AgentApp, period time.Duration) (FinanceApp, error) {
	c, err := d.install(domain.KindFinance, ComponentParams{Finance: &domain.FinanceParams{
		Vault:          agent.Address,
		PeriodDuration: period,
	}})
	if err != nil {
		return FinanceApp{}, err
	}
	return FinanceApp{Address: c.Address}, nil
}

// installTokenManager deploys the non-transferable council token and hands
// it to a token manager capped at one token per account.
func (d *deployment) installTokenManager(spec TokenSpec) (TokenManagerApp, error) {
	token, ev, err := d.svc.installer.DeployToken(d.ctx, d.tx, TemplateAddress, spec)
	if err != nil {
		return TokenManagerApp{}, err
	}
	d.receipt.Append(ev)
	c, err := d.install(domain.KindTokenManager, ComponentParams{TokenManager: &domain.TokenManagerParams{
		Token:            token.Address,
		Transferable:     spec.Transferable,
		MaxAccountTokens: 1,
	}})
	if err != nil {
		return TokenManagerApp{}, err
	}
	return TokenManagerApp{Address: c.Address, Token: token.Address}, nil
}

func (d *deployment) installVoting(token Address, settings VotingSettings) (VotingApp, error) {
	c, err := d.install(domain.KindVoting, ComponentParams{Voting: &domain.VotingParams{
		Token:    token,
		Settings: settings,
	}})
	if err != nil {
		return VotingApp{}, err
	}
	return VotingApp{Address: c.Address, Token: token}, nil
}

func (d *deployment) installCouncilVoting(tm TokenManagerApp, settings VotingSettings) (VotingApp, error) {
	return d.installVoting(tm.Token, settings)
}

func (d *deployment) installCommunityVoting(agg AggregatorApp, settings VotingSettings) (VotingApp, error) {
	return d.installVoting(agg.Address, settings)
}

// mintCouncil gives each member one council token under a temporary
// MINT_ROLE that the permission graph later hands to community voting.
func (d *deployment) mintCouncil(tm TokenManagerApp, members []Address) error {
	ref := domain.Ref{Kind: domain.KindTokenManager, Address: tm.Address}
	if err := d.acl().Create(TemplateAddress, ref, domain.RoleMint, TemplateAddress, TemplateAddress); err != nil {
		return err
	}
	for _, m := range members {
		if err := mint(d.tx, TemplateAddress, tm.Address, m, 1); err != nil {
			return fmt.Errorf("mint council token to %s: %w", m, err)
		}
	}
	return nil
}

func (d *deployment) wire(ops []permissions.Operation) error {
	return d.acl().Apply(TemplateAddress, ops)
}

func (d *deployment) register(id string, owner Address) error {
	if id == "" {
		return nil
	}
	_, ev, err := d.svc.registrar.Register(d.ctx, d.tx, id, d.org.Address, owner)
	if err != nil {
		return err
	}
	d.receipt.Append(ev)
	return nil
}

func (d *deployment) complete(id string) (Organization, error) {
	org, err := d.tx.UpdateOrganization(d.org.Address, func(o *Organization) error {
		o.Status = domain.OrgFinalized
		o.Name = id
		return nil
	})
	if err != nil {
		return Organization{}, err
	}
	d.org = org
	d.receipt.Append(Event{Type: domain.EventSetupDao, Org: org.Address})
	return org, nil
}

func validateFinalize(req FinalizeRequest) error {
	if len(req.CouncilMembers) == 0 {
		return domain.ErrMissingCouncilMembers
	}
	for i, m := range req.CouncilMembers {
		if m.IsZero() {
			return fmt.Errorf("council member %d: %w", i, domain.ErrMissingCouncilMembers)
		}
	}
	if req.ID != "" {
		if err := ValidateID(req.ID); err != nil {
			return err
		}
	}
	return nil
}

// prepareIn runs the prepare phase inside tx.
func (s *Service) prepareIn(ctx context.Context, tx Transaction, principal Address, req PrepareRequest, receipt *Receipt) (PreparedInstance, error) {
	if err := s.prober.Probe(tx, req.Asset); err != nil {
		return PreparedInstance{}, err
	}
	d, err := s.createOrganization(ctx, tx, principal, domain.PhasePrepare, receipt)
	if err != nil {
		return PreparedInstance{}, err
	}
	agent, err := d.installAgent()
	if err != nil {
		return PreparedInstance{}, err
	}
	wrapper, err := d.installTokenWrapper(req.Asset, Address{}, req.WrapName, req.WrapSymbol)
	if err != nil {
		return PreparedInstance{}, err
	}
	aggregator, err := d.installAggregator(wrapper, req.AggregateName, req.AggregateSymbol)
	if err != nil {
		return PreparedInstance{}, err
	}
	return PreparedInstance{Org: d.org.Address, Agent: agent, TokenWrapper: wrapper, Aggregator: aggregator}, nil
}

// finalizeIn runs the finalize pipeline over a prepared organization inside tx.
func (s *Service) finalizeIn(ctx context.Context, tx Transaction, principal Address, prepared PreparedInstance, req FinalizeRequest, receipt *Receipt) (Instance, error) {
	d, err := s.resume(ctx, tx, prepared.Org, domain.PhaseFinalize, receipt)
	if err != nil {
		return Instance{}, err
	}
	period := req.FinancePeriod
	if period == 0 {
		period = s.financePeriod
	}
	finance, err := d.installFinance(prepared.Agent, period)
	if err != nil {
		return Instance{}, err
	}
	tm, err := d.installTokenManager(s.councilToken)
	if err != nil {
		return Instance{}, err
	}
	council, err := d.installCouncilVoting(tm, req.CouncilVoting)
	if err != nil {
		return Instance{}, err
	}
	community, err := d.installCommunityVoting(prepared.Aggregator, req.CommunityVoting)
	if err != nil {
		return Instance{}, err
	}
	if err := d.mintCouncil(tm, req.CouncilMembers); err != nil {
		return Instance{}, err
	}
	ops, err := permissions.Build(permissions.Topology{
		Template:        TemplateAddress,
		Kernel:          d.org.Address,
		ACL:             d.org.ACL,
		Registry:        d.org.Registry,
		Agent:           prepared.Agent.Address,
		Finance:         finance.Address,
		CommunityVoting: community.Address,
		CouncilVoting:   council.Address,
		TokenManager:    tm.Address,
		TokenWrapper:    prepared.TokenWrapper.Address,
		Aggregator:      prepared.Aggregator.Address,
	})
	if err != nil {
		return Instance{}, err
	}
	if err := d.wire(ops); err != nil {
		return Instance{}, err
	}
	if err := d.register(req.ID, principal); err != nil {
		return Instance{}, err
	}
	org, err := d.complete(req.ID)
	if err != nil {
		return Instance{}, err
	}
	return Instance{
		Org:             org,
		Agent:           prepared.Agent,
		Finance:         finance,
		TokenWrapper:    prepared.TokenWrapper,
		Aggregator:      prepared.Aggregator,
		TokenManager:    tm,
		CouncilVoting:   council,
		CommunityVoting: community,
		CouncilToken:    tm.Token,
		Name:            req.ID,
	}, nil
}

// Prepare creates an organization with its agent, token wrapper and
// aggregator, and caches it for principal. An earlier unfinished prepare by
// the same principal is superseded and its organization marked orphaned.
func (s *Service) Prepare(ctx context.Context, principal Address, req PrepareRequest) (PrepareResult, error) {
	var out PrepareResult
	_, err := s.run(ctx, OpPrepareInstance, principal, func(tx Transaction) (string, error) {
		if principal.IsZero() {
			return "", fmt.Errorf("principal is required")
		}
		receipt := s.newReceipt(tx, OpPrepareInstance, principal)
		prepared, err := s.prepareIn(ctx, tx, principal, req, receipt)
		if err != nil {
			return "", err
		}
		prev, replaced, err := s.cache.Put(tx, prepared.cacheEntry(principal))
		if err != nil {
			return "", err
		}
		if replaced {
			if err := orphan(tx, prev.Org); err != nil {
				return "", err
			}
		}
		out = PrepareResult{PreparedInstance: prepared, Receipt: *receipt}
		return prepared.Org.Hex(), nil
	})
	if err != nil {
		return PrepareResult{}, err
	}
	s.publish(ctx, out.Receipt)
	return out, nil
}

// orphan marks a still-prepared organization as abandoned. The lifecycle
// rule reports it as a warning.
func orphan(tx Transaction, org Address) error {
	o, ok := tx.FindOrganization(org)
	if !ok || o.Status != domain.OrgPrepared {
		return nil
	}
	_, err := tx.UpdateOrganization(org, func(o *Organization) error {
		o.Status = domain.OrgOrphaned
		return nil
	})
	return err
}

// Finalize installs the remaining apps of principal's prepared organization,
// wires its permissions, optionally registers req.ID and clears the cache.
// On failure nothing changes and the prepared organization can be finalized
// again.
func (s *Service) Finalize(ctx context.Context, principal Address, req FinalizeRequest) (FinalizeResult, error) {
	var out FinalizeResult
	_, err := s.run(ctx, OpFinalizeInstance, principal, func(tx Transaction) (string, error) {
		if err := validateFinalize(req); err != nil {
			return "", err
		}
		entry, ok := s.cache.Get(tx, tx.Now(), principal)
		if !ok {
			return "", domain.ErrMissingCache
		}
		receipt := s.newReceipt(tx, OpFinalizeInstance, principal)
		inst, err := s.finalizeIn(ctx, tx, principal, preparedFromCache(entry), req, receipt)
		if err != nil {
			return "", err
		}
		if _, err := s.cache.Take(tx, principal); err != nil {
			return "", err
		}
		out = FinalizeResult{Instance: inst, Receipt: *receipt}
		return inst.Org.Address.Hex(), nil
	})
	if err != nil {
		return FinalizeResult{}, err
	}
	s.publish(ctx, out.Receipt)
	return out, nil
}

// CreateInstance runs both phases in one call. It produces the same
// permission wiring as Prepare followed by Finalize and leaves principal's
// cache untouched.
func (s *Service) CreateInstance(ctx context.Context, principal Address, prep PrepareRequest, fin FinalizeRequest) (FinalizeResult, error) {
	var out FinalizeResult
	_, err := s.run(ctx, OpCreateInstance, principal, func(tx Transaction) (string, error) {
		if principal.IsZero() {
			return "", fmt.Errorf("principal is required")
		}
		if err := validateFinalize(fin); err != nil {
			return "", err
		}
		receipt := s.newReceipt(tx, OpCreateInstance, principal)
		prepared, err := s.prepareIn(ctx, tx, principal, prep, receipt)
		if err != nil {
			return "", err
		}
		inst, err := s.finalizeIn(ctx, tx, principal, prepared, fin, receipt)
		if err != nil {
			return "", err
		}
		out = FinalizeResult{Instance: inst, Receipt: *receipt}
		return inst.Org.Address.Hex(), nil
	})
	if err != nil {
		return FinalizeResult{}, err
	}
	s.publish(ctx, out.Receipt)
	return out, nil
}
