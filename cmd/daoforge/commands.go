package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"daoforge/internal/core"
	"daoforge/pkg/domain"
)

// parseAddress accepts a 0x-prefixed hex address or @seed, which derives a
// stable address from the seed.
func parseAddress(s string) (domain.Address, error) {
	s = strings.TrimSpace(s)
	if seed, ok := strings.CutPrefix(s, "@"); ok {
		if seed == "" {
			return domain.Address{}, fmt.Errorf("empty address seed")
		}
		return domain.PrincipalAddress(seed), nil
	}
	return domain.ParseAddress(s)
}

func parseAddresses(in []string) ([]domain.Address, error) {
	out := make([]domain.Address, 0, len(in))
	for _, s := range in {
		a, err := parseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func requireAddress(name, value string) (domain.Address, error) {
	if value == "" {
		return domain.Address{}, usagef("--%s is required", name)
	}
	a, err := parseAddress(value)
	if err != nil {
		return domain.Address{}, usagef("--%s: %v", name, err)
	}
	return a, nil
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// helpRequest carries a subcommand's flag usage back to cli.
type helpRequest struct{ usage string }

func (h helpRequest) Error() string { return pflag.ErrHelp.Error() }

// parseFlags parses args and allows at most positional arguments.
func parseFlags(fs *pflag.FlagSet, args []string, positional int) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return helpRequest{usage: fmt.Sprintf("usage: daoforge %s [flags]\n\n%s", fs.Name(), fs.FlagUsages())}
		}
		return usageError{err}
	}
	if fs.NArg() > positional {
		return usagef("unexpected argument %q", fs.Arg(positional))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// votingFlags binds the three voting parameters under prefix. Percentages
// are whole numbers.
type votingFlags struct {
	support  uint64
	quorum   uint64
	duration time.Duration
}

func (v *votingFlags) bind(fs *pflag.FlagSet, prefix string, support, quorum uint64, duration time.Duration) {
	fs.Uint64Var(&v.support, prefix+"support", support, "required support, percent")
	fs.Uint64Var(&v.quorum, prefix+"quorum", quorum, "minimum acceptance quorum, percent")
	fs.DurationVar(&v.duration, prefix+"duration", duration, "vote duration")
}

func (v votingFlags) settings() core.VotingSettings {
	return core.VotingSettings{
		SupportRequired: domain.Pct(v.support),
		MinAcceptQuorum: domain.Pct(v.quorum),
		Duration:        v.duration,
	}
}

type prepareFlags struct {
	asset           string
	wrapName        string
	wrapSymbol      string
	aggregateName   string
	aggregateSymbol string
}

func (p *prepareFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&p.asset, "asset", "", "external asset to wrap")
	fs.StringVar(&p.wrapName, "wrap-name", "", "wrapped token name")
	fs.StringVar(&p.wrapSymbol, "wrap-symbol", "", "wrapped token symbol")
	fs.StringVar(&p.aggregateName, "aggregate-name", "", "aggregated voting power name")
	fs.StringVar(&p.aggregateSymbol, "aggregate-symbol", "", "aggregated voting power symbol")
}

func (p prepareFlags) request() (core.PrepareRequest, error) {
	asset, err := requireAddress("asset", p.asset)
	if err != nil {
		return core.PrepareRequest{}, err
	}
	return core.PrepareRequest{
		Asset:           asset,
		WrapName:        p.wrapName,
		WrapSymbol:      p.wrapSymbol,
		AggregateName:   p.aggregateName,
		AggregateSymbol: p.aggregateSymbol,
	}, nil
}

type finalizeFlags struct {
	id            string
	members       []string
	community     votingFlags
	council       votingFlags
	financePeriod time.Duration
}

func (f *finalizeFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.id, "id", "", "name to register; empty skips registration")
	fs.StringSliceVar(&f.members, "member", nil, "council member address (repeatable)")
	f.community.bind(fs, "community-", 50, 15, 7*24*time.Hour)
	f.council.bind(fs, "council-", 50, 50, 24*time.Hour)
	fs.DurationVar(&f.financePeriod, "finance-period", 0, "finance accounting period; zero uses the configured default")
}

func (f finalizeFlags) request() (core.FinalizeRequest, error) {
	members, err := parseAddresses(f.members)
	if err != nil {
		return core.FinalizeRequest{}, usagef("--member: %v", err)
	}
	return core.FinalizeRequest{
		ID:              f.id,
		CommunityVoting: f.community.settings(),
		CouncilMembers:  members,
		CouncilVoting:   f.council.settings(),
		FinancePeriod:   f.financePeriod,
	}, nil
}

func principalFlag(fs *pflag.FlagSet) *string {
	return fs.String("as", "", "acting principal")
}

func runAsset(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("asset")
	addr := fs.String("address", "", "asset address")
	name := fs.String("name", "", "asset name")
	symbol := fs.String("symbol", "", "asset symbol")
	decimals := fs.Int("decimals", 18, "asset decimals; negative registers an asset without decimals")
	supply := fs.Uint64("supply", 0, "total supply")
	holders := fs.StringArray("holder", nil, "balance as address=amount (repeatable)")
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	address, err := requireAddress("address", *addr)
	if err != nil {
		return err
	}
	asset := core.Asset{Address: address, Name: *name, Symbol: *symbol, Supply: *supply, Balances: map[domain.Address]uint64{}}
	if *decimals >= 0 {
		if *decimals > 255 {
			return usagef("--decimals must be at most 255")
		}
		d := uint8(*decimals)
		asset.Decimals = &d
	}
	for _, h := range *holders {
		who, amount, ok := strings.Cut(h, "=")
		if !ok {
			return usagef("--holder %q: want address=amount", h)
		}
		holder, err := parseAddress(who)
		if err != nil {
			return usagef("--holder %q: %v", h, err)
		}
		n, err := strconv.ParseUint(amount, 10, 64)
		if err != nil {
			return usagef("--holder %q: %v", h, err)
		}
		asset.Balances[holder] = n
	}
	if err := a.svc.RegisterAsset(ctx, asset); err != nil {
		return err
	}
	return writeJSON(stdout, asset)
}

func runAccount(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("account")
	addr := fs.String("address", "", "account address")
	label := fs.String("label", "", "human-readable label")
	forwarder := fs.Bool("forwarder", false, "account can forward actions, as a multisig does")
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	address, err := requireAddress("address", *addr)
	if err != nil {
		return err
	}
	acct := core.Account{Address: address, Label: *label}
	if *forwarder {
		acct.Capabilities = append(acct.Capabilities, domain.CapabilityForwarder)
	}
	if err := a.svc.RegisterAccount(ctx, acct); err != nil {
		return err
	}
	return writeJSON(stdout, acct)
}

func runPrepare(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("prepare")
	as := principalFlag(fs)
	var pf prepareFlags
	pf.bind(fs)
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	principal, err := requireAddress("as", *as)
	if err != nil {
		return err
	}
	req, err := pf.request()
	if err != nil {
		return err
	}
	res, err := a.svc.Prepare(ctx, principal, req)
	if err != nil {
		return err
	}
	return writeJSON(stdout, res)
}

func runFinalize(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("finalize")
	as := principalFlag(fs)
	var ff finalizeFlags
	ff.bind(fs)
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	principal, err := requireAddress("as", *as)
	if err != nil {
		return err
	}
	req, err := ff.request()
	if err != nil {
		return err
	}
	res, err := a.svc.Finalize(ctx, principal, req)
	if err != nil {
		return err
	}
	return writeJSON(stdout, res)
}

func runCreate(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("create")
	as := principalFlag(fs)
	var pf prepareFlags
	var ff finalizeFlags
	pf.bind(fs)
	ff.bind(fs)
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	principal, err := requireAddress("as", *as)
	if err != nil {
		return err
	}
	prep, err := pf.request()
	if err != nil {
		return err
	}
	fin, err := ff.request()
	if err != nil {
		return err
	}
	res, err := a.svc.CreateInstance(ctx, principal, prep, fin)
	if err != nil {
		return err
	}
	return writeJSON(stdout, res)
}

func runNewToken(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("new-token")
	as := principalFlag(fs)
	name := fs.String("name", "", "token name")
	symbol := fs.String("symbol", "", "token symbol")
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	principal, err := requireAddress("as", *as)
	if err != nil {
		return err
	}
	res, err := a.svc.NewToken(ctx, principal, *name, *symbol)
	if err != nil {
		return err
	}
	return writeJSON(stdout, res)
}

func runNewInstance(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("new-instance")
	as := principalFlag(fs)
	id := fs.String("id", "", "name to register")
	asset := fs.String("asset", "", "external asset to wrap")
	authority := fs.String("authority", "", "forwarding account that governs the organization; empty makes voting the root")
	var vf votingFlags
	vf.bind(fs, "", 50, 15, 7*24*time.Hour)
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	principal, err := requireAddress("as", *as)
	if err != nil {
		return err
	}
	assetAddr, err := requireAddress("asset", *asset)
	if err != nil {
		return err
	}
	req := core.NewInstanceRequest{ID: *id, Asset: assetAddr, Voting: vf.settings()}
	if *authority != "" {
		if req.Authority, err = parseAddress(*authority); err != nil {
			return usagef("--authority: %v", err)
		}
	}
	res, err := a.svc.NewInstance(ctx, principal, req)
	if err != nil {
		return err
	}
	return writeJSON(stdout, res)
}

type inspection struct {
	Organization core.Organization `json:"organization"`
	Components   []core.Component  `json:"components"`
	Permissions  []core.Permission `json:"permissions"`
	ACLDigest    string            `json:"acl_digest"`
}

func runInspect(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("inspect")
	orgFlag := fs.String("org", "", "organization address")
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	org, err := requireAddress("org", *orgFlag)
	if err != nil {
		return err
	}
	var out inspection
	if out.Organization, err = a.svc.Organization(ctx, org); err != nil {
		return err
	}
	if out.Components, err = a.svc.Components(ctx, org); err != nil {
		return err
	}
	if out.Permissions, err = a.svc.Permissions(ctx, org); err != nil {
		return err
	}
	if out.ACLDigest, err = a.svc.ACLDigest(ctx, org); err != nil {
		return err
	}
	return writeJSON(stdout, out)
}

func runResolve(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("resolve")
	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usagef("resolve takes exactly one name")
	}
	id := fs.Arg(0)
	addr, ok, err := a.svc.Resolve(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%q is not registered: %w", id, core.ErrNotFound)
	}
	return writeJSON(stdout, map[string]string{"id": id, "org": addr.Hex()})
}

type pendingState struct {
	Instance *core.CachedInstance `json:"instance,omitempty"`
	Token    *core.CachedToken    `json:"token,omitempty"`
}

func runPending(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("pending")
	as := principalFlag(fs)
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	principal, err := requireAddress("as", *as)
	if err != nil {
		return err
	}
	var out pendingState
	inst, ok, err := a.svc.PendingInstance(ctx, principal)
	if err != nil {
		return err
	}
	if ok {
		out.Instance = &inst
	}
	tok, ok, err := a.svc.PendingToken(ctx, principal)
	if err != nil {
		return err
	}
	if ok {
		out.Token = &tok
	}
	return writeJSON(stdout, out)
}

func runOrphans(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("orphans")
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	orgs, err := a.svc.Orphans(ctx)
	if err != nil {
		return err
	}
	if orgs == nil {
		orgs = []core.Organization{}
	}
	return writeJSON(stdout, orgs)
}

func runReceipts(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("receipts")
	as := principalFlag(fs)
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	principal, err := requireAddress("as", *as)
	if err != nil {
		return err
	}
	receipts, err := a.svc.Receipts(ctx, principal)
	if err != nil {
		return err
	}
	return writeJSON(stdout, receipts)
}
