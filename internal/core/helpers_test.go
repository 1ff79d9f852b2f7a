package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"daoforge/internal/infra/persistence/memory"
	"daoforge/pkg/domain"
)

var (
	owner = domain.PrincipalAddress("owner")
	other = domain.PrincipalAddress("other")
)

func member(i int) Address { return domain.PrincipalAddress(fmt.Sprintf("member-%d", i)) }

var (
	communitySettings = VotingSettings{SupportRequired: domain.Pct(50), MinAcceptQuorum: domain.Pct(5), Duration: 7 * 24 * time.Hour}
	councilSettings   = VotingSettings{SupportRequired: domain.Pct(50), MinAcceptQuorum: domain.Pct(50), Duration: 24 * time.Hour}
)

// newTestService returns a service over a memory store the test can reach.
func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore(NewDefaultRulesEngine())
	return NewService(store, opts...), store
}

func mustRegisterAsset(t *testing.T, svc *Service, seed string) Address {
	t.Helper()
	decimals := uint8(18)
	asset := Asset{
		Address:  domain.PrincipalAddress("asset:" + seed),
		Name:     "Asset " + seed,
		Symbol:   seed,
		Decimals: &decimals,
		Supply:   1_000,
		Balances: map[Address]uint64{owner: 1_000},
	}
	if err := svc.RegisterAsset(context.Background(), asset); err != nil {
		t.Fatalf("register asset: %v", err)
	}
	return asset.Address
}

func prepareRequest(asset Address) PrepareRequest {
	return PrepareRequest{Asset: asset, WrapName: "Wrapped X", WrapSymbol: "wX", AggregateName: "Agg X", AggregateSymbol: "AX"}
}

func finalizeRequest(id string, members ...Address) FinalizeRequest {
	return FinalizeRequest{
		ID:              id,
		CommunityVoting: communitySettings,
		CouncilMembers:  members,
		CouncilVoting:   councilSettings,
	}
}

func mustPrepare(t *testing.T, svc *Service, principal, asset Address) PrepareResult {
	t.Helper()
	res, err := svc.Prepare(context.Background(), principal, prepareRequest(asset))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	return res
}

func mustFinalize(t *testing.T, svc *Service, principal Address, req FinalizeRequest) FinalizeResult {
	t.Helper()
	res, err := svc.Finalize(context.Background(), principal, req)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return res
}

func mustPermission(t *testing.T, svc *Service, resource Address, role domain.Role) Permission {
	t.Helper()
	var (
		out Permission
		ok  bool
	)
	if err := svc.Store().View(context.Background(), func(view TransactionView) error {
		out, ok = view.FindPermission(PermissionKey{Resource: resource, Role: role})
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if !ok {
		t.Fatalf("permission %s on %s missing", role, resource)
	}
	return out
}

func hasPermission(t *testing.T, svc *Service, resource Address, role domain.Role) bool {
	t.Helper()
	ok := false
	_ = svc.Store().View(context.Background(), func(view TransactionView) error {
		_, ok = view.FindPermission(PermissionKey{Resource: resource, Role: role})
		return nil
	})
	return ok
}

func grantStrings(grants []PermissionGrant) []string {
	out := make([]string, 0, len(grants))
	for _, g := range grants {
		out = append(out, fmt.Sprintf("%s/%s manager=%s grantee=%s", g.Resource, g.Role, g.Manager, g.Grantee))
	}
	sort.Strings(out)
	return out
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *captureLogger) count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			n++
		}
	}
	return n
}

// inTx runs fn over a fresh organization rooted at TemplateAddress in a
// store without rules, returning fn's error.
func inTx(t *testing.T, fn func(ctx context.Context, tx Transaction, org Organization) error) error {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore(NewRulesEngine())
	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		org, _, err := NewLedgerInstaller(nil).NewOrganization(ctx, tx, TemplateAddress, owner)
		if err != nil {
			t.Fatalf("new organization: %v", err)
		}
		return fn(ctx, tx, org)
	})
	return err
}

func installAgent(ctx context.Context, tx Transaction, org Organization) (Component, error) {
	c, _, err := NewLedgerInstaller(nil).Install(ctx, tx, TemplateAddress, InstallRequest{
		Org:    org.Address,
		Kind:   domain.KindAgent,
		Phase:  domain.PhasePrepare,
		Params: ComponentParams{Agent: &domain.AgentParams{}},
	})
	return c, err
}
