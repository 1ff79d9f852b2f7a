package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"daoforge/pkg/domain"
)

func TestValidateID(t *testing.T) {
	valid := []string{"myorg", "a", "org-2", "0x", strings.Repeat("a", 63)}
	invalid := []string{"", strings.Repeat("a", 64), "-org", "org-", "My", "my org", "my.org", "caf\u00e9"}
	cases := make(map[string]bool)
	for _, id := range valid {
		cases[id] = true
	}
	for _, id := range invalid {
		cases[id] = false
	}
	for id, ok := range cases {
		err := ValidateID(id)
		if ok && err != nil {
			t.Errorf("%q rejected: %v", id, err)
		}
		if !ok && !errors.Is(err, domain.ErrInvalidID) {
			t.Errorf("%q: expected invalid id, got %v", id, err)
		}
	}
}

func TestFIFSRegistrarDomainAndNode(t *testing.T) {
	r := NewFIFSRegistrar("")
	if r.Domain() != DefaultNameDomain {
		t.Fatalf("domain = %q", r.Domain())
	}
	if r.Node("myorg") != domain.NameHashHex("myorg.aragonid.eth") {
		t.Fatalf("node mismatch")
	}
	custom := NewFIFSRegistrar(".Example.ETH.")
	if custom.Domain() != "example.eth" {
		t.Fatalf("custom domain = %q", custom.Domain())
	}
	if custom.Node("myorg") == r.Node("myorg") {
		t.Fatalf("different parents must give different nodes")
	}
}

func TestFIFSRegistrarFirstComeFirstServed(t *testing.T) {
	r := NewFIFSRegistrar("")
	err := inTx(t, func(ctx context.Context, tx Transaction, org Organization) error {
		rec, ev, err := r.Register(ctx, tx, "myorg", org.Address, owner)
		if err != nil {
			return err
		}
		if rec.Target != org.Address || rec.Owner != owner || rec.Node != r.Node("myorg") {
			t.Fatalf("record = %+v", rec)
		}
		if ev.Type != domain.EventClaimSubdomain || ev.Name != "myorg" || ev.Org != org.Address {
			t.Fatalf("event = %+v", ev)
		}
		if addr, ok := r.Resolve(tx, "myorg"); !ok || addr != org.Address {
			t.Fatalf("resolve = %s %v", addr, ok)
		}
		if _, _, err := r.Register(ctx, tx, "myorg", org.ACL, other); !errors.Is(err, domain.ErrNameExists) {
			t.Fatalf("expected name exists, got %v", err)
		}
		if _, _, err := r.Register(ctx, tx, "fresh", Address{}, other); err == nil {
			t.Fatalf("zero target accepted")
		}
		if _, _, err := r.Register(ctx, tx, "Nope", org.Address, other); !errors.Is(err, domain.ErrInvalidID) {
			t.Fatalf("expected invalid id, got %v", err)
		}
		if _, ok := r.Resolve(tx, "missing"); ok {
			t.Fatalf("unregistered label resolved")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}
