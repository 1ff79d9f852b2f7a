package core

import (
	"context"
	"fmt"
	"strings"

	"daoforge/pkg/domain"
)

// DefaultNameDomain is the parent name organizations are registered under.
const DefaultNameDomain = "aragonid.eth"

// NameRegistrar binds identifiers to organization addresses.
type NameRegistrar interface {
	// Register claims label for target. Taken labels fail with domain.ErrNameExists.
	Register(ctx context.Context, tx Transaction, label string, target, owner Address) (NameRecord, Event, error)
	// Resolve returns the address label points at.
	Resolve(view TransactionView, label string) (Address, bool)
}

// FIFSRegistrar hands out labels first come, first served under one domain.
type FIFSRegistrar struct {
	domain string
}

// NewFIFSRegistrar returns a registrar for parent. Empty parent selects DefaultNameDomain.
func NewFIFSRegistrar(parent string) *FIFSRegistrar {
	parent = strings.Trim(strings.ToLower(parent), ".")
	if parent == "" {
		parent = DefaultNameDomain
	}
	return &FIFSRegistrar{domain: parent}
}

// Domain returns the parent name.
func (r *FIFSRegistrar) Domain() string { return r.domain }

// Node returns the namehash of label under the registrar's domain.
func (r *FIFSRegistrar) Node(label string) string {
	return domain.NameHashHex(label + "." + r.domain)
}

// Register implements NameRegistrar.
func (r *FIFSRegistrar) Register(_ context.Context, tx Transaction, label string, target, owner Address) (NameRecord, Event, error) {
	if err := ValidateID(label); err != nil {
		return NameRecord{}, Event{}, err
	}
	if target.IsZero() {
		return NameRecord{}, Event{}, fmt.Errorf("registrar: %q: target is required", label)
	}
	record := NameRecord{Label: label, Node: r.Node(label), Target: target, Owner: owner}
	if err := tx.CreateName(record); err != nil {
		return NameRecord{}, Event{}, fmt.Errorf("registrar: %w", err)
	}
	found, _ := tx.FindName(record.Node)
	return found, Event{Type: domain.EventClaimSubdomain, Org: target, Name: label}, nil
}

// Resolve implements NameRegistrar.
func (r *FIFSRegistrar) Resolve(view TransactionView, label string) (Address, bool) {
	rec, ok := view.FindName(r.Node(label))
	if !ok {
		return Address{}, false
	}
	return rec.Target, true
}

// ValidateID accepts a single lowercase DNS label: 1 to 63 characters of
// a-z, 0-9 and hyphen, not starting or ending with a hyphen.
func ValidateID(id string) error {
	if id == "" || len(id) > 63 {
		return domain.ErrInvalidID
	}
	if id[0] == '-' || id[len(id)-1] == '-' {
		return domain.ErrInvalidID
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
		default:
			return domain.ErrInvalidID
		}
	}
	return nil
}
