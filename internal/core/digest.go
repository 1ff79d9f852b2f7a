package core

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"

	"daoforge/internal/codec"
	"daoforge/pkg/domain"
)

// aclEntry is the address-free form of one permission.
type aclEntry struct {
	Resource string   `cbor:"1,keyasint"`
	Role     string   `cbor:"2,keyasint"`
	Manager  string   `cbor:"3,keyasint"`
	Grantees []string `cbor:"4,keyasint"`
}

// labeler names addresses by the role they play in one organization, so two
// organizations wired the same way canonicalize identically.
type labeler struct {
	labels map[Address]string
}

func newLabeler(view TransactionView, org Organization) *labeler {
	l := &labeler{labels: map[Address]string{
		TemplateAddress:   "template",
		domain.AnyAddress: "any",
		org.Creator:       "creator",
	}}
	components := view.ListComponents(org.Address)
	for _, c := range components {
		l.labels[c.Address] = string(c.Kind)
	}
	for _, c := range components {
		switch {
		case c.Kind == domain.KindTokenManager && c.Params.TokenManager != nil:
			l.labels[c.Params.TokenManager.Token] = "token"
		case c.Kind == domain.KindTokenWrapper && c.Params.TokenWrapper != nil:
			if _, ok := l.labels[c.Params.TokenWrapper.DepositedToken]; !ok {
				l.labels[c.Params.TokenWrapper.DepositedToken] = "asset"
			}
			if !c.Params.TokenWrapper.IssuedToken.IsZero() {
				l.labels[c.Params.TokenWrapper.IssuedToken] = "token"
			}
		}
	}
	// Two voting apps share a kind; name each after the token it counts.
	for _, c := range components {
		if c.Kind == domain.KindVoting && c.Params.Voting != nil {
			l.labels[c.Address] = fmt.Sprintf("%s(%s)", c.Kind, l.label(c.Params.Voting.Token))
		}
	}
	return l
}

func (l *labeler) label(a Address) string {
	if name, ok := l.labels[a]; ok {
		return name
	}
	return a.Hex()
}

// canonicalACL returns org's permissions with addresses replaced by labels,
// sorted by resource then role.
func canonicalACL(view TransactionView, org Organization) []aclEntry {
	l := newLabeler(view, org)
	owned := make(map[Address]struct{})
	for _, c := range view.ListComponents(org.Address) {
		owned[c.Address] = struct{}{}
	}
	var out []aclEntry
	for _, p := range view.ListPermissions() {
		if _, ok := owned[p.Resource]; !ok {
			continue
		}
		e := aclEntry{Resource: l.label(p.Resource), Role: p.Role.String(), Manager: l.label(p.Manager)}
		for _, g := range p.Grantees {
			e.Grantees = append(e.Grantees, l.label(g))
		}
		sort.Strings(e.Grantees)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Role < out[j].Role
	})
	return out
}

// aclDigest hashes the canonical ACL of org. Organizations with identical
// wiring have identical digests regardless of their addresses.
func aclDigest(view TransactionView, org Organization) (string, error) {
	data, err := codec.Marshal(canonicalACL(view, org))
	if err != nil {
		return "", fmt.Errorf("acl digest: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
