package domain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// AddressLength is the byte length of every ledger address.
const AddressLength = 20

// Address identifies an account, organization, component or token on the ledger.
type Address [AddressLength]byte

var (
	// ZeroAddress is the unset address. It never owns or manages anything.
	ZeroAddress Address
	// AnyAddress is the wildcard grantee: a permission granted to it is held by every entity.
	AnyAddress = Address{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	}
)

// ParseAddress decodes a 0x-prefixed (or bare) 40 character hex string.
func ParseAddress(s string) (Address, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(raw) != AddressLength*2 {
		return Address{}, fmt.Errorf("address %q: want %d hex characters, got %d", s, AddressLength*2, len(raw))
	}
	var a Address
	if _, err := hex.Decode(a[:], []byte(raw)); err != nil {
		return Address{}, fmt.Errorf("address %q: %w", s, err)
	}
	return a, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Hex returns the lowercase 0x-prefixed form.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string { return a.Hex() }

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == ZeroAddress }

// MarshalText implements encoding.TextMarshaler so addresses work as JSON map keys.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AddressDomain separates derivation spaces so an organization and an app
// deployed with the same deployer and nonce never collide.
type AddressDomain uint8

// Derivation domains.
const (
	DomainOrganization AddressDomain = iota + 1
	DomainApp
	DomainToken
	DomainPrincipal
)

type derivationKey [32]byte

// Keys are the ASCII domain name zero-padded to 32 bytes.
var derivationKeys = map[AddressDomain]derivationKey{
	DomainOrganization: {'d', 'a', 'o', 'f', 'o', 'r', 'g', 'e', '.', 'o', 'r', 'g'},
	DomainApp:          {'d', 'a', 'o', 'f', 'o', 'r', 'g', 'e', '.', 'a', 'p', 'p'},
	DomainToken:        {'d', 'a', 'o', 'f', 'o', 'r', 'g', 'e', '.', 't', 'o', 'k', 'e', 'n'},
	DomainPrincipal:    {'d', 'a', 'o', 'f', 'o', 'r', 'g', 'e', '.', 'p', 'r', 'i', 'n', 'c', 'i', 'p', 'a', 'l'},
}

// DeriveAddress computes a deterministic address from a deployer and its
// deployment nonce. Identical ledgers replaying identical calls therefore
// produce identical addresses.
func DeriveAddress(d AddressDomain, deployer Address, nonce uint64) Address {
	key, ok := derivationKeys[d]
	if !ok {
		panic(fmt.Sprintf("domain: unknown address domain %d", d))
	}
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("domain: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var buf [AddressLength + 8]byte
	copy(buf[:AddressLength], deployer[:])
	binary.BigEndian.PutUint64(buf[AddressLength:], nonce)
	_, _ = hasher.Write(buf[:])
	var out Address
	copy(out[:], hasher.Sum(nil))
	return out
}

// PrincipalAddress derives a stable address for a human-readable seed such as
// the template's own identity.
func PrincipalAddress(seed string) Address {
	key := derivationKeys[DomainPrincipal]
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("domain: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write([]byte(seed))
	var out Address
	copy(out[:], hasher.Sum(nil))
	return out
}
