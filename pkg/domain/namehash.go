package domain

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// NameHash computes the ENS namehash of a dotted name, used for app IDs and
// registrar nodes.
func NameHash(name string) [32]byte {
	var node [32]byte
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := keccak256([]byte(labels[i]))
		node = keccak256(node[:], labelHash[:])
	}
	return node
}

// NameHashHex is NameHash in 0x-prefixed hex form.
func NameHashHex(name string) string {
	node := NameHash(name)
	return "0x" + hex.EncodeToString(node[:])
}

func keccak256(parts ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
