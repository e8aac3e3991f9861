package domain

import (
	"strings"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

// Identity is an already-authenticated caller or owner address in canonical
// lowercase 0x-prefixed hex form.
type Identity string

// ZeroIdentity is the null address. It never owns batches or holds roles.
const ZeroIdentity Identity = "0x0000000000000000000000000000000000000000"

// ParseIdentity validates and canonicalizes a 20-byte hex address.
func ParseIdentity(s string) (Identity, error) {
	addr, err := ethtypes.NewAddress(strings.TrimSpace(s))
	if err != nil {
		return "", InvalidArgument("invalid identity %q: %v", s, err)
	}
	return Identity(addr.String()), nil
}

// MustParseIdentity is ParseIdentity for constants and tests.
func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Normalize returns the canonical form of i, or i unchanged when it is not a
// parseable address.
func (i Identity) Normalize() Identity {
	if id, err := ParseIdentity(string(i)); err == nil {
		return id
	}
	return i
}

// IsZero reports whether the identity is empty or the null address.
func (i Identity) IsZero() bool {
	return i == "" || i == ZeroIdentity
}

func (i Identity) String() string { return string(i) }
