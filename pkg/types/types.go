package types

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
)

// ProtocolVersion is the only protocol revision this store speaks. It doubles
// as the version tag mixed into chunk addresses, so a future revision that
// changes chunk semantics automatically lands in a disjoint address space.
const ProtocolVersion = "WTTP/3.0"

type Hash [64]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h *Hash) FromBytes(b []byte) error {
	if len(b) != 64 {
		return fmt.Errorf("invalid byte length for Hash: %d", len(b))
	}
	copy(h[:], b)
	return nil
}

func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash encoding: %w", err)
	}
	err = h.FromBytes(b)
	return h, err
}

// ChunkAddress computes the content address of a chunk: SHA-512 over the raw
// bytes followed by the protocol version tag. Identical bytes always map to
// the same address within one protocol revision.
func ChunkAddress(data []byte) Hash {
	hasher := sha512.New()
	hasher.Write(data)
	hasher.Write([]byte(ProtocolVersion))
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// Identity names an account in the royalty ledger and the role tables.
// The zero value means "nobody"; a RoyaltyRecord whose Publisher is the zero
// Identity has waived royalties for that chunk permanently.
type Identity string

func (i Identity) IsZero() bool {
	return i == ""
}

func (i Identity) Bytes() []byte {
	return []byte(i)
}

// Role names a group of identities that may administer resources whose
// header points at it.
type Role string

const (
	// SuperAdminRole bypasses every permission check.
	SuperAdminRole Role = "super-admin"
	// SiteAdminRole is administered by super admins and may manage
	// resource-admin roles.
	SiteAdminRole Role = "site-admin"
	// PublicRole is the sentinel meaning anyone may mutate resources whose
	// header names it. It is not backed by memberships.
	PublicRole Role = "*"
)

func (r Role) Bytes() []byte {
	return []byte(r)
}

// DataRegistration is one chunk of an upload: the raw bytes, the position in
// the resource's chunk list, and the identity credited as publisher if the
// bytes are new to the store.
type DataRegistration struct {
	Data       []byte
	ChunkIndex uint64
	Publisher  Identity
}
