// Package codec is the canonical record codec for everything the store
// persists and everything it hashes. Encoding is CBOR Core Deterministic
// Encoding (RFC 8949 §4.2), so equal values always produce identical bytes
// and content hashes of composite records are stable across processes.
package codec

import (
	"crypto/sha512"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/siteforge/wttpd/pkg/types"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	// Unknown fields are ignored on decode so records written by a newer
	// revision stay readable.
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// HashOf is the content identity of a record: SHA-512 over its canonical
// encoding. Header hashes and ETags are computed through this.
func HashOf(v any) (types.Hash, error) {
	data, err := Marshal(v)
	if err != nil {
		return types.Hash{}, fmt.Errorf("hashing record: %w", err)
	}
	return types.Hash(sha512.Sum512(data)), nil
}
