package bril

import (
	"encoding/json"

	"golang.org/x/crypto/sha3"

	"github.com/brilang/go-bril/common"
)

// Hash returns the Keccak-256 hash of the function's canonical JSON encoding.
// Struct field order makes the encoding deterministic, so equal bodies hash
// equal; the optimization caches key on it.
func (fn *Function) Hash() common.Hash {
	data, err := json.Marshal(fn)
	if err != nil {
		// Only the void-typed Const case can fail, and decoding never
		// produces one.
		panic("bril: unencodable function: " + err.Error())
	}
	return HashBytes(data)
}

// HashBytes returns the Keccak-256 hash of the concatenation of the given
// byte slices.
func HashBytes(data ...[]byte) common.Hash {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var h common.Hash
	d.Sum(h[:0])
	return h
}
