// Package common contains small helper types shared across the toolkit.
package common

import (
	"encoding/hex"
	"fmt"
)

// HashLength is the expected length of a content hash in bytes.
const HashLength = 32

// Hash represents the Keccak-256 content hash of a function or program.
type Hash [HashLength]byte

// BytesToHash sets b to hash. If b is larger than len(h), b will be cropped
// from the left.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// SetBytes sets the hash to the value of b. If b is larger than len(h), b
// will be cropped from the left.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > len(h) {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

// Bytes gets the byte representation of the underlying hash.
func (h Hash) Bytes() []byte { return h[:] }

// Hex converts a hash to a hex string.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements the stringer interface and is used also by the logger.
func (h Hash) String() string { return h.Hex() }

// TerminalString implements log.TerminalStringer, formatting a string for
// console output during logging.
func (h Hash) TerminalString() string {
	return fmt.Sprintf("%x..%x", h[:3], h[29:])
}

// CopyBytes returns an exact copy of the provided bytes.
func CopyBytes(b []byte) (copiedBytes []byte) {
	if b == nil {
		return nil
	}
	copiedBytes = make([]byte, len(b))
	copy(copiedBytes, b)
	return
}
