// Package base58 converts between 32-byte addresses and their base58 text form.
package base58

import (
	"fmt"

	"github.com/mr-tron/base58"
)

func Encode(b []byte) string {
	return base58.Encode(b)
}

func DecodeFromString(str string) ([32]byte, error) {
	var out [32]byte
	b, err := base58.Decode(str)
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("invalid address length %d for %q", len(b), str)
	}
	copy(out[:], b)
	return out, nil
}

// MustDecodeFromString decodes a compile-time address constant and panics
// on malformed input.
func MustDecodeFromString(str string) [32]byte {
	out, err := DecodeFromString(str)
	if err != nil {
		panic(err)
	}
	return out
}
