// Package types holds the Starknet JSON-RPC wire types and the field-element
// helpers shared by every hive component.
package types

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
	"golang.org/x/crypto/sha3"
)

// ErrEncoding is returned for calldata, selector or numeric values that cannot
// be represented on the wire.
var ErrEncoding = errors.New("encoding error")

const (
	defaultEntryPointName   = "__default__"
	defaultL1EntryPointName = "__l1_default__"
	maxShortStringLen       = 31
)

var fieldModulus = fp.Modulus()

// HexToFelt parses a 0x-prefixed hex string into a field element. Values that
// do not fit in the field are rejected instead of being silently reduced.
func HexToFelt(s string) (*felt.Felt, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if digits == "" || len(digits) > 64 {
		return nil, fmt.Errorf("%w: invalid felt %q", ErrEncoding, s)
	}
	v, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("%w: invalid felt %q", ErrEncoding, s)
	}
	return BigToFelt(v)
}

// MustHexToFelt is HexToFelt for compile-time constants.
func MustHexToFelt(s string) *felt.Felt {
	f, err := HexToFelt(s)
	if err != nil {
		panic(err)
	}
	return f
}

// HexToFelts parses every element of hexes.
func HexToFelts(hexes []string) ([]*felt.Felt, error) {
	out := make([]*felt.Felt, 0, len(hexes))
	for i, h := range hexes {
		f, err := HexToFelt(h)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// BigToFelt converts a non-negative integer below the field modulus.
func BigToFelt(v *big.Int) (*felt.Felt, error) {
	if v.Sign() < 0 || v.Cmp(fieldModulus) >= 0 {
		return nil, fmt.Errorf("%w: %s is outside the field", ErrEncoding, v.Text(16))
	}
	return new(felt.Felt).SetBytes(v.Bytes()), nil
}

// FeltToBig returns the canonical integer value of f.
func FeltToBig(f *felt.Felt) *big.Int {
	b := f.Bytes()
	return new(big.Int).SetBytes(b[:])
}

// Uint64ToFelt is a shorthand for small constants.
func Uint64ToFelt(v uint64) *felt.Felt {
	return new(felt.Felt).SetUint64(v)
}

// ShortString encodes an ASCII string of at most 31 characters as a felt.
func ShortString(s string) (*felt.Felt, error) {
	if len(s) > maxShortStringLen {
		return nil, fmt.Errorf("%w: short string %q longer than %d", ErrEncoding, s, maxShortStringLen)
	}
	if !isASCII(s) {
		return nil, fmt.Errorf("%w: short string %q is not ASCII", ErrEncoding, s)
	}
	return new(felt.Felt).SetBytes([]byte(s)), nil
}

// MustShortString is ShortString for compile-time constants.
func MustShortString(s string) *felt.Felt {
	f, err := ShortString(s)
	if err != nil {
		panic(err)
	}
	return f
}

// StarknetKeccak is keccak256 truncated to the low 250 bits.
func StarknetKeccak(data []byte) *felt.Felt {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	d := h.Sum(nil)
	d[0] &= 0x03
	return new(felt.Felt).SetBytes(d)
}

// SelectorFromName derives an entry point selector from its function name.
func SelectorFromName(name string) (*felt.Felt, error) {
	if name == defaultEntryPointName || name == defaultL1EntryPointName {
		return new(felt.Felt), nil
	}
	if name == "" || !isASCII(name) {
		return nil, fmt.Errorf("%w: invalid entry point name %q", ErrEncoding, name)
	}
	return StarknetKeccak([]byte(name)), nil
}

// MustSelectorFromName is SelectorFromName for compile-time constants.
func MustSelectorFromName(name string) *felt.Felt {
	f, err := SelectorFromName(name)
	if err != nil {
		panic(err)
	}
	return f
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// nonNil keeps empty felt slices serialised as [] instead of null.
func nonNil(fs []*felt.Felt) []*felt.Felt {
	if fs == nil {
		return []*felt.Felt{}
	}
	return fs
}

// CopyFelt returns a new felt holding the value of f.
func CopyFelt(f *felt.Felt) *felt.Felt {
	c := *f
	return &c
}
