package account

import (
	"fmt"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/0xmhha/starknet-hive/pkg/types"
)

// Encoding selects the __execute__ calldata layout of the account contract.
type Encoding int

const (
	// EncodingNew is the Cairo 1 layout: [n, (to, selector, len, ...args)...].
	EncodingNew Encoding = iota
	// EncodingLegacy is the Cairo 0 layout:
	// [n, (to, selector, offset, len)..., total, ...args].
	EncodingLegacy
)

func (e Encoding) String() string {
	if e == EncodingLegacy {
		return "legacy"
	}
	return "new"
}

// ParseEncoding accepts "new" / "cairo1" and "legacy" / "cairo0".
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "", "new", "cairo1":
		return EncodingNew, nil
	case "legacy", "cairo0":
		return EncodingLegacy, nil
	default:
		return EncodingNew, fmt.Errorf("unknown execution encoding %q", s)
	}
}

// ExecuteCalldata flattens calls into the calldata of an __execute__ multicall.
func ExecuteCalldata(calls []types.Call, enc Encoding) ([]*felt.Felt, error) {
	for i, c := range calls {
		if c.To == nil || c.Selector == nil {
			return nil, fmt.Errorf("%w: call %d has no target or selector", types.ErrEncoding, i)
		}
		for j, arg := range c.Calldata {
			if arg == nil {
				return nil, fmt.Errorf("%w: call %d argument %d is nil", types.ErrEncoding, i, j)
			}
		}
	}

	if enc == EncodingLegacy {
		return legacyCalldata(calls), nil
	}

	out := []*felt.Felt{types.Uint64ToFelt(uint64(len(calls)))}
	for _, c := range calls {
		out = append(out, c.To, c.Selector, types.Uint64ToFelt(uint64(len(c.Calldata))))
		out = append(out, c.Calldata...)
	}
	return out, nil
}

func legacyCalldata(calls []types.Call) []*felt.Felt {
	out := []*felt.Felt{types.Uint64ToFelt(uint64(len(calls)))}
	var args []*felt.Felt
	for _, c := range calls {
		out = append(out,
			c.To,
			c.Selector,
			types.Uint64ToFelt(uint64(len(args))),
			types.Uint64ToFelt(uint64(len(c.Calldata))),
		)
		args = append(args, c.Calldata...)
	}
	out = append(out, types.Uint64ToFelt(uint64(len(args))))
	return append(out, args...)
}
