package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
)

// Call is a single entry point invocation batched into an account multicall.
type Call struct {
	To       *felt.Felt
	Selector *felt.Felt
	Calldata []*felt.Felt
}

// NewCall builds a Call from a function name.
func NewCall(to *felt.Felt, function string, calldata ...*felt.Felt) (Call, error) {
	selector, err := SelectorFromName(function)
	if err != nil {
		return Call{}, err
	}
	return Call{To: to, Selector: selector, Calldata: calldata}, nil
}

// FunctionCall is the request body of starknet_call.
type FunctionCall struct {
	ContractAddress    *felt.Felt   `json:"contract_address"`
	EntryPointSelector *felt.Felt   `json:"entry_point_selector"`
	Calldata           []*felt.Felt `json:"calldata"`
}

func (fc FunctionCall) MarshalJSON() ([]byte, error) {
	type alias FunctionCall
	a := alias(fc)
	a.Calldata = nonNil(a.Calldata)
	return json.Marshal(a)
}

// BlockTag names a moving block.
type BlockTag string

const (
	BlockTagPending BlockTag = "pending"
	BlockTagLatest  BlockTag = "latest"
)

// BlockID selects a block by tag, number or hash. Exactly one is set.
type BlockID struct {
	Tag    BlockTag
	Number *uint64
	Hash   *felt.Felt
}

func PendingBlock() BlockID { return BlockID{Tag: BlockTagPending} }

func LatestBlock() BlockID { return BlockID{Tag: BlockTagLatest} }

func BlockNumber(n uint64) BlockID { return BlockID{Number: &n} }

func BlockHash(h *felt.Felt) BlockID { return BlockID{Hash: h} }

// ParseBlockID accepts "pending", "latest", a decimal block number or a
// 0x-prefixed block hash.
func ParseBlockID(s string) (BlockID, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", string(BlockTagPending):
		return PendingBlock(), nil
	case string(BlockTagLatest):
		return LatestBlock(), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		h, err := HexToFelt(s)
		if err != nil {
			return BlockID{}, err
		}
		return BlockHash(h), nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return BlockID{}, fmt.Errorf("%w: invalid block id %q", ErrEncoding, s)
	}
	return BlockNumber(n), nil
}

func (b BlockID) String() string {
	switch {
	case b.Hash != nil:
		return b.Hash.String()
	case b.Number != nil:
		return strconv.FormatUint(*b.Number, 10)
	case b.Tag != "":
		return string(b.Tag)
	default:
		return string(BlockTagPending)
	}
}

func (b BlockID) MarshalJSON() ([]byte, error) {
	switch {
	case b.Hash != nil:
		return json.Marshal(map[string]*felt.Felt{"block_hash": b.Hash})
	case b.Number != nil:
		return json.Marshal(map[string]uint64{"block_number": *b.Number})
	case b.Tag != "":
		return json.Marshal(string(b.Tag))
	default:
		return json.Marshal(string(BlockTagPending))
	}
}

// BlockHashAndNumber is the result of starknet_blockHashAndNumber.
type BlockHashAndNumber struct {
	BlockHash   *felt.Felt `json:"block_hash"`
	BlockNumber uint64     `json:"block_number"`
}
