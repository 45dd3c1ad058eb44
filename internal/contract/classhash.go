package contract

import (
	"errors"

	"github.com/NethermindEth/juno/core/crypto"
	"github.com/NethermindEth/juno/core/felt"

	"github.com/0xmhha/starknet-hive/pkg/types"
)

const (
	classVersionPrefix  = "CONTRACT_CLASS_V"
	defaultClassVersion = "0.1.0"
)

// ClassHash computes the hash of a Sierra class:
//
//	poseidon(version, external, l1_handler, constructor, keccak(abi), program)
func ClassHash(class *types.FlattenedSierraClass) (*felt.Felt, error) {
	if class == nil {
		return nil, errors.New("nil contract class")
	}

	version := class.ContractClassVersion
	if version == "" {
		version = defaultClassVersion
	}
	versionFelt, err := types.ShortString(classVersionPrefix + version)
	if err != nil {
		return nil, err
	}

	return crypto.PoseidonArray(
		versionFelt,
		entryPointsHash(class.EntryPointsByType.External),
		entryPointsHash(class.EntryPointsByType.L1Handler),
		entryPointsHash(class.EntryPointsByType.Constructor),
		types.StarknetKeccak([]byte(class.Abi)),
		crypto.PoseidonArray(class.SierraProgram...),
	), nil
}

func entryPointsHash(eps []types.SierraEntryPoint) *felt.Felt {
	flat := make([]*felt.Felt, 0, 2*len(eps))
	for _, ep := range eps {
		flat = append(flat, ep.Selector, types.Uint64ToFelt(ep.FunctionIdx))
	}
	return crypto.PoseidonArray(flat...)
}
