package types

import (
	"encoding/json"

	"github.com/NethermindEth/juno/core/felt"
)

// SierraEntryPoint maps a selector to its index in the Sierra program.
type SierraEntryPoint struct {
	Selector    *felt.Felt `json:"selector"`
	FunctionIdx uint64     `json:"function_idx"`
}

type EntryPointsByType struct {
	Constructor []SierraEntryPoint `json:"CONSTRUCTOR"`
	External    []SierraEntryPoint `json:"EXTERNAL"`
	L1Handler   []SierraEntryPoint `json:"L1_HANDLER"`
}

// FlattenedSierraClass is the contract_class of a declare V3 transaction.
// Abi is the JSON string exactly as it was hashed.
type FlattenedSierraClass struct {
	SierraProgram        []*felt.Felt      `json:"sierra_program"`
	ContractClassVersion string            `json:"contract_class_version"`
	EntryPointsByType    EntryPointsByType `json:"entry_points_by_type"`
	Abi                  string            `json:"abi"`
}

func (c *FlattenedSierraClass) MarshalJSON() ([]byte, error) {
	type alias FlattenedSierraClass
	a := alias(*c)
	a.SierraProgram = nonNil(a.SierraProgram)
	if a.EntryPointsByType.Constructor == nil {
		a.EntryPointsByType.Constructor = []SierraEntryPoint{}
	}
	if a.EntryPointsByType.External == nil {
		a.EntryPointsByType.External = []SierraEntryPoint{}
	}
	if a.EntryPointsByType.L1Handler == nil {
		a.EntryPointsByType.L1Handler = []SierraEntryPoint{}
	}
	return json.Marshal(a)
}
