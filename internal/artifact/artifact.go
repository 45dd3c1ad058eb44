// Package artifact loads compiled contract artifacts produced by Scarb.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/0xmhha/starknet-hive/pkg/types"
)

// rawSierraClass accepts the ABI either as a JSON string (RPC form) or as
// the JSON array Scarb writes.
type rawSierraClass struct {
	SierraProgram        []*felt.Felt            `json:"sierra_program"`
	ContractClassVersion string                  `json:"contract_class_version"`
	EntryPointsByType    types.EntryPointsByType `json:"entry_points_by_type"`
	Abi                  json.RawMessage         `json:"abi"`
}

// ParseSierraClass decodes a contract_class.json document.
func ParseSierraClass(data []byte) (*types.FlattenedSierraClass, error) {
	var raw rawSierraClass
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode sierra class: %w", err)
	}
	if len(raw.SierraProgram) == 0 {
		return nil, errors.New("sierra class has an empty sierra_program")
	}
	for i, f := range raw.SierraProgram {
		if f == nil {
			return nil, fmt.Errorf("sierra_program[%d] is null", i)
		}
	}

	abi, err := flattenAbi(raw.Abi)
	if err != nil {
		return nil, err
	}
	return &types.FlattenedSierraClass{
		SierraProgram:        raw.SierraProgram,
		ContractClassVersion: raw.ContractClassVersion,
		EntryPointsByType:    raw.EntryPointsByType,
		Abi:                  abi,
	}, nil
}

// LoadSierraClass reads and decodes a contract_class.json file.
func LoadSierraClass(path string) (*types.FlattenedSierraClass, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract class: %w", err)
	}
	class, err := ParseSierraClass(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return class, nil
}

// flattenAbi returns the ABI as the string that gets hashed and sent. An
// array is compacted; a string is passed through unchanged.
func flattenAbi(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("failed to decode abi string: %w", err)
		}
		return s, nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", fmt.Errorf("failed to compact abi: %w", err)
	}
	return buf.String(), nil
}

// CompiledClassHash resolves the compiled class hash from either a hex
// literal or a file. The file may hold the bare hex value or a JSON object
// with a compiled_class_hash field.
func CompiledClassHash(value string) (*felt.Felt, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("compiled class hash is empty")
	}
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		if _, err := os.Stat(value); err != nil {
			return types.HexToFelt(value)
		}
	}

	data, err := os.ReadFile(value)
	if err != nil {
		return nil, fmt.Errorf("failed to read compiled class hash: %w", err)
	}
	return ParseCompiledClassHash(data)
}

// ParseCompiledClassHash decodes the contents of a compiled class hash file.
func ParseCompiledClassHash(data []byte) (*felt.Felt, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var doc struct {
			CompiledClassHash *felt.Felt `json:"compiled_class_hash"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode compiled class hash: %w", err)
		}
		if doc.CompiledClassHash == nil {
			return nil, errors.New("compiled_class_hash field is missing")
		}
		return doc.CompiledClassHash, nil
	}
	return types.HexToFelt(string(trimmed))
}
