// Package testing provides test utilities and helpers for starknet-hive tests.
package testing

import (
	"testing"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/0xmhha/starknet-hive/internal/contract"
	"github.com/0xmhha/starknet-hive/internal/signer"
	"github.com/0xmhha/starknet-hive/pkg/types"
)

// TestPrivateKey is the first predeployed devnet account key (DO NOT use in production)
const TestPrivateKey = "0x71d7bb07b9a64f6f78ac4c816aff4da9"

// TestMnemonic is a well-known test mnemonic (DO NOT use in production)
const TestMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var (
	// TestChainID is SN_SEPOLIA, the chain id devnet reports by default
	TestChainID = types.MustShortString("SN_SEPOLIA")
	// TestAccountAddress is the first predeployed devnet account
	TestAccountAddress = types.MustHexToFelt("0x64b48806902a367c8598f4f95c305e8c1a1acba5f082d294a43793113115691")
	// TestAccountClassHash is the class of the predeployed devnet accounts
	TestAccountClassHash = types.MustHexToFelt("0x061dac032f228abef9c6626f995015233097ae253a7f72d68552db02f2971b8f")
	// TestCompiledClassHash is an arbitrary compiled class hash
	TestCompiledClassHash = types.MustHexToFelt("0x2c3348ad109f7f3967df6494b3c48741d61675d9a7915b265aa7101a631dc33")
)

// NewTestSigner returns a signer for TestPrivateKey or fails the test
func NewTestSigner(t *testing.T) *signer.Signer {
	t.Helper()
	s, err := signer.NewFromHex(TestPrivateKey)
	if err != nil {
		t.Fatalf("failed to create test signer: %v", err)
	}
	return s
}

// TestClass returns a small Sierra class exposing increase_balance and
// get_balance
func TestClass() *types.FlattenedSierraClass {
	return &types.FlattenedSierraClass{
		SierraProgram: []*felt.Felt{
			types.Uint64ToFelt(0x1),
			types.Uint64ToFelt(0x4),
			types.Uint64ToFelt(0x0),
			types.Uint64ToFelt(0x2b),
		},
		ContractClassVersion: "0.1.0",
		EntryPointsByType: types.EntryPointsByType{
			External: []types.SierraEntryPoint{
				{Selector: types.MustSelectorFromName("increase_balance"), FunctionIdx: 0},
				{Selector: types.MustSelectorFromName("get_balance"), FunctionIdx: 1},
			},
		},
		Abi: `[{"type": "function", "name": "increase_balance"}, {"type": "function", "name": "get_balance"}]`,
	}
}

// AcceptedReceipt builds a successful receipt included in a block
func AcceptedReceipt(hash *felt.Felt, events ...types.Event) *types.Receipt {
	n := uint64(1001)
	return &types.Receipt{
		Type:            types.TxnInvoke,
		TransactionHash: hash,
		ActualFee:       &types.FeePayment{Amount: types.Uint64ToFelt(1), Unit: types.UnitFri},
		ExecutionStatus: types.ExecutionSucceeded,
		FinalityStatus:  types.FinalityAcceptedOnL2,
		BlockHash:       types.Uint64ToFelt(0xb10c),
		BlockNumber:     &n,
		Events:          events,
	}
}

// RevertedReceipt builds a receipt whose execution reverted
func RevertedReceipt(hash *felt.Felt, reason string) *types.Receipt {
	r := AcceptedReceipt(hash)
	r.ExecutionStatus = types.ExecutionReverted
	r.RevertReason = reason
	return r
}

// DeployedEvent is the UDC ContractDeployed event for address
func DeployedEvent(address, deployer, classHash, salt *felt.Felt, unique bool) types.Event {
	u := new(felt.Felt)
	if unique {
		u.SetUint64(1)
	}
	return types.Event{
		FromAddress: contract.UDCAddress,
		Keys:        []*felt.Felt{types.MustSelectorFromName("ContractDeployed")},
		Data:        []*felt.Felt{address, deployer, u, classHash, new(felt.Felt), salt},
	}
}
