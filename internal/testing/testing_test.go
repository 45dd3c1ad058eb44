package testing

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/0xmhha/starknet-hive/internal/artifact"
	"github.com/0xmhha/starknet-hive/internal/contract"
	"github.com/0xmhha/starknet-hive/internal/provider"
	"github.com/0xmhha/starknet-hive/pkg/types"
)

func TestNewTestSigner(t *testing.T) {
	s := NewTestSigner(t)
	if s.PublicKey() == nil {
		t.Fatal("public key should not be nil")
	}
}

func TestTestChainID(t *testing.T) {
	if TestChainID == nil {
		t.Fatal("TestChainID should not be nil")
	}
	if TestChainID.String() != "0x534e5f5345504f4c4941" {
		t.Errorf("TestChainID should be SN_SEPOLIA, got %s", TestChainID)
	}
}

func TestTestMnemonic(t *testing.T) {
	if TestMnemonic == "" {
		t.Fatal("TestMnemonic should not be empty")
	}
	words := 0
	for _, c := range TestMnemonic {
		if c == ' ' {
			words++
		}
	}
	words++
	if words != 12 {
		t.Errorf("TestMnemonic should have 12 words, got %d", words)
	}
}

func TestTestClassHasEntryPoints(t *testing.T) {
	class := TestClass()
	if len(class.EntryPointsByType.External) != 2 {
		t.Fatalf("expected 2 external entry points, got %d", len(class.EntryPointsByType.External))
	}
	if _, err := contract.ClassHash(class); err != nil {
		t.Fatalf("class hash: %v", err)
	}
}

func TestWriteContractClassRoundTrip(t *testing.T) {
	path := WriteContractClass(t, t.TempDir())
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("class file missing: %v", err)
	}

	loaded, err := artifact.LoadSierraClass(path)
	if err != nil {
		t.Fatalf("failed to load class: %v", err)
	}
	want, _ := contract.ClassHash(TestClass())
	got, err := contract.ClassHash(loaded)
	if err != nil {
		t.Fatalf("class hash: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("class hash changed on round trip: %s vs %s", got, want)
	}
}

func TestTestConfigIsValid(t *testing.T) {
	cfg := TestConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("TestConfig should be valid: %v", err)
	}
	if err := MinimalConfig(t).Validate(); err != nil {
		t.Fatalf("MinimalConfig should be valid: %v", err)
	}
}

func TestInvalidConfigs(t *testing.T) {
	for name, cfg := range InvalidConfigs(t) {
		t.Run(name, func(t *testing.T) {
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMockProviderSubmit(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()

	res, err := m.Submit(ctx, &types.BroadcastedInvokeTxnV3{SenderAddress: TestAccountAddress})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.TransactionHash == nil {
		t.Fatal("expected a transaction hash")
	}
	if len(m.SubmittedTxns()) != 1 {
		t.Errorf("expected 1 submitted transaction, got %d", len(m.SubmittedTxns()))
	}
	if m.GetCallCount("Submit") != 1 {
		t.Errorf("expected 1 Submit call, got %d", m.GetCallCount("Submit"))
	}
}

func TestMockProviderReceipts(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()
	hash := types.Uint64ToFelt(0xabc)

	_, err := m.TransactionReceipt(ctx, hash)
	if !provider.HasCode(err, provider.CodeTxnHashNotFound) {
		t.Fatalf("expected TXN_HASH_NOT_FOUND, got %v", err)
	}

	m.SetReceipt(AcceptedReceipt(hash))
	r, err := m.TransactionReceipt(ctx, hash)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if r.Status() != types.ReceiptAccepted {
		t.Errorf("expected accepted receipt, got %s", r.Status())
	}
}

func TestMockProviderErrors(t *testing.T) {
	m := NewMockProvider()
	m.NonceError = TransportError("starknet_getNonce", errors.New("connection refused"))

	_, err := m.Nonce(context.Background(), types.PendingBlock(), TestAccountAddress)
	if !provider.IsTransport(err) {
		t.Errorf("expected transport error, got %v", err)
	}
	if provider.IsProtocol(ProtocolError("m", 55, "validation")) != true {
		t.Error("ProtocolError should be a protocol error")
	}
}

func TestDeployedEventIsRecognised(t *testing.T) {
	addr := types.Uint64ToFelt(0xc0ffee)
	ev := DeployedEvent(addr, TestAccountAddress, TestAccountClassHash, types.Uint64ToFelt(1), true)
	got, err := contract.DeployedAddressFromReceipt(AcceptedReceipt(types.Uint64ToFelt(1), ev))
	if err != nil {
		t.Fatalf("address from receipt: %v", err)
	}
	if !got.Equal(addr) {
		t.Errorf("expected %s, got %s", addr, got)
	}
}
