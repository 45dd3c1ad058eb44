package testing

import (
	"context"
	"sync"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/0xmhha/starknet-hive/internal/provider"
	"github.com/0xmhha/starknet-hive/pkg/types"
)

// MockProvider is a thread-safe in-memory provider.Provider for tests
type MockProvider struct {
	mu sync.RWMutex

	// Configurable return values
	ChainIDValue     *felt.Felt
	SpecVersionValue string
	BlockNumberValue uint64
	BlockHashValue   *felt.Felt
	NonceValue       *felt.Felt
	ClassHashAtValue *felt.Felt
	FeeEstimate      types.FeeEstimate

	// Error responses
	ChainIDError     error
	SpecVersionError error
	BlockNumberError error
	NonceError       error
	ClassHashAtError error
	CallError        error
	EstimateFeeError error
	SubmitError      error

	// Hooks override the defaults when set
	ClassHashAtFunc func(address *felt.Felt) (*felt.Felt, error)
	EstimateFeeFunc func(txns []types.BroadcastedTxn) ([]types.FeeEstimate, error)
	CallFunc        func(call types.FunctionCall, blockID types.BlockID) ([]*felt.Felt, error)
	SubmitFunc      func(txn types.BroadcastedTxn) (*types.TransactionResult, error)
	ReceiptFunc     func(hash *felt.Felt) (*types.Receipt, error)
	StatusFunc      func(hash *felt.Felt) (*types.TransactionStatus, error)

	// Receipts keyed by transaction hash string
	Receipts map[string]*types.Receipt

	// Submitted transactions tracking
	Submitted  []types.BroadcastedTxn
	Estimated  []types.BroadcastedTxn
	CallCounts map[string]int

	nextHash uint64
}

var _ provider.Provider = (*MockProvider)(nil)

// NewMockProvider creates a mock provider with devnet-like defaults
func NewMockProvider() *MockProvider {
	return &MockProvider{
		ChainIDValue:     TestChainID,
		SpecVersionValue: "0.7.1",
		BlockNumberValue: 1000,
		BlockHashValue:   types.Uint64ToFelt(0xb10c),
		NonceValue:       new(felt.Felt),
		ClassHashAtValue: TestAccountClassHash,
		FeeEstimate: types.FeeEstimate{
			GasConsumed:     types.Uint64ToFelt(1000),
			GasPrice:        types.Uint64ToFelt(100),
			DataGasConsumed: new(felt.Felt),
			DataGasPrice:    types.Uint64ToFelt(1),
			OverallFee:      types.Uint64ToFelt(100000),
			Unit:            types.UnitFri,
		},
		Receipts:   make(map[string]*types.Receipt),
		CallCounts: make(map[string]int),
		nextHash:   0x1000,
	}
}

func (m *MockProvider) incrementCallCount(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}

// GetCallCount returns the number of times a method was called
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

// SetReceipt stores a receipt returned for its transaction hash
func (m *MockProvider) SetReceipt(r *types.Receipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Receipts[r.TransactionHash.String()] = r
}

// SubmittedTxns returns a copy of all submitted transactions
func (m *MockProvider) SubmittedTxns() []types.BroadcastedTxn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.BroadcastedTxn, len(m.Submitted))
	copy(out, m.Submitted)
	return out
}

// SetNonce replaces the nonce returned by Nonce
func (m *MockProvider) SetNonce(n *felt.Felt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NonceValue = n
}

// ChainID returns the configured chain ID
func (m *MockProvider) ChainID(ctx context.Context) (*felt.Felt, error) {
	m.incrementCallCount("ChainID")
	if m.ChainIDError != nil {
		return nil, m.ChainIDError
	}
	return m.ChainIDValue, nil
}

// SpecVersion returns the configured spec version
func (m *MockProvider) SpecVersion(ctx context.Context) (string, error) {
	m.incrementCallCount("SpecVersion")
	if m.SpecVersionError != nil {
		return "", m.SpecVersionError
	}
	return m.SpecVersionValue, nil
}

// BlockNumber returns the configured block number
func (m *MockProvider) BlockNumber(ctx context.Context) (uint64, error) {
	m.incrementCallCount("BlockNumber")
	if m.BlockNumberError != nil {
		return 0, m.BlockNumberError
	}
	return m.BlockNumberValue, nil
}

// BlockHashAndNumber returns the configured block hash and number
func (m *MockProvider) BlockHashAndNumber(ctx context.Context) (*types.BlockHashAndNumber, error) {
	m.incrementCallCount("BlockHashAndNumber")
	if m.BlockNumberError != nil {
		return nil, m.BlockNumberError
	}
	return &types.BlockHashAndNumber{BlockHash: m.BlockHashValue, BlockNumber: m.BlockNumberValue}, nil
}

// Nonce returns the configured nonce
func (m *MockProvider) Nonce(ctx context.Context, blockID types.BlockID, address *felt.Felt) (*felt.Felt, error) {
	m.incrementCallCount("Nonce")
	if m.NonceError != nil {
		return nil, m.NonceError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return types.CopyFelt(m.NonceValue), nil
}

// ClassHashAt returns the configured class hash
func (m *MockProvider) ClassHashAt(ctx context.Context, blockID types.BlockID, address *felt.Felt) (*felt.Felt, error) {
	m.incrementCallCount("ClassHashAt")
	if m.ClassHashAtError != nil {
		return nil, m.ClassHashAtError
	}
	if m.ClassHashAtFunc != nil {
		return m.ClassHashAtFunc(address)
	}
	return m.ClassHashAtValue, nil
}

// Call runs CallFunc or returns an empty result
func (m *MockProvider) Call(ctx context.Context, call types.FunctionCall, blockID types.BlockID) ([]*felt.Felt, error) {
	m.incrementCallCount("Call")
	if m.CallError != nil {
		return nil, m.CallError
	}
	if m.CallFunc != nil {
		return m.CallFunc(call, blockID)
	}
	return []*felt.Felt{}, nil
}

// EstimateFee returns FeeEstimate once per transaction
func (m *MockProvider) EstimateFee(ctx context.Context, txns []types.BroadcastedTxn, flags []types.SimulationFlag, blockID types.BlockID) ([]types.FeeEstimate, error) {
	m.incrementCallCount("EstimateFee")
	if m.EstimateFeeError != nil {
		return nil, m.EstimateFeeError
	}
	if m.EstimateFeeFunc != nil {
		return m.EstimateFeeFunc(txns)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Estimated = append(m.Estimated, txns...)
	out := make([]types.FeeEstimate, len(txns))
	for i := range out {
		out[i] = m.FeeEstimate
	}
	return out, nil
}

// Submit records the transaction and returns a fresh hash
func (m *MockProvider) Submit(ctx context.Context, txn types.BroadcastedTxn) (*types.TransactionResult, error) {
	m.incrementCallCount("Submit")
	if err := ctx.Err(); err != nil {
		return nil, &provider.RPCError{Kind: provider.KindTransport, Method: "submit", Err: err}
	}
	if m.SubmitError != nil {
		return nil, m.SubmitError
	}
	if m.SubmitFunc != nil {
		res, err := m.SubmitFunc(txn)
		if err == nil {
			m.record(txn)
		}
		return res, err
	}

	m.record(txn)
	m.mu.Lock()
	m.nextHash++
	res := &types.TransactionResult{TransactionHash: types.Uint64ToFelt(m.nextHash)}
	m.mu.Unlock()

	switch t := txn.(type) {
	case *types.BroadcastedDeclareTxnV3:
		res.ClassHash = t.ClassHash
	case *types.BroadcastedDeployAccountTxnV3:
		res.ContractAddress = t.ContractAddress
	}
	return res, nil
}

func (m *MockProvider) record(txn types.BroadcastedTxn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Submitted = append(m.Submitted, txn)
}

// TransactionReceipt runs ReceiptFunc or looks the hash up in Receipts
func (m *MockProvider) TransactionReceipt(ctx context.Context, hash *felt.Felt) (*types.Receipt, error) {
	m.incrementCallCount("TransactionReceipt")
	if m.ReceiptFunc != nil {
		return m.ReceiptFunc(hash)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.Receipts[hash.String()]; ok {
		return r, nil
	}
	return nil, NotFoundError("starknet_getTransactionReceipt")
}

// TransactionStatus runs StatusFunc or reports RECEIVED
func (m *MockProvider) TransactionStatus(ctx context.Context, hash *felt.Felt) (*types.TransactionStatus, error) {
	m.incrementCallCount("TransactionStatus")
	if m.StatusFunc != nil {
		return m.StatusFunc(hash)
	}
	return &types.TransactionStatus{FinalityStatus: types.FinalityReceived}, nil
}

// NotFoundError is the TXN_HASH_NOT_FOUND protocol error
func NotFoundError(method string) error {
	return &provider.RPCError{
		Kind:    provider.KindProtocol,
		Method:  method,
		Code:    provider.CodeTxnHashNotFound,
		Message: "Transaction hash not found",
	}
}

// ProtocolError builds a node-reported error with the given code
func ProtocolError(method string, code int, msg string) error {
	return &provider.RPCError{Kind: provider.KindProtocol, Method: method, Code: code, Message: msg}
}

// TransportError builds a retryable transport failure
func TransportError(method string, err error) error {
	return &provider.RPCError{Kind: provider.KindTransport, Method: method, Err: err}
}
