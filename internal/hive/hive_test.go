package hive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/starknet-hive/internal/account"
	"github.com/0xmhha/starknet-hive/internal/contract"
	"github.com/0xmhha/starknet-hive/internal/log"
	"github.com/0xmhha/starknet-hive/internal/provider"
	hivetest "github.com/0xmhha/starknet-hive/internal/testing"
	"github.com/0xmhha/starknet-hive/internal/waiter"
	"github.com/0xmhha/starknet-hive/pkg/types"
)

// custom signature outcomes of fakeChain
const (
	customRefuse = iota
	customReject
	customAccept
	customPending
)

// fakeChain executes submitted transactions against a single
// increase_balance/get_balance contract.
type fakeChain struct {
	mock *hivetest.MockProvider

	mu       sync.Mutex
	next     uint64
	nonce    uint64
	balance  *felt.Felt
	deployed map[string]*felt.Felt

	customSig    []*felt.Felt
	custom       int
	customSeen   []*felt.Felt
	declared     bool
	wrongAddress bool
	wrongClass   bool
	skipIncrease bool
	emptyRead    bool
	pendingBlock bool
}

func newFakeChain() *fakeChain {
	c := &fakeChain{
		mock:      hivetest.NewMockProvider(),
		balance:   new(felt.Felt),
		deployed:  make(map[string]*felt.Felt),
		customSig: []*felt.Felt{types.Uint64ToFelt(1), types.Uint64ToFelt(2)},
	}
	c.mock.SubmitFunc = c.submit
	c.mock.CallFunc = c.call
	c.mock.ClassHashAtFunc = c.classHashAt
	return c
}

func (c *fakeChain) submit(txn types.BroadcastedTxn) (*types.TransactionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	hash := types.Uint64ToFelt(0x7000 + c.next)

	switch t := txn.(type) {
	case *types.BroadcastedDeclareTxnV3:
		if c.declared {
			return nil, hivetest.ProtocolError("starknet_addDeclareTransaction", provider.CodeClassAlreadyDeclared, "Class already declared")
		}
		c.accept(hash)
		return &types.TransactionResult{TransactionHash: hash, ClassHash: t.ClassHash}, nil

	case *types.BroadcastedInvokeTxnV3:
		if sameFelts(t.Signature, c.customSig) {
			c.customSeen = t.Signature
			switch c.custom {
			case customRefuse:
				return nil, hivetest.ProtocolError("starknet_addInvokeTransaction", provider.CodeValidationFailure, "Account validation failed")
			case customReject:
				c.mock.SetReceipt(hivetest.RevertedReceipt(hash, "invalid signature"))
				return &types.TransactionResult{TransactionHash: hash}, nil
			case customPending:
				return &types.TransactionResult{TransactionHash: hash}, nil
			}
		}

		// calldata: [1, to, selector, len, args...]
		to, selector, args := t.Calldata[1], t.Calldata[2], t.Calldata[4:]
		var events []types.Event
		switch {
		case to.Equal(contract.UDCAddress):
			classHash, salt, unique := args[0], args[1], args[2].Equal(types.Uint64ToFelt(1))
			_, addr, err := contract.UDCDeployment(t.SenderAddress, classHash, salt, unique, args[4:])
			if err != nil {
				return nil, err
			}
			if c.wrongAddress {
				addr = types.Uint64ToFelt(0xbad)
			}
			c.deployed[addr.String()] = classHash
			events = append(events, hivetest.DeployedEvent(addr, t.SenderAddress, classHash, salt, unique))
		case selector.Equal(types.MustSelectorFromName("increase_balance")) && !c.skipIncrease:
			c.balance = new(felt.Felt).Add(c.balance, args[0])
		}
		c.accept(hash, events...)
		return &types.TransactionResult{TransactionHash: hash}, nil
	}
	return nil, errors.New("unexpected transaction type")
}

// accept must be called with mu held
func (c *fakeChain) accept(hash *felt.Felt, events ...types.Event) {
	c.nonce++
	c.mock.SetNonce(types.Uint64ToFelt(c.nonce))
	r := hivetest.AcceptedReceipt(hash, events...)
	if c.pendingBlock {
		r.BlockHash, r.BlockNumber = nil, nil
	}
	c.mock.SetReceipt(r)
}

func (c *fakeChain) call(call types.FunctionCall, _ types.BlockID) ([]*felt.Felt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.deployed[call.ContractAddress.String()]; !ok {
		return nil, hivetest.ProtocolError("starknet_call", provider.CodeContractNotFound, "Contract not found")
	}
	if c.emptyRead && !c.balance.IsZero() {
		return []*felt.Felt{}, nil
	}
	return []*felt.Felt{types.CopyFelt(c.balance)}, nil
}

func (c *fakeChain) classHashAt(address *felt.Felt) (*felt.Felt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if address.Equal(hivetest.TestAccountAddress) {
		return hivetest.TestAccountClassHash, nil
	}
	if ch, ok := c.deployed[address.String()]; ok {
		if c.wrongClass {
			return types.Uint64ToFelt(0xc1a55), nil
		}
		return ch, nil
	}
	return nil, hivetest.ProtocolError("starknet_getClassHashAt", provider.CodeContractNotFound, "Contract not found")
}

func sameFelts(a, b []*felt.Felt) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

type stageRecorder struct {
	stages []string
	failed []string
}

func (r *stageRecorder) RecordStageDuration(stage string, _ time.Duration, err error) {
	r.stages = append(r.stages, stage)
	if err != nil {
		r.failed = append(r.failed, stage)
	}
}

func testSalt() *felt.Felt {
	return new(felt.Felt).SetBytes(bytes.Repeat([]byte{0x42}, 31))
}

func testRunConfig() *RunConfig {
	rc := DefaultRunConfig()
	rc.Class = hivetest.TestClass()
	rc.CompiledClassHash = hivetest.TestCompiledClassHash
	rc.Entropy = bytes.NewReader(bytes.Repeat([]byte{0x42}, 64))
	rc.AccountClassHash = hivetest.TestAccountClassHash
	rc.Waiter = &waiter.Config{PollInterval: time.Millisecond, BackoffFactor: 1, MaxAttempts: 3}
	return rc
}

func newTestHive(t *testing.T, chain *fakeChain, rc *RunConfig, opts ...Option) (*Hive, *account.Account) {
	t.Helper()
	acc, err := account.New(chain.mock, hivetest.TestAccountAddress, hivetest.TestChainID, hivetest.NewTestSigner(t))
	require.NoError(t, err)
	opts = append([]Option{WithOutput(io.Discard)}, opts...)
	h, err := New(chain.mock, acc, rc, opts...)
	require.NoError(t, err)
	return h, acc
}

func stageNames(result *Result) []string {
	names := make([]string, 0, len(result.StageResults))
	for _, sr := range result.StageResults {
		names = append(names, sr.Stage.String())
	}
	return names
}

func TestNewValidation(t *testing.T) {
	chain := newFakeChain()
	acc, err := account.New(chain.mock, hivetest.TestAccountAddress, hivetest.TestChainID, hivetest.NewTestSigner(t))
	require.NoError(t, err)

	_, err = New(nil, acc, testRunConfig())
	assert.Error(t, err)
	_, err = New(chain.mock, nil, testRunConfig())
	assert.Error(t, err)

	rc := testRunConfig()
	rc.Class = nil
	_, err = New(chain.mock, acc, rc)
	assert.Error(t, err)

	rc = testRunConfig()
	rc.CompiledClassHash = nil
	_, err = New(chain.mock, acc, rc)
	assert.Error(t, err)

	rc = testRunConfig()
	rc.Waiter = &waiter.Config{}
	_, err = New(chain.mock, acc, rc)
	assert.Error(t, err)
}

func TestExecuteFullLifecycle(t *testing.T) {
	chain := newFakeChain()
	rec := &stageRecorder{}
	var out bytes.Buffer
	h, acc := newTestHive(t, chain, testRunConfig(), WithOutput(&out), WithRecorder(rec))

	result, err := h.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success())

	assert.Equal(t, []string{"INITIALIZE", "DECLARE", "DEPLOY", "INVOKE", "READ", "CUSTOM_SIGNATURE"}, stageNames(result))
	assert.Equal(t, stageNames(result), rec.stages)
	assert.Empty(t, rec.failed)
	assert.NotEmpty(t, result.RunID)

	classHash, err := contract.ClassHash(hivetest.TestClass())
	require.NoError(t, err)
	assert.True(t, result.ClassHash.Equal(classHash))
	assert.False(t, result.AlreadyDeclared)

	assert.True(t, result.Salt.Equal(testSalt()))
	_, want, err := contract.UDCDeployment(hivetest.TestAccountAddress, classHash, testSalt(), true, nil)
	require.NoError(t, err)
	assert.True(t, result.ContractAddress.Equal(want))

	assert.True(t, result.BalanceBefore.IsZero())
	assert.True(t, result.BalanceAfter.Equal(types.Uint64ToFelt(0x123)))

	assert.Contains(t, result.CustomSignatureOutcome, "refused at submission")
	assert.Nil(t, result.CustomSignatureTxHash)
	require.Len(t, chain.customSeen, 2)
	assert.True(t, chain.customSeen[1].Equal(types.Uint64ToFelt(2)))

	// declare, deploy and invoke each consumed one nonce
	assert.Len(t, chain.mock.SubmittedTxns(), 3)
	assert.True(t, result.StartNonce.IsZero())
	assert.True(t, result.FinalNonce.Equal(types.Uint64ToFelt(3)))
	assert.True(t, acc.Nonce().Equal(types.Uint64ToFelt(3)))

	assert.Equal(t, "SN_SEPOLIA", mustDecodeShortString(t, result.ChainID))
	assert.Equal(t, "0.7.1", result.SpecVersion)
	assert.Equal(t, uint64(1000), result.BlockNumber)
	require.NotNil(t, result.InvokeBlockNumber)
	assert.Equal(t, uint64(1001), *result.InvokeBlockNumber)
	assert.Equal(t, uint64(1000), result.HeadBlockNumber)
	assert.Equal(t, 1, chain.mock.GetCallCount("BlockNumber"))

	assert.True(t, result.StageResult(StageDeploy).TxHash.Equal(result.DeployTxHash))
	assert.Contains(t, out.String(), "Lifecycle run completed successfully")
}

func mustDecodeShortString(t *testing.T, f *felt.Felt) string {
	t.Helper()
	b := f.Bytes()
	return strings.TrimLeft(string(b[:]), "\x00")
}

func TestExecuteUsesConfiguredSalt(t *testing.T) {
	chain := newFakeChain()
	rc := testRunConfig()
	rc.Salt = types.Uint64ToFelt(0x5a17)
	rc.Entropy = nil
	h, _ := newTestHive(t, chain, rc)

	result, err := h.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Salt.Equal(types.Uint64ToFelt(0x5a17)))
}

func TestExecuteNonUniqueDeployment(t *testing.T) {
	chain := newFakeChain()
	rc := testRunConfig()
	rc.Unique = false
	h, _ := newTestHive(t, chain, rc)

	result, err := h.Execute(context.Background())
	require.NoError(t, err)

	_, want, err := contract.UDCDeployment(hivetest.TestAccountAddress, result.ClassHash, testSalt(), false, nil)
	require.NoError(t, err)
	assert.True(t, result.ContractAddress.Equal(want))
}

func TestExecuteWithoutCustomSignature(t *testing.T) {
	chain := newFakeChain()
	rc := testRunConfig()
	rc.CustomSignature = nil
	h, _ := newTestHive(t, chain, rc)

	result, err := h.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"INITIALIZE", "DECLARE", "DEPLOY", "INVOKE", "READ"}, stageNames(result))
	assert.Empty(t, result.CustomSignatureOutcome)
}

func TestExecuteCustomSignatureRejectedOnChain(t *testing.T) {
	chain := newFakeChain()
	chain.custom = customReject
	h, acc := newTestHive(t, chain, testRunConfig())

	result, err := h.Execute(context.Background())
	require.NoError(t, err)
	assert.Contains(t, result.CustomSignatureOutcome, "rejected on chain")
	assert.NotNil(t, result.CustomSignatureTxHash)

	// the rejected transaction did not consume a nonce
	assert.True(t, acc.Nonce().Equal(types.Uint64ToFelt(3)))
}

func TestExecuteCustomSignatureNeverAccepted(t *testing.T) {
	chain := newFakeChain()
	chain.custom = customPending
	h, _ := newTestHive(t, chain, testRunConfig())

	result, err := h.Execute(context.Background())
	require.NoError(t, err)
	assert.Contains(t, result.CustomSignatureOutcome, "timed out")
}

func TestExecuteCustomSignatureAccepted(t *testing.T) {
	chain := newFakeChain()
	chain.custom = customAccept
	rec := &stageRecorder{}
	h, _ := newTestHive(t, chain, testRunConfig(), WithRecorder(rec))

	result, err := h.Execute(context.Background())
	require.ErrorIs(t, err, ErrUnexpectedAcceptance)
	assert.False(t, result.Success())
	assert.Equal(t, []string{"CUSTOM_SIGNATURE"}, rec.failed)

	// outputs of earlier stages survive the failure
	assert.NotNil(t, result.ContractAddress)
	assert.True(t, result.BalanceAfter.Equal(types.Uint64ToFelt(0x123)))
	assert.Len(t, result.Errors, 1)
}

func TestExecuteCustomSignatureTransportFailure(t *testing.T) {
	chain := newFakeChain()
	rc := testRunConfig()
	h, _ := newTestHive(t, chain, rc)

	submit := chain.mock.SubmitFunc
	chain.mock.SubmitFunc = func(txn types.BroadcastedTxn) (*types.TransactionResult, error) {
		if inv, ok := txn.(*types.BroadcastedInvokeTxnV3); ok && sameFelts(inv.Signature, chain.customSig) {
			return nil, hivetest.TransportError("starknet_addInvokeTransaction", errors.New("connection reset"))
		}
		return submit(txn)
	}

	result, err := h.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, provider.IsTransport(err))
	assert.False(t, result.StageResult(StageCustomSignature).Success)
}

func TestExecuteCustomSignatureEstimationFailure(t *testing.T) {
	chain := newFakeChain()
	h, _ := newTestHive(t, chain, testRunConfig())

	// estimation starts failing once the invocation has landed
	chain.mock.EstimateFeeFunc = func(txns []types.BroadcastedTxn) ([]types.FeeEstimate, error) {
		chain.mu.Lock()
		landed := !chain.balance.IsZero()
		chain.mu.Unlock()
		if landed {
			return nil, hivetest.ProtocolError("starknet_estimateFee", 41, "Transaction execution error")
		}
		out := make([]types.FeeEstimate, len(txns))
		for i := range out {
			out[i] = chain.mock.FeeEstimate
		}
		return out, nil
	}

	result, err := h.Execute(context.Background())
	require.ErrorIs(t, err, account.ErrFeeEstimation)
	assert.False(t, result.Success())
	assert.False(t, result.StageResult(StageCustomSignature).Success)
	assert.Empty(t, result.CustomSignatureOutcome)
	assert.Nil(t, chain.customSeen)
}

func TestExecuteClassAlreadyDeclared(t *testing.T) {
	t.Run("skip declared", func(t *testing.T) {
		chain := newFakeChain()
		chain.declared = true
		rc := testRunConfig()
		rc.SkipDeclared = true
		h, _ := newTestHive(t, chain, rc)

		result, err := h.Execute(context.Background())
		require.NoError(t, err)
		assert.True(t, result.AlreadyDeclared)
		assert.Nil(t, result.DeclareTxHash)

		classHash, _ := contract.ClassHash(hivetest.TestClass())
		assert.True(t, result.ClassHash.Equal(classHash))
		assert.True(t, result.FinalNonce.Equal(types.Uint64ToFelt(2)))
	})

	t.Run("fail", func(t *testing.T) {
		chain := newFakeChain()
		chain.declared = true
		h, _ := newTestHive(t, chain, testRunConfig())

		result, err := h.Execute(context.Background())
		require.Error(t, err)
		assert.True(t, provider.HasCode(err, provider.CodeClassAlreadyDeclared))
		assert.Equal(t, []string{"INITIALIZE", "DECLARE"}, stageNames(result))
		assert.False(t, result.StageResult(StageDeclare).Success)
	})
}

func TestExecuteAddressMismatch(t *testing.T) {
	chain := newFakeChain()
	chain.wrongAddress = true
	h, _ := newTestHive(t, chain, testRunConfig())

	result, err := h.Execute(context.Background())
	require.ErrorIs(t, err, contract.ErrAddressMismatch)

	var mismatch *contract.AddressMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.True(t, mismatch.Observed.Equal(types.Uint64ToFelt(0xbad)))
	assert.True(t, mismatch.Derived.Equal(result.ContractAddress))
	assert.Equal(t, []string{"INITIALIZE", "DECLARE", "DEPLOY"}, stageNames(result))
}

func TestExecuteDeployedClassMismatch(t *testing.T) {
	chain := newFakeChain()
	chain.wrongClass = true
	h, _ := newTestHive(t, chain, testRunConfig())

	_, err := h.Execute(context.Background())
	require.ErrorIs(t, err, ErrClassHashMismatch)
}

func TestExecuteStateMismatch(t *testing.T) {
	chain := newFakeChain()
	chain.skipIncrease = true
	h, _ := newTestHive(t, chain, testRunConfig())

	result, err := h.Execute(context.Background())
	require.ErrorIs(t, err, ErrStateMismatch)
	assert.True(t, result.BalanceAfter.IsZero())
	assert.False(t, result.StageResult(StageRead).Success)
}

func TestExecuteEmptyReadBack(t *testing.T) {
	chain := newFakeChain()
	chain.emptyRead = true
	h, _ := newTestHive(t, chain, testRunConfig())

	result, err := h.Execute(context.Background())
	require.ErrorIs(t, err, ErrEmptyResult)
	assert.Nil(t, result.BalanceAfter)
	assert.Equal(t, StageRead, result.StageResults[len(result.StageResults)-1].Stage)
}

func TestExecuteInvokeReverted(t *testing.T) {
	chain := newFakeChain()
	h, _ := newTestHive(t, chain, testRunConfig())

	submit := chain.mock.SubmitFunc
	chain.mock.SubmitFunc = func(txn types.BroadcastedTxn) (*types.TransactionResult, error) {
		res, err := submit(txn)
		if err != nil {
			return nil, err
		}
		if inv, ok := txn.(*types.BroadcastedInvokeTxnV3); ok && inv.Calldata[2].Equal(types.MustSelectorFromName("increase_balance")) {
			chain.mock.SetReceipt(hivetest.RevertedReceipt(res.TransactionHash, "assertion failed"))
		}
		return res, nil
	}

	result, err := h.Execute(context.Background())
	require.ErrorIs(t, err, waiter.ErrRejected)

	var rejected *waiter.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "assertion failed", rejected.Reason)
	assert.NotNil(t, result.InvokeTxHash)
	assert.False(t, result.StageResult(StageInvoke).Success)
}

func TestExecuteInitializeFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *fakeChain, rc *RunConfig)
		target error
	}{
		{
			name:   "chain mismatch",
			mutate: func(c *fakeChain, _ *RunConfig) { c.mock.ChainIDValue = types.MustShortString("SN_MAIN") },
			target: ErrChainMismatch,
		},
		{
			name:   "account class mismatch",
			mutate: func(_ *fakeChain, rc *RunConfig) { rc.AccountClassHash = types.Uint64ToFelt(0xdead) },
			target: ErrClassHashMismatch,
		},
		{
			name:   "spec version",
			mutate: func(c *fakeChain, _ *RunConfig) { c.mock.SpecVersionValue = "0.6.0" },
		},
		{
			name: "nonce unavailable",
			mutate: func(c *fakeChain, _ *RunConfig) {
				c.mock.NonceError = hivetest.ProtocolError("starknet_getNonce", provider.CodeContractNotFound, "Contract not found")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newFakeChain()
			rc := testRunConfig()
			tt.mutate(chain, rc)
			h, _ := newTestHive(t, chain, rc)

			result, err := h.Execute(context.Background())
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			assert.Equal(t, []string{"INITIALIZE"}, stageNames(result))
			assert.Empty(t, chain.mock.SubmittedTxns())
		})
	}
}

func TestExecuteCancelled(t *testing.T) {
	chain := newFakeChain()
	h, _ := newTestHive(t, chain, testRunConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.Execute(ctx)
	require.Error(t, err)
	assert.False(t, result.Success())
}

func TestExecuteWithProgressAndExport(t *testing.T) {
	chain := newFakeChain()
	rc := testRunConfig()
	rc.Progress = true
	rc.ExportReport = true
	rc.OutputDir = t.TempDir()
	var out bytes.Buffer
	h, _ := newTestHive(t, chain, rc, WithOutput(&out))

	_, err := h.Execute(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Reports exported to:")
	assert.Contains(t, out.String(), ".json")
	assert.Contains(t, out.String(), ".csv")
}

type warnLog struct {
	log.Logger
	mu    sync.Mutex
	warns []string
}

func (l *warnLog) Warnw(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestExecuteInvokeInPendingBlock(t *testing.T) {
	chain := newFakeChain()
	chain.pendingBlock = true
	rc := testRunConfig()
	rc.ReadBlock = types.LatestBlock()
	var out bytes.Buffer
	logger := &warnLog{Logger: log.NewNopLogger()}
	h, _ := newTestHive(t, chain, rc, WithOutput(&out), WithLogger(logger))

	result, err := h.Execute(context.Background())
	require.NoError(t, err)
	assert.Nil(t, result.InvokeBlockNumber)
	assert.Equal(t, uint64(1000), result.HeadBlockNumber)
	assert.Contains(t, out.String(), "Block:          pending")
	assert.Contains(t, logger.warns, "Reading latest state while the invoke is still pending")
}

func TestCloseRunsCloser(t *testing.T) {
	chain := newFakeChain()
	closed := false
	h, _ := newTestHive(t, chain, testRunConfig(), WithCloser(func() { closed = true }))
	h.Close()
	assert.True(t, closed)
}
