package hive

import (
	"errors"
	"io"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/google/uuid"

	"github.com/0xmhha/starknet-hive/internal/waiter"
	"github.com/0xmhha/starknet-hive/pkg/types"
)

var (
	// ErrEmptyResult is returned when a read-only call yields no values.
	ErrEmptyResult = errors.New("read-only call returned no values")
	// ErrStateMismatch is returned when read-back state does not reflect an
	// accepted invocation.
	ErrStateMismatch = errors.New("contract state does not reflect the invocation")
	// ErrUnexpectedAcceptance is returned when a transaction carrying a
	// forged signature is accepted.
	ErrUnexpectedAcceptance = errors.New("transaction with a custom signature was accepted")
	// ErrClassHashMismatch is returned when the node reports a different
	// class hash than the one computed locally.
	ErrClassHashMismatch = errors.New("class hash mismatch")
	// ErrChainMismatch is returned when the node serves a different chain
	// than the account signs for.
	ErrChainMismatch = errors.New("chain id mismatch")
)

// Stage represents a hive stage
type Stage int

const (
	StageInit Stage = iota
	StageDeclare
	StageDeploy
	StageInvoke
	StageRead
	StageCustomSignature
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "INITIALIZE"
	case StageDeclare:
		return "DECLARE"
	case StageDeploy:
		return "DEPLOY"
	case StageInvoke:
		return "INVOKE"
	case StageRead:
		return "READ"
	case StageCustomSignature:
		return "CUSTOM_SIGNATURE"
	default:
		return "UNKNOWN"
	}
}

// StageResult represents the result of a hive stage
type StageResult struct {
	Stage    Stage
	Success  bool
	Duration time.Duration
	Message  string
	TxHash   *felt.Felt
	Error    error
}

// RunConfig holds runtime configuration for a hive run
type RunConfig struct {
	// Contract artifact
	Class             *types.FlattenedSierraClass
	CompiledClassHash *felt.Felt

	// Continue with the local class hash when the class is already declared
	SkipDeclared bool

	// Salt of the deployment; nil draws one from Entropy
	Salt *felt.Felt
	// Entropy feeds random salts; nil uses crypto/rand
	Entropy             io.Reader
	Unique              bool
	ConstructorCalldata []*felt.Felt

	// Invocation and read-back
	IncreaseFunction string
	BalanceFunction  string
	Amount           *felt.Felt
	ReadBlock        types.BlockID

	// CustomSignature is submitted in the last stage; nil skips the stage
	CustomSignature []*felt.Felt

	// SpecVersion is a semver constraint on starknet_specVersion
	SpecVersion string
	// AccountClassHash, when set, must match the class at the account address
	AccountClassHash *felt.Felt

	// Confirmation polling
	Waiter *waiter.Config

	// Export report to files
	ExportReport bool
	OutputDir    string

	// Show a progress bar while polling
	Progress bool
}

// DefaultRunConfig returns default run configuration
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Unique:           true,
		IncreaseFunction: "increase_balance",
		BalanceFunction:  "get_balance",
		Amount:           types.Uint64ToFelt(0x123),
		ReadBlock:        types.PendingBlock(),
		CustomSignature:  []*felt.Felt{types.Uint64ToFelt(1), types.Uint64ToFelt(2)},
		SpecVersion:      "^0.7",
		Waiter:           waiter.DefaultConfig(),
		ExportReport:     false,
		OutputDir:        "./reports",
	}
}

// Result keeps every output a run produced, including the ones of stages
// completed before a failure, so that a run can be resumed by hand.
type Result struct {
	RunID string

	// Execution info
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Stage results
	StageResults []*StageResult

	// Node
	ChainID     *felt.Felt
	SpecVersion string
	BlockNumber uint64

	// Account
	AccountAddress *felt.Felt
	StartNonce     *felt.Felt
	FinalNonce     *felt.Felt

	// Declare
	ClassHash       *felt.Felt
	DeclareTxHash   *felt.Felt
	AlreadyDeclared bool

	// Deploy
	Salt            *felt.Felt
	ContractAddress *felt.Felt
	DeployTxHash    *felt.Felt

	// Invoke and read-back. InvokeBlockNumber stays nil while the invoke
	// sits in the pending block.
	InvokeTxHash      *felt.Felt
	InvokeBlockNumber *uint64
	HeadBlockNumber   uint64
	BalanceBefore     *felt.Felt
	BalanceAfter      *felt.Felt

	// Custom signature
	CustomSignatureTxHash  *felt.Felt
	CustomSignatureOutcome string

	// Errors encountered
	Errors []error
}

// NewResult creates a new hive result with a fresh run ID
func NewResult() *Result {
	return &Result{
		RunID:        uuid.NewString(),
		StartTime:    time.Now(),
		StageResults: make([]*StageResult, 0),
		Errors:       make([]error, 0),
	}
}

// AddStageResult adds a stage result
func (r *Result) AddStageResult(sr *StageResult) {
	r.StageResults = append(r.StageResults, sr)
	if sr.Error != nil {
		r.Errors = append(r.Errors, sr.Error)
	}
}

// Finalize completes the result
func (r *Result) Finalize() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// Success returns true if all stages succeeded
func (r *Result) Success() bool {
	for _, sr := range r.StageResults {
		if !sr.Success {
			return false
		}
	}
	return true
}

// StageResult returns the result of stage, or nil if it did not run.
func (r *Result) StageResult(stage Stage) *StageResult {
	for _, sr := range r.StageResults {
		if sr.Stage == stage {
			return sr
		}
	}
	return nil
}
