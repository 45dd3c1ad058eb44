// Package hive drives a contract through its whole lifecycle against a live
// node: declare, deploy, invoke, read back, and a forged-signature check.
package hive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/0xmhha/starknet-hive/internal/account"
	"github.com/0xmhha/starknet-hive/internal/factory"
	"github.com/0xmhha/starknet-hive/internal/log"
	"github.com/0xmhha/starknet-hive/internal/provider"
	"github.com/0xmhha/starknet-hive/internal/util/progress"
	"github.com/0xmhha/starknet-hive/internal/waiter"
	"github.com/0xmhha/starknet-hive/pkg/types"
)

// StageRecorder receives the duration of every completed stage.
type StageRecorder interface {
	RecordStageDuration(stage string, duration time.Duration, err error)
}

// Hive orchestrates one lifecycle run
type Hive struct {
	provider provider.Provider
	account  *account.Account
	waiter   *waiter.Waiter
	runCfg   *RunConfig

	out      io.Writer
	log      log.Logger
	recorder StageRecorder
	closer   func()

	waiterOpts []waiter.Option
	bar        *progressbar.ProgressBar

	// State carried between stages
	classHash  *felt.Felt
	deployment *factory.Deployment
	increase   types.Call
	expected   *felt.Felt
}

// Option configures a Hive
type Option func(*Hive)

// WithOutput redirects stage banners and the summary. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(h *Hive) { h.out = w }
}

func WithLogger(l log.Logger) Option {
	return func(h *Hive) { h.log = l }
}

// WithRecorder records stage durations.
func WithRecorder(r StageRecorder) Option {
	return func(h *Hive) { h.recorder = r }
}

// WithWaiterOptions passes options to the confirmation waiter.
func WithWaiterOptions(opts ...waiter.Option) Option {
	return func(h *Hive) { h.waiterOpts = append(h.waiterOpts, opts...) }
}

// WithCloser registers a function run by Close.
func WithCloser(fn func()) Option {
	return func(h *Hive) { h.closer = fn }
}

// New creates a hive run for acc against p.
func New(p provider.Provider, acc *account.Account, runCfg *RunConfig, opts ...Option) (*Hive, error) {
	if p == nil {
		return nil, errors.New("provider is required")
	}
	if acc == nil {
		return nil, errors.New("account is required")
	}
	if runCfg == nil {
		runCfg = DefaultRunConfig()
	}
	if runCfg.Class == nil {
		return nil, errors.New("contract class is required")
	}
	if runCfg.CompiledClassHash == nil {
		return nil, errors.New("compiled class hash is required")
	}
	if runCfg.Amount == nil {
		return nil, errors.New("invoke amount is required")
	}

	h := &Hive{
		provider: p,
		account:  acc,
		runCfg:   runCfg,
		out:      os.Stdout,
		log:      log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}

	wopts := append([]waiter.Option{waiter.WithLogger(h.log), waiter.WithPollHook(h.onPoll)}, h.waiterOpts...)
	w, err := waiter.New(p, runCfg.Waiter, wopts...)
	if err != nil {
		return nil, err
	}
	h.waiter = w
	return h, nil
}

// Execute runs every stage in order and stops at the first failure. The
// returned result carries the outputs of all stages that ran.
func (h *Hive) Execute(ctx context.Context) (*Result, error) {
	result := NewResult()
	result.AccountAddress = h.account.Address()

	fmt.Fprintln(h.out)
	fmt.Fprintln(h.out, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(h.out, "║                        Starknet Hive                         ║")
	fmt.Fprintln(h.out, "║              Contract Lifecycle Conformance Run              ║")
	fmt.Fprintln(h.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintf(h.out, "  Run ID: %s\n", result.RunID)

	stages := []stageFunc{
		{StageInit, h.initialize},
		{StageDeclare, h.declare},
		{StageDeploy, h.deploy},
		{StageInvoke, h.invoke},
		{StageRead, h.read},
	}
	if h.runCfg.CustomSignature != nil {
		stages = append(stages, stageFunc{StageCustomSignature, h.customSignature})
	}

	var err error
	for _, s := range stages {
		if err = h.runStage(ctx, result, s.stage, s.fn); err != nil {
			break
		}
	}

	result.FinalNonce = h.account.Nonce()
	result.Finalize()
	PrintSummary(h.out, result)

	if h.runCfg.ExportReport && h.runCfg.OutputDir != "" {
		exporter := NewExporter(h.runCfg.OutputDir)
		files, exportErr := exporter.ExportAll(result)
		if exportErr != nil {
			fmt.Fprintf(h.out, "Failed to export report: %v\n", exportErr)
		} else {
			fmt.Fprintf(h.out, "\nReports exported to:\n")
			for _, f := range files {
				fmt.Fprintf(h.out, "  - %s\n", f)
			}
		}
	}
	return result, err
}

type stageFunc struct {
	stage Stage
	fn    func(context.Context, *Result) error
}

// runStage executes a stage with timing and error handling
func (h *Hive) runStage(ctx context.Context, result *Result, stage Stage, fn func(context.Context, *Result) error) error {
	fmt.Fprintf(h.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(h.out, "  Stage %d: %s\n", stage+1, stage.String())
	fmt.Fprintf(h.out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")

	sr := &StageResult{Stage: stage}
	start := time.Now()
	err := fn(ctx, result)
	sr.Duration = time.Since(start)
	sr.Success = err == nil
	sr.TxHash = stageTxHash(result, stage)

	if err != nil {
		sr.Error = err
		sr.Message = fmt.Sprintf("Failed: %v", err)
		fmt.Fprintf(h.out, "\nStage %s failed: %v\n", stage, err)
		h.log.Errorw("Stage failed", "stage", stage.String(), "err", err)
	} else {
		sr.Message = fmt.Sprintf("Completed in %s", sr.Duration)
		fmt.Fprintf(h.out, "\nStage %s completed in %s\n", stage, sr.Duration)
	}
	if h.recorder != nil {
		h.recorder.RecordStageDuration(stage.String(), sr.Duration, err)
	}

	result.AddStageResult(sr)
	return err
}

func stageTxHash(result *Result, stage Stage) *felt.Felt {
	switch stage {
	case StageDeclare:
		return result.DeclareTxHash
	case StageDeploy:
		return result.DeployTxHash
	case StageInvoke:
		return result.InvokeTxHash
	case StageCustomSignature:
		return result.CustomSignatureTxHash
	}
	return nil
}

// Stage 1: Initialize
func (h *Hive) initialize(ctx context.Context, result *Result) error {
	var (
		chainID   *felt.Felt
		version   string
		block     *types.BlockHashAndNumber
		nonce     *felt.Felt
		accountCH *felt.Felt
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if chainID, err = h.provider.ChainID(gctx); err != nil {
			return fmt.Errorf("failed to get chain ID: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if version, err = h.provider.SpecVersion(gctx); err != nil {
			return fmt.Errorf("failed to get spec version: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if block, err = h.provider.BlockHashAndNumber(gctx); err != nil {
			return fmt.Errorf("failed to get latest block: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if nonce, err = h.account.SyncNonce(gctx); err != nil {
			return fmt.Errorf("failed to get account nonce: %w", err)
		}
		return nil
	})
	if h.runCfg.AccountClassHash != nil {
		g.Go(func() error {
			var err error
			if accountCH, err = h.provider.ClassHashAt(gctx, types.LatestBlock(), h.account.Address()); err != nil {
				return fmt.Errorf("failed to get account class: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	result.ChainID = chainID
	result.SpecVersion = version
	result.BlockNumber = block.BlockNumber
	result.StartNonce = nonce

	if !chainID.Equal(h.account.ChainID()) {
		return fmt.Errorf("%w: node serves %s, account signs for %s", ErrChainMismatch, chainID, h.account.ChainID())
	}
	if h.runCfg.SpecVersion != "" {
		if err := provider.CheckSpecVersion(version, h.runCfg.SpecVersion); err != nil {
			return err
		}
	}
	if accountCH != nil && !accountCH.Equal(h.runCfg.AccountClassHash) {
		return fmt.Errorf("%w: account %s has class %s, expected %s",
			ErrClassHashMismatch, h.account.Address(), accountCH, h.runCfg.AccountClassHash)
	}

	fmt.Fprintf(h.out, "\nNode:\n")
	fmt.Fprintf(h.out, "  Chain ID:       %s\n", chainID)
	fmt.Fprintf(h.out, "  Spec Version:   %s\n", version)
	fmt.Fprintf(h.out, "  Latest Block:   %d\n", block.BlockNumber)
	fmt.Fprintf(h.out, "\nAccount:\n")
	fmt.Fprintf(h.out, "  Address:        %s\n", h.account.Address())
	fmt.Fprintf(h.out, "  Nonce:          %s\n", nonce)
	fmt.Fprintf(h.out, "  Encoding:       %s\n", h.account.Encoding())
	return nil
}

// Stage 2: Declare
func (h *Hive) declare(ctx context.Context, result *Result) error {
	decl := h.account.Declare(h.runCfg.Class, h.runCfg.CompiledClassHash)
	local, err := decl.ClassHash()
	if err != nil {
		return fmt.Errorf("failed to compute class hash: %w", err)
	}
	fmt.Fprintf(h.out, "Declaring class %s...\n", local)

	res, err := decl.Send(ctx)
	if err != nil {
		if h.runCfg.SkipDeclared && provider.HasCode(err, provider.CodeClassAlreadyDeclared) {
			fmt.Fprintf(h.out, "Class already declared, continuing with %s\n", local)
			result.ClassHash = local
			result.AlreadyDeclared = true
			h.classHash = local
			return nil
		}
		return fmt.Errorf("declare failed: %w", err)
	}
	result.DeclareTxHash = res.TransactionHash

	if res.ClassHash != nil && !res.ClassHash.Equal(local) {
		return fmt.Errorf("%w: node returned %s, computed %s", ErrClassHashMismatch, res.ClassHash, local)
	}
	if _, err := h.wait(ctx, res.TransactionHash); err != nil {
		return fmt.Errorf("declare transaction %s: %w", res.TransactionHash, err)
	}

	result.ClassHash = local
	h.classHash = local
	fmt.Fprintf(h.out, "  Class Hash:     %s\n", local)
	fmt.Fprintf(h.out, "  Tx Hash:        %s\n", res.TransactionHash)
	return nil
}

// Stage 3: Deploy through the UDC
func (h *Hive) deploy(ctx context.Context, result *Result) error {
	salt := h.runCfg.Salt
	if salt == nil {
		var err error
		if salt, err = factory.RandomSalt(h.runCfg.Entropy); err != nil {
			return err
		}
	}
	result.Salt = salt

	f, err := factory.New(h.classHash, h.account)
	if err != nil {
		return err
	}
	d, err := f.Deploy(ctx, h.runCfg.ConstructorCalldata, salt, h.runCfg.Unique)
	if err != nil {
		return err
	}
	h.deployment = d
	result.ContractAddress = d.Address
	result.DeployTxHash = d.Result.TransactionHash
	fmt.Fprintf(h.out, "Deploying to %s (salt %s)...\n", d.Address, salt)

	receipt, err := h.wait(ctx, d.Result.TransactionHash)
	if err != nil {
		return fmt.Errorf("deploy transaction %s: %w", d.Result.TransactionHash, err)
	}
	if err := d.Confirm(receipt); err != nil {
		return err
	}

	deployed, err := h.provider.ClassHashAt(ctx, types.LatestBlock(), d.Address)
	if err != nil {
		return fmt.Errorf("failed to get class of deployed contract: %w", err)
	}
	if !deployed.Equal(h.classHash) {
		return fmt.Errorf("%w: contract %s has class %s, expected %s", ErrClassHashMismatch, d.Address, deployed, h.classHash)
	}

	fmt.Fprintf(h.out, "  Address:        %s\n", d.Address)
	fmt.Fprintf(h.out, "  Tx Hash:        %s\n", d.Result.TransactionHash)
	return nil
}

// Stage 4: Invoke
func (h *Hive) invoke(ctx context.Context, result *Result) error {
	before, err := h.readBalance(ctx)
	if err != nil {
		return err
	}
	result.BalanceBefore = before

	call, err := types.NewCall(h.deployment.Address, h.runCfg.IncreaseFunction, h.runCfg.Amount)
	if err != nil {
		return err
	}
	h.increase = call

	h.expected = new(felt.Felt).Add(before, h.runCfg.Amount)

	fmt.Fprintf(h.out, "Invoking %s(%s)...\n", h.runCfg.IncreaseFunction, h.runCfg.Amount)
	res, err := h.account.Execute([]types.Call{call}).Send(ctx)
	if err != nil {
		return fmt.Errorf("invoke failed: %w", err)
	}
	result.InvokeTxHash = res.TransactionHash

	receipt, err := h.wait(ctx, res.TransactionHash)
	if err != nil {
		return fmt.Errorf("invoke transaction %s: %w", res.TransactionHash, err)
	}
	fmt.Fprintf(h.out, "  Tx Hash:        %s\n", res.TransactionHash)
	if receipt.IsPending() {
		fmt.Fprintf(h.out, "  Block:          pending\n")
	} else if receipt.BlockNumber != nil {
		n := *receipt.BlockNumber
		result.InvokeBlockNumber = &n
		fmt.Fprintf(h.out, "  Block:          %d\n", n)
	}
	return nil
}

// Stage 5: Read back
func (h *Hive) read(ctx context.Context, result *Result) error {
	if result.InvokeBlockNumber == nil && h.runCfg.ReadBlock.Tag == types.BlockTagLatest {
		h.log.Warnw("Reading latest state while the invoke is still pending", "hash", result.InvokeTxHash)
	}

	after, err := h.readBalance(ctx)
	if err != nil {
		return err
	}
	result.BalanceAfter = after

	if head, err := h.provider.BlockNumber(ctx); err != nil {
		h.log.Warnw("Failed to get head block", "err", err)
	} else {
		result.HeadBlockNumber = head
	}

	fmt.Fprintf(h.out, "  Before:         %s\n", result.BalanceBefore)
	fmt.Fprintf(h.out, "  After:          %s\n", after)
	if !after.Equal(h.expected) {
		return fmt.Errorf("%w: %s returned %s, expected %s", ErrStateMismatch, h.runCfg.BalanceFunction, after, h.expected)
	}
	return nil
}

// Stage 6: Submit the invocation again with a custom signature. The node
// must refuse it, either at submission or on chain.
func (h *Hive) customSignature(ctx context.Context, result *Result) error {
	// a refused transaction does not consume the nonce the account reserved
	defer func() {
		if _, err := h.account.SyncNonce(context.WithoutCancel(ctx)); err != nil {
			h.log.Warnw("Failed to resync nonce", "err", err)
		}
	}()

	fmt.Fprintf(h.out, "Submitting %s with signature %v...\n", h.runCfg.IncreaseFunction, h.runCfg.CustomSignature)
	res, err := h.account.Execute([]types.Call{h.increase}).SendWithCustomSignature(ctx, h.runCfg.CustomSignature)
	if err != nil {
		// only a refusal of the submission itself counts; estimation
		// errors mean the forged transaction never reached the node
		var rpcErr *provider.RPCError
		if errors.Is(err, account.ErrSubmission) && errors.As(err, &rpcErr) && rpcErr.Kind == provider.KindProtocol {
			result.CustomSignatureOutcome = fmt.Sprintf("refused at submission (%d: %s)", rpcErr.Code, rpcErr.Message)
			fmt.Fprintf(h.out, "  Outcome:        %s\n", result.CustomSignatureOutcome)
			return nil
		}
		return fmt.Errorf("custom signature submission failed: %w", err)
	}
	result.CustomSignatureTxHash = res.TransactionHash

	_, err = h.wait(ctx, res.TransactionHash)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrUnexpectedAcceptance, res.TransactionHash)
	case errors.Is(err, waiter.ErrRejected):
		result.CustomSignatureOutcome = fmt.Sprintf("rejected on chain (%v)", err)
	case errors.Is(err, waiter.ErrTimedOut):
		result.CustomSignatureOutcome = "never accepted (timed out)"
	default:
		return fmt.Errorf("custom signature transaction %s: %w", res.TransactionHash, err)
	}
	fmt.Fprintf(h.out, "  Tx Hash:        %s\n", res.TransactionHash)
	fmt.Fprintf(h.out, "  Outcome:        %s\n", result.CustomSignatureOutcome)
	return nil
}

func (h *Hive) readBalance(ctx context.Context) (*felt.Felt, error) {
	selector, err := types.SelectorFromName(h.runCfg.BalanceFunction)
	if err != nil {
		return nil, err
	}
	out, err := h.provider.Call(ctx, types.FunctionCall{
		ContractAddress:    h.deployment.Address,
		EntryPointSelector: selector,
	}, h.runCfg.ReadBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", h.runCfg.BalanceFunction, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s at %s", ErrEmptyResult, h.runCfg.BalanceFunction, h.runCfg.ReadBlock)
	}
	return out[0], nil
}

// wait blocks on the waiter, showing a progress bar when enabled.
func (h *Hive) wait(ctx context.Context, hash *felt.Felt) (*types.Receipt, error) {
	if h.runCfg.Progress {
		h.bar = progress.New(h.out, h.waiter.Config().MaxAttempts, "  waiting for "+shortHash(hash))
		defer func() {
			progress.Finish(h.bar, h.log)
			h.bar = nil
		}()
	}
	return h.waiter.Wait(ctx, hash)
}

func (h *Hive) onPoll(waiter.PollEvent) {
	progress.Add(h.bar, 1, h.log)
}

// Close releases the resources registered with WithCloser
func (h *Hive) Close() {
	if h.closer != nil {
		h.closer()
	}
}

func shortHash(f *felt.Felt) string {
	s := f.String()
	if len(s) <= 14 {
		return s
	}
	return s[:8] + "…" + s[len(s)-4:]
}
