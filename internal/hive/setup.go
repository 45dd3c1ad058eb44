package hive

import (
	"context"
	"fmt"

	"github.com/0xmhha/starknet-hive/internal/account"
	"github.com/0xmhha/starknet-hive/internal/artifact"
	"github.com/0xmhha/starknet-hive/internal/config"
	"github.com/0xmhha/starknet-hive/internal/log"
	"github.com/0xmhha/starknet-hive/internal/metrics"
	"github.com/0xmhha/starknet-hive/internal/provider"
	"github.com/0xmhha/starknet-hive/internal/signer"
	"github.com/0xmhha/starknet-hive/internal/waiter"
	"github.com/0xmhha/starknet-hive/pkg/types"
)

// FromConfig dials the node, loads the artifacts and builds the account
// described by cfg. m may be nil.
func FromConfig(ctx context.Context, cfg *config.Config, logger log.Logger, m *metrics.Metrics) (*Hive, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	runCfg, err := RunConfigFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	popts := provider.DefaultOptions()
	popts.RequestTimeout = cfg.RequestTimeout
	popts.RetryCount = cfg.RetryCount
	popts.RetryDelay = cfg.RetryDelay
	popts.RateLimit = cfg.RateLimit
	popts.Logger = logger
	if m != nil {
		popts.Recorder = m
	}

	client, err := provider.Dial(ctx, cfg.URL, popts)
	if err != nil {
		return nil, err
	}

	acc, err := newAccount(ctx, client, cfg, logger, m)
	if err != nil {
		client.Close()
		return nil, err
	}

	opts := []Option{WithLogger(logger), WithCloser(client.Close)}
	if m != nil {
		opts = append(opts, WithRecorder(m), WithWaiterOptions(waiter.WithRecorder(m)))
	}
	h, err := New(client, acc, runCfg, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	return h, nil
}

func newAccount(ctx context.Context, p provider.Provider, cfg *config.Config, logger log.Logger, m *metrics.Metrics) (*account.Account, error) {
	var (
		s   *signer.Signer
		err error
	)
	if cfg.Mnemonic != "" {
		s, err = signer.NewFromMnemonic(cfg.Mnemonic, cfg.MnemonicIndex)
	} else {
		s, err = signer.NewFromHex(cfg.PrivateKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	address, err := types.HexToFelt(cfg.AccountAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid account address: %w", err)
	}

	chainID, err := p.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	enc, err := account.ParseEncoding(cfg.GetEncoding())
	if err != nil {
		return nil, err
	}
	fees, err := feeConfig(cfg)
	if err != nil {
		return nil, err
	}

	opts := []account.Option{
		account.WithEncoding(enc),
		account.WithFeeConfig(fees),
		account.WithLogger(logger),
	}
	if m != nil {
		opts = append(opts, account.WithObserver(m))
	}
	return account.New(p, address, chainID, s, opts...)
}

func feeConfig(cfg *config.Config) (account.FeeConfig, error) {
	fees := account.DefaultFeeConfig()
	fees.AmountMultiplier = cfg.AmountMultiplier
	fees.PriceMultiplier = cfg.PriceMultiplier
	fees.SkipValidate = cfg.SkipValidate

	bounds, err := cfg.FixedBounds()
	if err != nil {
		return fees, fmt.Errorf("invalid resource bounds: %w", err)
	}
	fees.FixedBounds = bounds
	return fees, nil
}

// RunConfigFromConfig loads the artifacts named by cfg and converts the
// remaining fields. It does not touch the network.
func RunConfigFromConfig(cfg *config.Config) (*RunConfig, error) {
	class, err := artifact.LoadSierraClass(cfg.ContractClass)
	if err != nil {
		return nil, err
	}
	compiled, err := artifact.CompiledClassHash(cfg.CompiledClassHash)
	if err != nil {
		return nil, err
	}

	runCfg := DefaultRunConfig()
	runCfg.Class = class
	runCfg.CompiledClassHash = compiled
	runCfg.SkipDeclared = cfg.SkipDeclared
	runCfg.Unique = cfg.Unique
	runCfg.IncreaseFunction = cfg.IncreaseFunction
	runCfg.BalanceFunction = cfg.BalanceFunction
	runCfg.ReadBlock = cfg.GetReadBlock()
	runCfg.SpecVersion = cfg.SpecVersion
	runCfg.ExportReport = cfg.Export
	runCfg.OutputDir = cfg.OutputDir
	runCfg.Progress = cfg.Progress
	runCfg.Waiter = &waiter.Config{
		PollInterval:    cfg.PollInterval,
		BackoffFactor:   cfg.BackoffFactor,
		MaxPollInterval: cfg.MaxPollInterval,
		MaxAttempts:     cfg.MaxAttempts,
	}

	if cfg.Salt != "" {
		if runCfg.Salt, err = types.HexToFelt(cfg.Salt); err != nil {
			return nil, fmt.Errorf("invalid salt: %w", err)
		}
	}
	if runCfg.Amount, err = types.HexToFelt(cfg.Amount); err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	if runCfg.ConstructorCalldata, err = types.HexToFelts(cfg.ConstructorCalldata); err != nil {
		return nil, fmt.Errorf("invalid constructor calldata: %w", err)
	}
	if cfg.AccountClassHash != "" {
		if runCfg.AccountClassHash, err = types.HexToFelt(cfg.AccountClassHash); err != nil {
			return nil, fmt.Errorf("invalid account class hash: %w", err)
		}
	}

	runCfg.CustomSignature = nil
	if cfg.CustomSignature {
		if runCfg.CustomSignature, err = types.HexToFelts(cfg.CustomSignatureValue); err != nil {
			return nil, fmt.Errorf("invalid custom signature: %w", err)
		}
	}
	return runCfg, nil
}
