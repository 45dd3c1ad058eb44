package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/0xmhha/starknet-hive/internal/config"
	"github.com/0xmhha/starknet-hive/internal/hive"
	"github.com/0xmhha/starknet-hive/internal/log"
	"github.com/0xmhha/starknet-hive/internal/metrics"
)

const envPrefix = "HIVE"

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "starknet-hive",
		Short: "Starknet contract lifecycle conformance tool",
		Long: `starknet-hive declares a Sierra class, deploys it through the Universal
Deployer, invokes it, reads the state back and checks that a transaction with
a forged signature is refused.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, cmd.Flags(), cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (yaml, toml or json)")
	registerFlags(rootCmd.Flags())
	return rootCmd
}

func registerFlags(flags *pflag.FlagSet) {
	d := config.Default()

	// RPC connection
	flags.String("url", d.URL, "Starknet JSON-RPC endpoint URL")
	flags.Duration("request-timeout", d.RequestTimeout, "Timeout of a single RPC request")
	flags.Int("retry-count", d.RetryCount, "Retries after a transport failure")
	flags.Duration("retry-delay", d.RetryDelay, "First delay between retries")
	flags.Float64("rate-limit", d.RateLimit, "Max RPC requests per second (0 = unlimited)")
	flags.String("spec-version", d.SpecVersion, "Semver constraint on the node's JSON-RPC spec version")

	// Account
	flags.String("account-address", d.AccountAddress, "Address of the funded account (required)")
	flags.String("account-class-hash", d.AccountClassHash, "Expected class hash of the account (optional check)")
	flags.String("private-key", d.PrivateKey, "Stark private key of the account (hex)")
	flags.String("mnemonic", d.Mnemonic, "BIP39 mnemonic (alternative to private-key)")
	flags.Uint32("mnemonic-index", d.MnemonicIndex, "Account index derived from the mnemonic")
	flags.String("encoding", d.Encoding, "Execute calldata layout: new (cairo1) or legacy (cairo0)")

	// Artifacts
	flags.String("contract-class", d.ContractClass, "Path to the Sierra contract_class.json (required)")
	flags.String("compiled-class-hash", d.CompiledClassHash, "Compiled class hash, as hex or a file containing it (required)")
	flags.Bool("skip-declared", d.SkipDeclared, "Continue when the class is already declared")

	// Deployment
	flags.String("salt", d.Salt, "Deployment salt (random if empty)")
	flags.Bool("unique", d.Unique, "Mix the deployer address into the salt")
	flags.StringSlice("constructor-calldata", d.ConstructorCalldata, "Constructor calldata felts")

	// Invocation and read-back
	flags.String("increase-function", d.IncreaseFunction, "Entry point invoked with the amount")
	flags.String("balance-function", d.BalanceFunction, "View function read back after the invocation")
	flags.String("amount", d.Amount, "Amount passed to the increase function")
	flags.String("read-block", d.ReadBlock, "Block the read-back is made against: pending, latest, number or hash")

	// Custom signature stage
	flags.Bool("custom-signature", d.CustomSignature, "Submit the invocation again with a forged signature")
	flags.StringSlice("custom-signature-value", d.CustomSignatureValue, "Felts of the forged signature")

	// Fees
	flags.String("l1-max-amount", d.L1MaxAmount, "Fixed L1 gas max amount (estimated if empty)")
	flags.String("l1-max-price", d.L1MaxPrice, "Fixed L1 gas max price per unit (estimated if empty)")
	flags.Float64("amount-multiplier", d.AmountMultiplier, "Multiplier on the estimated L1 gas amount")
	flags.Float64("price-multiplier", d.PriceMultiplier, "Multiplier on the estimated L1 gas price")
	flags.Bool("skip-validate", d.SkipValidate, "Estimate fees with SKIP_VALIDATE")

	// Confirmation polling
	flags.Duration("poll-interval", d.PollInterval, "Delay before the second receipt poll")
	flags.Float64("backoff-factor", d.BackoffFactor, "Growth of the poll delay (1 = constant)")
	flags.Duration("max-poll-interval", d.MaxPollInterval, "Cap on the poll delay")
	flags.Int("max-attempts", d.MaxAttempts, "Receipt polls before giving up on a transaction")

	// Output
	flags.String("output-dir", d.OutputDir, "Output directory for reports")
	flags.Bool("export", d.Export, "Export the run report as JSON and CSV")
	flags.String("log-level", d.LogLevel, "Log level: debug, info, warn, error")
	flags.Bool("no-color", d.NoColor, "Disable coloured output")
	flags.Bool("progress", d.Progress, "Show a progress bar while waiting for receipts")

	// Prometheus metrics
	flags.Bool("metrics", d.MetricsEnabled, "Enable Prometheus metrics endpoint")
	flags.Int("metrics-port", d.MetricsPort, "Port for Prometheus metrics endpoint")
}

// loadConfig merges, from lowest to highest precedence, flag defaults, the
// config file, a .env file, HIVE_* environment variables and explicit flags.
func loadConfig(v *viper.Viper, flags *pflag.FlagSet, cfgFile string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := config.Default()
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nReceived interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.NoColor {
		color.NoColor = true
	}

	var level log.Level
	if err := level.Set(cfg.LogLevel); err != nil {
		return err
	}
	logger, err := log.NewZapLogger(level, !color.NoColor)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.NewMetrics("hive", logger)
		if err := m.Start(ctx, cfg.MetricsPort); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() { _ = m.Stop(context.Background()) }()
	}

	h, err := hive.FromConfig(ctx, cfg, logger, m)
	if err != nil {
		return fmt.Errorf("failed to create hive: %w", err)
	}
	defer h.Close()

	result, err := h.Execute(ctx)
	if err != nil {
		return fmt.Errorf("run %s failed: %w", result.RunID, err)
	}
	if !result.Success() {
		return fmt.Errorf("run %s completed with errors", result.RunID)
	}
	return nil
}
