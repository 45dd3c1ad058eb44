package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/0xmhha/starknet-hive/pkg/types"
)

// Config holds all configuration for a hive run
type Config struct {
	// RPC connection
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request-timeout"`
	RetryCount     int           `mapstructure:"retry-count"`
	RetryDelay     time.Duration `mapstructure:"retry-delay"`
	RateLimit      float64       `mapstructure:"rate-limit"`
	SpecVersion    string        `mapstructure:"spec-version"`

	// Account configuration
	AccountAddress   string `mapstructure:"account-address"`
	AccountClassHash string `mapstructure:"account-class-hash"`
	PrivateKey       string `mapstructure:"private-key"`
	Mnemonic         string `mapstructure:"mnemonic"`
	MnemonicIndex    uint32 `mapstructure:"mnemonic-index"`
	Encoding         string `mapstructure:"encoding"`

	// Contract artifacts
	ContractClass     string `mapstructure:"contract-class"`
	CompiledClassHash string `mapstructure:"compiled-class-hash"`
	SkipDeclared      bool   `mapstructure:"skip-declared"`

	// Deployment
	Salt                string   `mapstructure:"salt"`
	Unique              bool     `mapstructure:"unique"`
	ConstructorCalldata []string `mapstructure:"constructor-calldata"`

	// Invocation and read-back
	IncreaseFunction string `mapstructure:"increase-function"`
	BalanceFunction  string `mapstructure:"balance-function"`
	Amount           string `mapstructure:"amount"`
	ReadBlock        string `mapstructure:"read-block"`

	// Custom signature stage
	CustomSignature      bool     `mapstructure:"custom-signature"`
	CustomSignatureValue []string `mapstructure:"custom-signature-value"`

	// Fees
	L1MaxAmount      string  `mapstructure:"l1-max-amount"`
	L1MaxPrice       string  `mapstructure:"l1-max-price"`
	AmountMultiplier float64 `mapstructure:"amount-multiplier"`
	PriceMultiplier  float64 `mapstructure:"price-multiplier"`
	SkipValidate     bool    `mapstructure:"skip-validate"`

	// Confirmation polling
	PollInterval    time.Duration `mapstructure:"poll-interval"`
	BackoffFactor   float64       `mapstructure:"backoff-factor"`
	MaxPollInterval time.Duration `mapstructure:"max-poll-interval"`
	MaxAttempts     int           `mapstructure:"max-attempts"`

	// Output
	OutputDir string `mapstructure:"output-dir"`
	Export    bool   `mapstructure:"export"`
	LogLevel  string `mapstructure:"log-level"`
	NoColor   bool   `mapstructure:"no-color"`
	Progress  bool   `mapstructure:"progress"`

	// Prometheus metrics
	MetricsEnabled bool `mapstructure:"metrics"`
	MetricsPort    int  `mapstructure:"metrics-port"`
}

var (
	httpRegex   = regexp.MustCompile(`^https?://`)
	wsRegex     = regexp.MustCompile(`^wss?://`)
	hexKeyRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)
	feltRegex   = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)

	// aliases accepted for the __execute__ calldata layout
	encodings = map[string]string{
		"":       "new",
		"new":    "new",
		"cairo1": "new",
		"legacy": "legacy",
		"cairo0": "legacy",
	}
)

// Default returns the configuration of a run against a local devnet with
// its first predeployed account.
func Default() *Config {
	return &Config{
		URL:                  "http://localhost:5050",
		RequestTimeout:       30 * time.Second,
		RetryCount:           3,
		RetryDelay:           200 * time.Millisecond,
		SpecVersion:          "^0.7",
		Encoding:             "new",
		Unique:               true,
		IncreaseFunction:     "increase_balance",
		BalanceFunction:      "get_balance",
		Amount:               "0x123",
		ReadBlock:            "pending",
		CustomSignature:      true,
		CustomSignatureValue: []string{"0x1", "0x2"},
		AmountMultiplier:     1.5,
		PriceMultiplier:      1.5,
		PollInterval:         500 * time.Millisecond,
		BackoffFactor:        1.5,
		MaxPollInterval:      5 * time.Second,
		MaxAttempts:          60,
		OutputDir:            "./reports",
		LogLevel:             "info",
		MetricsPort:          9090,
	}
}

// Validate validates the configuration and fills in zero-valued defaults
func (c *Config) Validate() error {
	// Validate URL
	if c.URL == "" {
		return errors.New("url is required")
	}
	if !httpRegex.MatchString(c.URL) && !wsRegex.MatchString(c.URL) {
		return errors.New("url must be a valid HTTP or WebSocket URL")
	}

	// Validate account credentials
	if c.AccountAddress == "" {
		return errors.New("account-address is required")
	}
	if !feltRegex.MatchString(c.AccountAddress) {
		return errors.New("account-address must be a 0x-prefixed hex felt")
	}
	if c.PrivateKey == "" && c.Mnemonic == "" {
		return errors.New("either private-key or mnemonic is required")
	}
	if c.PrivateKey != "" && c.Mnemonic != "" {
		return errors.New("private-key and mnemonic are mutually exclusive")
	}
	if c.PrivateKey != "" && !hexKeyRegex.MatchString(c.PrivateKey) {
		return errors.New("private-key must be a 0x-prefixed hex string of at most 64 digits")
	}
	if c.AccountClassHash != "" && !feltRegex.MatchString(c.AccountClassHash) {
		return errors.New("account-class-hash must be a 0x-prefixed hex felt")
	}
	if _, ok := encodings[strings.ToLower(c.Encoding)]; !ok {
		return fmt.Errorf("unknown execution encoding %q", c.Encoding)
	}

	// Validate artifacts
	if c.ContractClass == "" {
		return errors.New("contract-class is required")
	}
	if c.CompiledClassHash == "" {
		return errors.New("compiled-class-hash is required")
	}

	for name, v := range map[string]string{"salt": c.Salt, "amount": c.Amount, "l1-max-amount": c.L1MaxAmount, "l1-max-price": c.L1MaxPrice} {
		if v != "" && !feltRegex.MatchString(v) {
			return fmt.Errorf("%s must be a 0x-prefixed hex felt", name)
		}
	}
	if (c.L1MaxAmount == "") != (c.L1MaxPrice == "") {
		return errors.New("l1-max-amount and l1-max-price must be set together")
	}
	for i, v := range c.ConstructorCalldata {
		if !feltRegex.MatchString(v) {
			return fmt.Errorf("constructor-calldata[%d] must be a 0x-prefixed hex felt", i)
		}
	}
	for i, v := range c.CustomSignatureValue {
		if !feltRegex.MatchString(v) {
			return fmt.Errorf("custom-signature-value[%d] must be a 0x-prefixed hex felt", i)
		}
	}

	if c.ReadBlock == "" {
		c.ReadBlock = "pending"
	}
	if _, err := types.ParseBlockID(c.ReadBlock); err != nil {
		return fmt.Errorf("invalid read-block: %w", err)
	}
	if c.SpecVersion != "" {
		if _, err := semver.NewConstraint(c.SpecVersion); err != nil {
			return fmt.Errorf("invalid spec-version constraint %q: %w", c.SpecVersion, err)
		}
	}

	// Set defaults
	if c.Amount == "" {
		c.Amount = "0x123"
	}
	if c.IncreaseFunction == "" {
		c.IncreaseFunction = "increase_balance"
	}
	if c.BalanceFunction == "" {
		c.BalanceFunction = "get_balance"
	}
	if c.CustomSignature && len(c.CustomSignatureValue) == 0 {
		c.CustomSignatureValue = []string{"0x1", "0x2"}
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RetryCount < 0 {
		return errors.New("retry-count must not be negative")
	}
	if c.RateLimit < 0 {
		return errors.New("rate-limit must not be negative")
	}
	if c.AmountMultiplier == 0 {
		c.AmountMultiplier = 1.5
	}
	if c.PriceMultiplier == 0 {
		c.PriceMultiplier = 1.5
	}
	if c.AmountMultiplier < 1 || c.PriceMultiplier < 1 {
		return errors.New("fee multipliers must be at least 1")
	}

	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = 1.5
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 60
	}
	if c.MaxAttempts < 0 {
		return errors.New("max-attempts must be positive")
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	// Set default metrics port
	if c.MetricsEnabled && c.MetricsPort == 0 {
		c.MetricsPort = 9090
	}

	return nil
}

// GetEncoding returns the canonical execution encoding name, "new" or
// "legacy"
func (c *Config) GetEncoding() string {
	if enc, ok := encodings[strings.ToLower(c.Encoding)]; ok {
		return enc
	}
	return "new"
}

// GetReadBlock returns the parsed read-back block
func (c *Config) GetReadBlock() types.BlockID {
	id, err := types.ParseBlockID(c.ReadBlock)
	if err != nil {
		return types.PendingBlock()
	}
	return id
}

// FixedBounds returns the configured L1 bounds, or nil to estimate
func (c *Config) FixedBounds() (*types.ResourceBoundsMapping, error) {
	if c.L1MaxAmount == "" {
		return nil, nil
	}
	amount, err := types.HexToFelt(c.L1MaxAmount)
	if err != nil {
		return nil, err
	}
	price, err := types.HexToFelt(c.L1MaxPrice)
	if err != nil {
		return nil, err
	}
	b := types.ZeroResourceBounds()
	b.L1Gas.MaxAmount = amount
	b.L1Gas.MaxPricePerUnit = price
	return &b, nil
}

// IsWebSocket returns true if the URL is a WebSocket URL
func (c *Config) IsWebSocket() bool {
	return wsRegex.MatchString(c.URL)
}
