package testing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/0xmhha/starknet-hive/internal/config"
)

// WriteContractClass writes TestClass as a contract_class.json file under
// dir and returns its path
func WriteContractClass(t *testing.T, dir string) string {
	t.Helper()
	data, err := json.Marshal(TestClass())
	if err != nil {
		t.Fatalf("failed to marshal test class: %v", err)
	}
	path := filepath.Join(dir, "contracts_HelloStarknet.contract_class.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write test class: %v", err)
	}
	return path
}

// TestConfig creates a valid configuration for the first devnet account
// whose contract class lives in a temporary directory
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.AccountAddress = TestAccountAddress.String()
	cfg.AccountClassHash = TestAccountClassHash.String()
	cfg.PrivateKey = TestPrivateKey
	cfg.ContractClass = WriteContractClass(t, t.TempDir())
	cfg.CompiledClassHash = TestCompiledClassHash.String()
	cfg.Salt = "0x5a17"
	return cfg
}

// MinimalConfig creates a configuration with only the required fields set
func MinimalConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		URL:               "http://localhost:5050",
		AccountAddress:    TestAccountAddress.String(),
		PrivateKey:        TestPrivateKey,
		ContractClass:     "contract_class.json",
		CompiledClassHash: TestCompiledClassHash.String(),
	}
}

// FastPollingConfig shortens the polling schedule of cfg for tests
func FastPollingConfig(cfg *config.Config) *config.Config {
	cfg.PollInterval = time.Millisecond
	cfg.BackoffFactor = 1
	cfg.MaxPollInterval = 0
	cfg.MaxAttempts = 5
	return cfg
}

// InvalidConfigs returns a set of invalid configurations for testing validation
func InvalidConfigs(t *testing.T) map[string]*config.Config {
	t.Helper()
	with := func(mutate func(c *config.Config)) *config.Config {
		c := MinimalConfig(t)
		mutate(c)
		return c
	}
	return map[string]*config.Config{
		"missing_url":         with(func(c *config.Config) { c.URL = "" }),
		"invalid_url":         with(func(c *config.Config) { c.URL = "invalid-url" }),
		"missing_account":     with(func(c *config.Config) { c.AccountAddress = "" }),
		"invalid_account":     with(func(c *config.Config) { c.AccountAddress = "64b48806" }),
		"missing_credentials": with(func(c *config.Config) { c.PrivateKey = "" }),
		"both_credentials":    with(func(c *config.Config) { c.Mnemonic = TestMnemonic }),
		"invalid_private_key": with(func(c *config.Config) { c.PrivateKey = "invalid-key" }),
		"invalid_encoding":    with(func(c *config.Config) { c.Encoding = "cairo2" }),
		"missing_class":       with(func(c *config.Config) { c.ContractClass = "" }),
		"missing_compiled":    with(func(c *config.Config) { c.CompiledClassHash = "" }),
		"invalid_salt":        with(func(c *config.Config) { c.Salt = "salt" }),
		"half_fixed_bounds":   with(func(c *config.Config) { c.L1MaxAmount = "0x100" }),
		"invalid_read_block":  with(func(c *config.Config) { c.ReadBlock = "earliest" }),
		"invalid_spec":        with(func(c *config.Config) { c.SpecVersion = "not a version" }),
		"invalid_signature":   with(func(c *config.Config) { c.CustomSignatureValue = []string{"0x1", "two"} }),
	}
}
