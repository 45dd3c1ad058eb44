// Package integration provides integration tests for starknet-hive.
//
// These tests run the lifecycle against a real Starknet node, normally
// starknet-devnet. They are skipped when no node is reachable, making them
// safe to include in CI pipelines.
//
// # Running Integration Tests
//
// Connection and account tests (no contract artifacts needed):
//
//	HIVE_RPC_URL=http://localhost:5050 go test ./internal/integration/...
//
// Full lifecycle test (requires a compiled contract):
//
//	HIVE_RPC_URL=http://localhost:5050 \
//	HIVE_CONTRACT_CLASS=target/dev/contracts_HelloStarknet.contract_class.json \
//	HIVE_COMPILED_CLASS_HASH=0x2c3348ad109f7f3967df6494b3c48741d61675d9a7915b265aa7101a631dc33 \
//	go test ./internal/integration/...
//
// Skip integration tests in CI:
//
//	go test -short ./...
//
// # Environment Variables
//
//   - HIVE_RPC_URL: RPC endpoint URL (default: http://localhost:5050)
//   - HIVE_ACCOUNT_ADDRESS, HIVE_PRIVATE_KEY: funded account (default: the
//     first predeployed devnet account with --seed 0)
//   - HIVE_CONTRACT_CLASS: Sierra contract_class.json of a contract exposing
//     increase_balance and get_balance
//   - HIVE_COMPILED_CLASS_HASH: its compiled class hash as hex, or a path to
//     a file holding either the hex value or {"compiled_class_hash": "0x..."}.
//     The CASM compiled_contract_class.json itself is not accepted.
//
// # Local Development
//
//	starknet-devnet --seed 0
package integration
