// Package provider is the JSON-RPC transport to the Starknet node under test.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/NethermindEth/juno/core/felt"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/0xmhha/starknet-hive/internal/log"
	"github.com/0xmhha/starknet-hive/pkg/types"
)

// Provider is the subset of the Starknet JSON-RPC API the harness drives.
type Provider interface {
	ChainID(ctx context.Context) (*felt.Felt, error)
	SpecVersion(ctx context.Context) (string, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockHashAndNumber(ctx context.Context) (*types.BlockHashAndNumber, error)
	Nonce(ctx context.Context, blockID types.BlockID, address *felt.Felt) (*felt.Felt, error)
	ClassHashAt(ctx context.Context, blockID types.BlockID, address *felt.Felt) (*felt.Felt, error)
	Call(ctx context.Context, call types.FunctionCall, blockID types.BlockID) ([]*felt.Felt, error)
	EstimateFee(ctx context.Context, txns []types.BroadcastedTxn, flags []types.SimulationFlag, blockID types.BlockID) ([]types.FeeEstimate, error)
	Submit(ctx context.Context, txn types.BroadcastedTxn) (*types.TransactionResult, error)
	TransactionReceipt(ctx context.Context, hash *felt.Felt) (*types.Receipt, error)
	TransactionStatus(ctx context.Context, hash *felt.Felt) (*types.TransactionStatus, error)
}

// Recorder receives one observation per RPC round trip.
type Recorder interface {
	ObserveRPC(method string, duration time.Duration, err error)
}

// Options configures a Client.
type Options struct {
	// RequestTimeout bounds a single round trip. Zero disables it.
	RequestTimeout time.Duration
	// RetryCount is the number of extra attempts after a transport failure.
	RetryCount int
	// RetryDelay is the first backoff delay; it doubles on every retry.
	RetryDelay time.Duration
	// RetrySubmissions also retries add*Transaction calls. A retried
	// submission may be answered with DUPLICATE_TX.
	RetrySubmissions bool
	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64
	Headers   map[string]string
	Logger    log.Logger
	Recorder  Recorder
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		RequestTimeout: 30 * time.Second,
		RetryCount:     3,
		RetryDelay:     200 * time.Millisecond,
	}
}

// Client implements Provider over go-ethereum's JSON-RPC client.
type Client struct {
	rpc     *rpc.Client
	opts    Options
	limiter *rate.Limiter
	log     log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ Provider = (*Client)(nil)

// Dial connects to the node at url.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	dialOpts := []rpc.ClientOption{
		rpc.WithHTTPClient(&http.Client{Timeout: opts.RequestTimeout}),
	}
	for k, v := range opts.Headers {
		dialOpts = append(dialOpts, rpc.WithHeader(k, v))
	}

	rpcClient, err := rpc.DialOptions(ctx, url, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return NewWithClient(rpcClient, opts), nil
}

// NewWithClient wraps an existing rpc.Client.
func NewWithClient(rpcClient *rpc.Client, opts Options) *Client {
	c := &Client{
		rpc:   rpcClient,
		opts:  opts,
		log:   opts.Logger,
		sleep: sleepContext,
	}
	if c.log == nil {
		c.log = log.NewNopLogger()
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// Close closes the client connection
func (c *Client) Close() {
	c.rpc.Close()
}

// ChainID returns the chain identifier
func (c *Client) ChainID(ctx context.Context) (*felt.Felt, error) {
	var id felt.Felt
	if err := c.call(ctx, true, &id, "starknet_chainId"); err != nil {
		return nil, err
	}
	return &id, nil
}

// SpecVersion returns the JSON-RPC specification version of the node
func (c *Client) SpecVersion(ctx context.Context) (string, error) {
	var v string
	err := c.call(ctx, true, &v, "starknet_specVersion")
	return v, err
}

// BlockNumber returns the latest block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.call(ctx, true, &n, "starknet_blockNumber")
	return n, err
}

// BlockHashAndNumber returns the latest block hash and number
func (c *Client) BlockHashAndNumber(ctx context.Context) (*types.BlockHashAndNumber, error) {
	var res types.BlockHashAndNumber
	if err := c.call(ctx, true, &res, "starknet_blockHashAndNumber"); err != nil {
		return nil, err
	}
	return &res, nil
}

// Nonce returns the nonce of a contract at the given block
func (c *Client) Nonce(ctx context.Context, blockID types.BlockID, address *felt.Felt) (*felt.Felt, error) {
	var nonce felt.Felt
	if err := c.call(ctx, true, &nonce, "starknet_getNonce", blockID, address); err != nil {
		return nil, err
	}
	return &nonce, nil
}

// ClassHashAt returns the class hash of the contract deployed at address
func (c *Client) ClassHashAt(ctx context.Context, blockID types.BlockID, address *felt.Felt) (*felt.Felt, error) {
	var hash felt.Felt
	if err := c.call(ctx, true, &hash, "starknet_getClassHashAt", blockID, address); err != nil {
		return nil, err
	}
	return &hash, nil
}

// Call executes a read-only function call
func (c *Client) Call(ctx context.Context, call types.FunctionCall, blockID types.BlockID) ([]*felt.Felt, error) {
	var out []*felt.Felt
	if err := c.call(ctx, true, &out, "starknet_call", call, blockID); err != nil {
		return nil, err
	}
	return out, nil
}

// EstimateFee estimates the fee of a sequence of transactions
func (c *Client) EstimateFee(ctx context.Context, txns []types.BroadcastedTxn, flags []types.SimulationFlag, blockID types.BlockID) ([]types.FeeEstimate, error) {
	if flags == nil {
		flags = []types.SimulationFlag{}
	}
	var out []types.FeeEstimate
	if err := c.call(ctx, true, &out, "starknet_estimateFee", txns, flags, blockID); err != nil {
		return nil, err
	}
	return out, nil
}

// Submit sends a signed transaction to the matching add*Transaction method
func (c *Client) Submit(ctx context.Context, txn types.BroadcastedTxn) (*types.TransactionResult, error) {
	method, err := submitMethod(txn)
	if err != nil {
		return nil, err
	}

	var res types.TransactionResult
	if err := c.call(ctx, c.opts.RetrySubmissions, &res, method, txn); err != nil {
		return nil, err
	}
	if res.TransactionHash == nil {
		return nil, &RPCError{
			Kind:    KindProtocol,
			Method:  method,
			Message: "missing transaction_hash",
			Err:     types.ErrEncoding,
		}
	}
	return &res, nil
}

// TransactionReceipt returns the receipt of a transaction by hash
func (c *Client) TransactionReceipt(ctx context.Context, hash *felt.Felt) (*types.Receipt, error) {
	var receipt types.Receipt
	if err := c.call(ctx, true, &receipt, "starknet_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// TransactionStatus returns the finality and execution status of a transaction
func (c *Client) TransactionStatus(ctx context.Context, hash *felt.Felt) (*types.TransactionStatus, error) {
	var status types.TransactionStatus
	if err := c.call(ctx, true, &status, "starknet_getTransactionStatus", hash); err != nil {
		return nil, err
	}
	return &status, nil
}

// CheckSpecVersion fails when the node's spec version does not satisfy
// constraint, e.g. ">=0.7.0, <0.8.0".
func CheckSpecVersion(version, constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid spec version constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("node reported unparseable spec version %q: %w", version, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("node spec version %s does not satisfy %s", v, constraint)
	}
	return nil
}

func submitMethod(txn types.BroadcastedTxn) (string, error) {
	switch txn.TxnType() {
	case types.TxnInvoke:
		return "starknet_addInvokeTransaction", nil
	case types.TxnDeclare:
		return "starknet_addDeclareTransaction", nil
	case types.TxnDeployAccount:
		return "starknet_addDeployAccountTransaction", nil
	default:
		return "", fmt.Errorf("%w: unsupported transaction type %q", types.ErrEncoding, txn.TxnType())
	}
}

func (c *Client) call(ctx context.Context, retry bool, result any, method string, args ...any) error {
	attempts := 1
	if retry {
		attempts += c.opts.RetryCount
	}
	delay := c.opts.RetryDelay

	var lastErr *RPCError
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.roundTrip(ctx, result, method, args...)
		if err == nil {
			return nil
		}

		lastErr = classify(method, err)
		// Only the per-request timeout is retried, never the caller's deadline.
		if !lastErr.Retryable() || ctx.Err() != nil || attempt == attempts {
			break
		}

		c.log.Debugw("Retrying RPC call", "method", method, "attempt", attempt, "delay", delay, "err", err)
		if err := c.sleep(ctx, delay); err != nil {
			return &RPCError{Kind: KindTransport, Method: method, Err: err}
		}
		delay *= 2
	}
	return lastErr
}

func (c *Client) roundTrip(ctx context.Context, result any, method string, args ...any) (err error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	if c.opts.Recorder != nil {
		start := time.Now()
		defer func() { c.opts.Recorder.ObserveRPC(method, time.Since(start), err) }()
	}

	var raw json.RawMessage
	if err := c.rpc.CallContext(ctx, &raw, method, args...); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("%w: decoding %s result: %v", types.ErrEncoding, method, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
