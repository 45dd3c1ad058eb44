// Package account builds, signs and submits V3 transactions on behalf of a
// Starknet account contract.
package account

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/0xmhha/starknet-hive/internal/log"
	"github.com/0xmhha/starknet-hive/internal/provider"
	"github.com/0xmhha/starknet-hive/internal/signer"
	"github.com/0xmhha/starknet-hive/internal/util/mathutil"
	"github.com/0xmhha/starknet-hive/pkg/types"
)

// ErrNonceUnknown is returned when a transaction is built before the nonce
// was synchronised or set.
var ErrNonceUnknown = errors.New("account nonce unknown; call SyncNonce first")

// ErrSubmission wraps errors returned by the node for an add*Transaction call.
var ErrSubmission = errors.New("submission failed")

// Signer signs transaction hashes. *signer.Signer implements it.
type Signer interface {
	SignHash(hash *felt.Felt) ([]*felt.Felt, error)
	PublicKey() *felt.Felt
}

var _ Signer = (*signer.Signer)(nil)

// SubmitObserver is notified of every submission attempt.
type SubmitObserver interface {
	ObserveSubmit(kind types.TxnType, err error)
	SetNonce(nonce uint64)
}

// Account owns an address, a chain id and a Signer.
type Account struct {
	provider provider.Provider
	address  *felt.Felt
	chainID  *felt.Felt
	signer   Signer
	encoding Encoding
	fee      FeeConfig
	log      log.Logger
	observer SubmitObserver

	// mu serialises build, sign and submit so that no two transactions
	// share a nonce.
	mu    sync.Mutex
	nonce *felt.Felt
}

// Option configures an Account.
type Option func(*Account)

func WithEncoding(enc Encoding) Option {
	return func(a *Account) { a.encoding = enc }
}

func WithFeeConfig(cfg FeeConfig) Option {
	return func(a *Account) { a.fee = cfg }
}

func WithLogger(l log.Logger) Option {
	return func(a *Account) { a.log = l }
}

func WithObserver(o SubmitObserver) Option {
	return func(a *Account) { a.observer = o }
}

// WithNonce sets the starting nonce instead of reading it from the node.
func WithNonce(nonce *felt.Felt) Option {
	return func(a *Account) { a.nonce = types.CopyFelt(nonce) }
}

// New creates an Account. The nonce is unknown until SyncNonce or WithNonce.
func New(p provider.Provider, address, chainID *felt.Felt, s Signer, opts ...Option) (*Account, error) {
	if p == nil {
		return nil, errors.New("nil provider")
	}
	if address == nil || chainID == nil {
		return nil, errors.New("account address and chain id are required")
	}
	if s == nil {
		return nil, errors.New("nil signer")
	}

	a := &Account{
		provider: p,
		address:  address,
		chainID:  chainID,
		signer:   s,
		encoding: EncodingNew,
		fee:      DefaultFeeConfig(),
		log:      log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Address returns the account contract address.
func (a *Account) Address() *felt.Felt { return a.address }

// ChainID returns the chain id transactions are signed for.
func (a *Account) ChainID() *felt.Felt { return a.chainID }

// Encoding returns the multicall calldata layout in use.
func (a *Account) Encoding() Encoding { return a.encoding }

// Provider returns the provider the account submits through.
func (a *Account) Provider() provider.Provider { return a.provider }

// Nonce returns a copy of the local nonce, or nil if it is unknown.
func (a *Account) Nonce() *felt.Felt {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nonce == nil {
		return nil
	}
	return types.CopyFelt(a.nonce)
}

// SyncNonce replaces the local nonce with the node's pending nonce.
func (a *Account) SyncNonce(ctx context.Context) (*felt.Felt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	nonce, err := a.provider.Nonce(ctx, types.PendingBlock(), a.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	a.nonce = nonce
	a.observeNonce()
	a.log.Debugw("Synchronised nonce", "address", a.address, "nonce", nonce)
	return types.CopyFelt(nonce), nil
}

// Sign signs a transaction hash with the account's signer.
func (a *Account) Sign(hash *felt.Felt) ([]*felt.Felt, error) {
	return a.signer.SignHash(hash)
}

// currentNonce must be called with mu held.
func (a *Account) currentNonce(override *felt.Felt) (*felt.Felt, error) {
	if override != nil {
		return override, nil
	}
	if a.nonce == nil {
		return nil, ErrNonceUnknown
	}
	return types.CopyFelt(a.nonce), nil
}

// submit must be called with mu held. The local nonce advances only when
// the node accepted a transaction built on it.
func (a *Account) submit(ctx context.Context, txn types.BroadcastedTxn, nonce *felt.Felt, bumpNonce bool) (*types.TransactionResult, error) {
	res, err := a.provider.Submit(ctx, txn)
	if a.observer != nil {
		a.observer.ObserveSubmit(txn.TxnType(), err)
	}
	if err != nil {
		a.log.Debugw("Submission failed", "type", txn.TxnType(), "nonce", nonce, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrSubmission, err)
	}

	if bumpNonce && a.nonce != nil && nonce.Equal(a.nonce) {
		a.nonce = new(felt.Felt).Add(a.nonce, types.Uint64ToFelt(1))
		a.observeNonce()
	}
	a.log.Debugw("Submitted transaction", "type", txn.TxnType(), "hash", res.TransactionHash, "nonce", nonce)
	return res, nil
}

func (a *Account) observeNonce() {
	if a.observer == nil || a.nonce == nil {
		return
	}
	n, err := mathutil.BigToUint64(types.FeltToBig(a.nonce))
	if err != nil {
		a.log.Warnw("Nonce does not fit the nonce gauge", "nonce", a.nonce, "err", err)
		return
	}
	a.observer.SetNonce(n)
}
