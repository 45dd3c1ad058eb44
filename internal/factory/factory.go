// Package factory deploys instances of a declared class through the
// Universal Deployer Contract.
package factory

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/0xmhha/starknet-hive/internal/account"
	"github.com/0xmhha/starknet-hive/internal/contract"
	"github.com/0xmhha/starknet-hive/pkg/types"
)

// SaltSize keeps a random salt below the field modulus.
const SaltSize = 31

// Factory deploys contracts of one class from one account.
type Factory struct {
	classHash *felt.Felt
	account   *account.Account
	bounds    *types.ResourceBoundsMapping
}

// Deployment is the outcome of a submitted deployment. Address is known
// before the transaction is confirmed.
type Deployment struct {
	Address *felt.Felt
	Salt    *felt.Felt
	Unique  bool
	Result  *types.TransactionResult
}

// New creates a factory for classHash deploying from acc.
func New(classHash *felt.Felt, acc *account.Account) (*Factory, error) {
	if classHash == nil {
		return nil, errors.New("class hash is required")
	}
	if acc == nil {
		return nil, errors.New("account is required")
	}
	return &Factory{classHash: classHash, account: acc}, nil
}

// WithResourceBounds fixes the bounds of every deployment instead of
// estimating them.
func (f *Factory) WithResourceBounds(b types.ResourceBoundsMapping) *Factory {
	f.bounds = &b
	return f
}

func (f *Factory) ClassHash() *felt.Felt { return f.classHash }

// ComputeAddress returns the address a deployment with these parameters
// will receive. It does not touch the network.
func (f *Factory) ComputeAddress(calldata []*felt.Felt, salt *felt.Felt, unique bool) (*felt.Felt, error) {
	_, addr, err := contract.UDCDeployment(f.account.Address(), f.classHash, salt, unique, calldata)
	if err != nil {
		return nil, err
	}
	return addr, nil
}

// Deploy submits a UDC deployment and returns as soon as the node accepted
// the transaction.
func (f *Factory) Deploy(ctx context.Context, calldata []*felt.Felt, salt *felt.Felt, unique bool) (*Deployment, error) {
	if salt == nil {
		return nil, fmt.Errorf("%w: salt is required", types.ErrEncoding)
	}

	d := f.account.Deploy(f.classHash, calldata, salt, unique)
	if f.bounds != nil {
		d.WithResourceBounds(*f.bounds)
	}

	res, err := d.Send(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy class %s: %w", f.classHash, err)
	}
	return &Deployment{
		Address: d.Address(),
		Salt:    salt,
		Unique:  unique,
		Result:  res,
	}, nil
}

// Confirm checks the address reported by the UDC event in receipt against
// the precomputed one.
func (d *Deployment) Confirm(receipt *types.Receipt) error {
	observed, err := contract.DeployedAddressFromReceipt(receipt)
	if err != nil {
		return err
	}
	return contract.CheckAddress(d.Address, observed)
}

// RandomSalt reads SaltSize bytes from r, or from crypto/rand when r is nil.
func RandomSalt(r io.Reader) (*felt.Felt, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, SaltSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read salt entropy: %w", err)
	}
	return new(felt.Felt).SetBytes(buf), nil
}
