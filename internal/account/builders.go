package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/0xmhha/starknet-hive/internal/contract"
	"github.com/0xmhha/starknet-hive/pkg/types"
)

// PreparedTxn is a signed transaction that has not been submitted.
type PreparedTxn struct {
	Txn   types.BroadcastedTxn
	Hash  *felt.Felt
	Nonce *felt.Felt
	// ClassHash is set for declarations.
	ClassHash *felt.Felt
	// Address is set for UDC deployments and account deployments.
	Address *felt.Felt
}

// preparer builds and signs one transaction; the account lock is held.
type preparer interface {
	prepareLocked(ctx context.Context) (*PreparedTxn, error)
	bumpsNonce() bool
}

func (a *Account) prepare(ctx context.Context, p preparer) (*PreparedTxn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return p.prepareLocked(ctx)
}

// send holds the lock across prepare and submit. A non-nil sig replaces the
// signer's signature; everything else stays byte-identical.
func (a *Account) send(ctx context.Context, p preparer, sig []*felt.Felt) (*types.TransactionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prepared, err := p.prepareLocked(ctx)
	if err != nil {
		return nil, err
	}
	txn := prepared.Txn
	if sig != nil {
		txn = txn.WithSignature(sig)
	}
	return a.submit(ctx, txn, prepared.Nonce, p.bumpsNonce())
}

func (a *Account) signLocked(hash *felt.Felt) ([]*felt.Felt, error) {
	sig, err := a.signer.SignHash(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction %s: %w", hash, err)
	}
	return sig, nil
}

// ExecutionV3 builds an invoke V3 multicall.
type ExecutionV3 struct {
	account *Account
	calls   []types.Call
	bounds  *types.ResourceBoundsMapping
	nonce   *felt.Felt
	err     error
}

// Execute starts an invoke transaction batching calls into one multicall.
func (a *Account) Execute(calls []types.Call) *ExecutionV3 {
	e := &ExecutionV3{account: a, calls: calls}
	if len(calls) == 0 {
		e.err = fmt.Errorf("%w: no calls to execute", types.ErrEncoding)
	}
	return e
}

func (e *ExecutionV3) WithResourceBounds(b types.ResourceBoundsMapping) *ExecutionV3 {
	e.bounds = &b
	return e
}

func (e *ExecutionV3) WithNonce(nonce *felt.Felt) *ExecutionV3 {
	e.nonce = nonce
	return e
}

// Prepare resolves nonce and fee and signs, without submitting.
func (e *ExecutionV3) Prepare(ctx context.Context) (*PreparedTxn, error) {
	return e.account.prepare(ctx, e)
}

// Send prepares and submits the transaction.
func (e *ExecutionV3) Send(ctx context.Context) (*types.TransactionResult, error) {
	return e.account.send(ctx, e, nil)
}

// SendWithCustomSignature submits the prepared transaction carrying sig
// instead of the signer's signature.
func (e *ExecutionV3) SendWithCustomSignature(ctx context.Context, sig []*felt.Felt) (*types.TransactionResult, error) {
	return e.account.send(ctx, e, nonNilSig(sig))
}

func (e *ExecutionV3) bumpsNonce() bool { return true }

func (e *ExecutionV3) prepareLocked(ctx context.Context) (*PreparedTxn, error) {
	if e.err != nil {
		return nil, e.err
	}
	a := e.account

	calldata, err := ExecuteCalldata(e.calls, a.encoding)
	if err != nil {
		return nil, err
	}
	nonce, err := a.currentNonce(e.nonce)
	if err != nil {
		return nil, err
	}

	build := func(version *felt.Felt, bounds types.ResourceBoundsMapping) (*types.BroadcastedInvokeTxnV3, *felt.Felt, error) {
		txn := &types.BroadcastedInvokeTxnV3{
			Type:                      types.TxnInvoke,
			Version:                   version,
			SenderAddress:             a.address,
			Calldata:                  calldata,
			Nonce:                     nonce,
			ResourceBounds:            bounds,
			Tip:                       new(felt.Felt),
			PaymasterData:             []*felt.Felt{},
			AccountDeploymentData:     []*felt.Felt{},
			NonceDataAvailabilityMode: types.DAModeL1,
			FeeDataAvailabilityMode:   types.DAModeL1,
		}
		hash, err := InvokeHashV3(txn, a.chainID)
		return txn, hash, err
	}

	bounds := e.bounds
	if bounds == nil {
		b, err := a.estimateBounds(ctx, func(v *felt.Felt, rb types.ResourceBoundsMapping) (types.BroadcastedTxn, *felt.Felt, error) {
			return build(v, rb)
		})
		if err != nil {
			return nil, err
		}
		bounds = &b
	}

	txn, hash, err := build(types.TxnVersion3, *bounds)
	if err != nil {
		return nil, err
	}
	sig, err := a.signLocked(hash)
	if err != nil {
		return nil, err
	}
	txn.Signature = sig
	return &PreparedTxn{Txn: txn, Hash: hash, Nonce: nonce}, nil
}

// DeclarationV3 builds a declare V3 transaction.
type DeclarationV3 struct {
	account           *Account
	class             *types.FlattenedSierraClass
	compiledClassHash *felt.Felt
	bounds            *types.ResourceBoundsMapping
	nonce             *felt.Felt
}

// Declare starts a declaration of class with its compiled class hash.
func (a *Account) Declare(class *types.FlattenedSierraClass, compiledClassHash *felt.Felt) *DeclarationV3 {
	return &DeclarationV3{account: a, class: class, compiledClassHash: compiledClassHash}
}

func (d *DeclarationV3) WithResourceBounds(b types.ResourceBoundsMapping) *DeclarationV3 {
	d.bounds = &b
	return d
}

func (d *DeclarationV3) WithNonce(nonce *felt.Felt) *DeclarationV3 {
	d.nonce = nonce
	return d
}

// ClassHash returns the locally computed class hash.
func (d *DeclarationV3) ClassHash() (*felt.Felt, error) {
	return contract.ClassHash(d.class)
}

func (d *DeclarationV3) Prepare(ctx context.Context) (*PreparedTxn, error) {
	return d.account.prepare(ctx, d)
}

func (d *DeclarationV3) Send(ctx context.Context) (*types.TransactionResult, error) {
	return d.account.send(ctx, d, nil)
}

func (d *DeclarationV3) SendWithCustomSignature(ctx context.Context, sig []*felt.Felt) (*types.TransactionResult, error) {
	return d.account.send(ctx, d, nonNilSig(sig))
}

func (d *DeclarationV3) bumpsNonce() bool { return true }

func (d *DeclarationV3) prepareLocked(ctx context.Context) (*PreparedTxn, error) {
	if d.compiledClassHash == nil {
		return nil, errors.New("compiled class hash is required")
	}
	a := d.account

	classHash, err := contract.ClassHash(d.class)
	if err != nil {
		return nil, err
	}
	nonce, err := a.currentNonce(d.nonce)
	if err != nil {
		return nil, err
	}

	build := func(version *felt.Felt, bounds types.ResourceBoundsMapping) (*types.BroadcastedDeclareTxnV3, *felt.Felt, error) {
		txn := &types.BroadcastedDeclareTxnV3{
			Type:                      types.TxnDeclare,
			Version:                   version,
			SenderAddress:             a.address,
			CompiledClassHash:         d.compiledClassHash,
			Nonce:                     nonce,
			ContractClass:             d.class,
			ResourceBounds:            bounds,
			Tip:                       new(felt.Felt),
			PaymasterData:             []*felt.Felt{},
			AccountDeploymentData:     []*felt.Felt{},
			NonceDataAvailabilityMode: types.DAModeL1,
			FeeDataAvailabilityMode:   types.DAModeL1,
			ClassHash:                 classHash,
		}
		hash, err := DeclareHashV3(txn, classHash, a.chainID)
		return txn, hash, err
	}

	bounds := d.bounds
	if bounds == nil {
		b, err := a.estimateBounds(ctx, func(v *felt.Felt, rb types.ResourceBoundsMapping) (types.BroadcastedTxn, *felt.Felt, error) {
			return build(v, rb)
		})
		if err != nil {
			return nil, err
		}
		bounds = &b
	}

	txn, hash, err := build(types.TxnVersion3, *bounds)
	if err != nil {
		return nil, err
	}
	sig, err := a.signLocked(hash)
	if err != nil {
		return nil, err
	}
	txn.Signature = sig
	return &PreparedTxn{Txn: txn, Hash: hash, Nonce: nonce, ClassHash: classHash}, nil
}

// DeploymentV3 deploys a declared class through the Universal Deployer.
type DeploymentV3 struct {
	*ExecutionV3
	address *felt.Felt
}

// Deploy starts a UDC deployment. The resulting address is known
// immediately through Address.
func (a *Account) Deploy(classHash *felt.Felt, constructorCalldata []*felt.Felt, salt *felt.Felt, unique bool) *DeploymentV3 {
	call, address, err := contract.UDCDeployment(a.address, classHash, salt, unique, constructorCalldata)
	d := &DeploymentV3{ExecutionV3: a.Execute([]types.Call{call}), address: address}
	if err != nil {
		d.err = err
	}
	return d
}

// Address is the address the node will assign to the new contract.
func (d *DeploymentV3) Address() *felt.Felt { return d.address }

func (d *DeploymentV3) WithResourceBounds(b types.ResourceBoundsMapping) *DeploymentV3 {
	d.ExecutionV3.WithResourceBounds(b)
	return d
}

func (d *DeploymentV3) WithNonce(nonce *felt.Felt) *DeploymentV3 {
	d.ExecutionV3.WithNonce(nonce)
	return d
}

func (d *DeploymentV3) Prepare(ctx context.Context) (*PreparedTxn, error) {
	prepared, err := d.ExecutionV3.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	prepared.Address = d.address
	return prepared, nil
}

// AccountDeploymentV3 builds a deploy_account V3 transaction for a
// counterfactual account controlled by this account's signer.
type AccountDeploymentV3 struct {
	account   *Account
	classHash *felt.Felt
	salt      *felt.Felt
	calldata  []*felt.Felt
	bounds    *types.ResourceBoundsMapping
	address   *felt.Felt
}

// DeployAccount starts a deploy_account transaction. The new account lives
// at ComputeAddress(0, salt, classHash, constructorCalldata).
func (a *Account) DeployAccount(classHash, salt *felt.Felt, constructorCalldata []*felt.Felt) *AccountDeploymentV3 {
	return &AccountDeploymentV3{
		account:   a,
		classHash: classHash,
		salt:      salt,
		calldata:  constructorCalldata,
		address:   contract.ComputeAddress(new(felt.Felt), salt, classHash, constructorCalldata),
	}
}

func (d *AccountDeploymentV3) Address() *felt.Felt { return d.address }

func (d *AccountDeploymentV3) WithResourceBounds(b types.ResourceBoundsMapping) *AccountDeploymentV3 {
	d.bounds = &b
	return d
}

func (d *AccountDeploymentV3) Prepare(ctx context.Context) (*PreparedTxn, error) {
	return d.account.prepare(ctx, d)
}

func (d *AccountDeploymentV3) Send(ctx context.Context) (*types.TransactionResult, error) {
	return d.account.send(ctx, d, nil)
}

func (d *AccountDeploymentV3) SendWithCustomSignature(ctx context.Context, sig []*felt.Felt) (*types.TransactionResult, error) {
	return d.account.send(ctx, d, nonNilSig(sig))
}

// bumpsNonce is true only when the account being deployed is this account.
func (d *AccountDeploymentV3) bumpsNonce() bool {
	return d.address.Equal(d.account.address)
}

func (d *AccountDeploymentV3) prepareLocked(ctx context.Context) (*PreparedTxn, error) {
	a := d.account
	nonce := new(felt.Felt)

	build := func(version *felt.Felt, bounds types.ResourceBoundsMapping) (*types.BroadcastedDeployAccountTxnV3, *felt.Felt, error) {
		txn := &types.BroadcastedDeployAccountTxnV3{
			Type:                      types.TxnDeployAccount,
			Version:                   version,
			Nonce:                     nonce,
			ContractAddressSalt:       d.salt,
			ConstructorCalldata:       d.calldata,
			ClassHash:                 d.classHash,
			ResourceBounds:            bounds,
			Tip:                       new(felt.Felt),
			PaymasterData:             []*felt.Felt{},
			NonceDataAvailabilityMode: types.DAModeL1,
			FeeDataAvailabilityMode:   types.DAModeL1,
			ContractAddress:           d.address,
		}
		hash, err := DeployAccountHashV3(txn, d.address, a.chainID)
		return txn, hash, err
	}

	bounds := d.bounds
	if bounds == nil {
		b, err := a.estimateBounds(ctx, func(v *felt.Felt, rb types.ResourceBoundsMapping) (types.BroadcastedTxn, *felt.Felt, error) {
			return build(v, rb)
		})
		if err != nil {
			return nil, err
		}
		bounds = &b
	}

	txn, hash, err := build(types.TxnVersion3, *bounds)
	if err != nil {
		return nil, err
	}
	sig, err := a.signLocked(hash)
	if err != nil {
		return nil, err
	}
	txn.Signature = sig
	return &PreparedTxn{Txn: txn, Hash: hash, Nonce: nonce, Address: d.address}, nil
}

// nonNilSig keeps an empty custom signature distinct from "use the signer".
func nonNilSig(sig []*felt.Felt) []*felt.Felt {
	if sig == nil {
		return []*felt.Felt{}
	}
	return sig
}
