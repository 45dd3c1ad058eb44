package account

import (
	"fmt"
	"math/big"

	"github.com/NethermindEth/juno/core/crypto"
	"github.com/NethermindEth/juno/core/felt"

	"github.com/0xmhha/starknet-hive/internal/util/mathutil"
	"github.com/0xmhha/starknet-hive/pkg/types"
)

var (
	prefixInvoke        = types.MustShortString("invoke")
	prefixDeclare       = types.MustShortString("declare")
	prefixDeployAccount = types.MustShortString("deploy_account")

	resourceL1Gas = types.FeltToBig(types.MustShortString("L1_GAS"))
	resourceL2Gas = types.FeltToBig(types.MustShortString("L2_GAS"))
)

// InvokeHashV3 is the hash an account signs for an invoke V3 transaction.
func InvokeHashV3(txn *types.BroadcastedInvokeTxnV3, chainID *felt.Felt) (*felt.Felt, error) {
	common, err := commonFieldsV3(prefixInvoke, txn.Version, txn.SenderAddress, txn.ResourceBounds,
		txn.Tip, txn.PaymasterData, chainID, txn.Nonce, txn.NonceDataAvailabilityMode, txn.FeeDataAvailabilityMode)
	if err != nil {
		return nil, err
	}
	return crypto.PoseidonArray(append(common,
		crypto.PoseidonArray(txn.AccountDeploymentData...),
		crypto.PoseidonArray(txn.Calldata...),
	)...), nil
}

// DeclareHashV3 is the hash an account signs for a declare V3 transaction.
// The class hash must be supplied because it is computed, not transmitted.
func DeclareHashV3(txn *types.BroadcastedDeclareTxnV3, classHash, chainID *felt.Felt) (*felt.Felt, error) {
	common, err := commonFieldsV3(prefixDeclare, txn.Version, txn.SenderAddress, txn.ResourceBounds,
		txn.Tip, txn.PaymasterData, chainID, txn.Nonce, txn.NonceDataAvailabilityMode, txn.FeeDataAvailabilityMode)
	if err != nil {
		return nil, err
	}
	return crypto.PoseidonArray(append(common,
		crypto.PoseidonArray(txn.AccountDeploymentData...),
		classHash,
		txn.CompiledClassHash,
	)...), nil
}

// DeployAccountHashV3 is the hash signed for a deploy_account V3
// transaction; contractAddress takes the place of the sender.
func DeployAccountHashV3(txn *types.BroadcastedDeployAccountTxnV3, contractAddress, chainID *felt.Felt) (*felt.Felt, error) {
	common, err := commonFieldsV3(prefixDeployAccount, txn.Version, contractAddress, txn.ResourceBounds,
		txn.Tip, txn.PaymasterData, chainID, txn.Nonce, txn.NonceDataAvailabilityMode, txn.FeeDataAvailabilityMode)
	if err != nil {
		return nil, err
	}
	return crypto.PoseidonArray(append(common,
		crypto.PoseidonArray(txn.ConstructorCalldata...),
		txn.ClassHash,
		txn.ContractAddressSalt,
	)...), nil
}

func commonFieldsV3(
	prefix, version, sender *felt.Felt,
	bounds types.ResourceBoundsMapping,
	tip *felt.Felt,
	paymasterData []*felt.Felt,
	chainID, nonce *felt.Felt,
	nonceDA, feeDA types.DataAvailabilityMode,
) ([]*felt.Felt, error) {
	required := []struct {
		name string
		f    *felt.Felt
	}{
		{"version", version},
		{"sender", sender},
		{"chain id", chainID},
		{"nonce", nonce},
	}
	for _, r := range required {
		if r.f == nil {
			return nil, fmt.Errorf("%w: missing %s", types.ErrEncoding, r.name)
		}
	}

	feeHash, err := feeFieldHash(tip, bounds)
	if err != nil {
		return nil, err
	}

	return []*felt.Felt{
		prefix,
		version,
		sender,
		feeHash,
		crypto.PoseidonArray(paymasterData...),
		chainID,
		nonce,
		daModes(nonceDA, feeDA),
	}, nil
}

func feeFieldHash(tip *felt.Felt, bounds types.ResourceBoundsMapping) (*felt.Felt, error) {
	if tip == nil {
		tip = new(felt.Felt)
	}
	if err := mathutil.CheckBits(types.FeltToBig(tip), 64); err != nil {
		return nil, fmt.Errorf("%w: tip: %v", types.ErrEncoding, err)
	}

	l1, err := encodeBound(resourceL1Gas, bounds.L1Gas)
	if err != nil {
		return nil, fmt.Errorf("l1_gas: %w", err)
	}
	l2, err := encodeBound(resourceL2Gas, bounds.L2Gas)
	if err != nil {
		return nil, fmt.Errorf("l2_gas: %w", err)
	}
	return crypto.PoseidonArray(tip, l1, l2), nil
}

// encodeBound packs name(60 bits) | max_amount(64 bits) | max_price(128 bits).
func encodeBound(name *big.Int, b types.ResourceBounds) (*felt.Felt, error) {
	amount := new(big.Int)
	if b.MaxAmount != nil {
		amount = types.FeltToBig(b.MaxAmount)
	}
	price := new(big.Int)
	if b.MaxPricePerUnit != nil {
		price = types.FeltToBig(b.MaxPricePerUnit)
	}
	if err := mathutil.CheckBits(amount, 64); err != nil {
		return nil, fmt.Errorf("%w: max_amount: %v", types.ErrEncoding, err)
	}
	if err := mathutil.CheckBits(price, 128); err != nil {
		return nil, fmt.Errorf("%w: max_price_per_unit: %v", types.ErrEncoding, err)
	}

	v := new(big.Int).Lsh(name, 192)
	v.Or(v, new(big.Int).Lsh(amount, 128))
	v.Or(v, price)
	return types.BigToFelt(v)
}

func daModes(nonceDA, feeDA types.DataAvailabilityMode) *felt.Felt {
	return types.Uint64ToFelt(nonceDA.Uint64()<<32 | feeDA.Uint64())
}
