package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/0xmhha/starknet-hive/internal/util/mathutil"
	"github.com/0xmhha/starknet-hive/pkg/types"
)

// ErrFeeEstimation wraps failures of starknet_estimateFee.
var ErrFeeEstimation = errors.New("fee estimation failed")

// FeeConfig controls how resource bounds are chosen when a builder does not
// set them explicitly.
type FeeConfig struct {
	// FixedBounds skips estimation entirely when set.
	FixedBounds *types.ResourceBoundsMapping
	// AmountMultiplier scales the estimated L1 gas amount.
	AmountMultiplier float64
	// PriceMultiplier scales the estimated L1 gas price.
	PriceMultiplier float64
	// SkipValidate estimates with the SKIP_VALIDATE flag.
	SkipValidate bool
}

// DefaultFeeConfig returns a 50% margin on both amount and price.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		AmountMultiplier: 1.5,
		PriceMultiplier:  1.5,
	}
}

// BoundsFromEstimate turns a fee estimate into L1 resource bounds:
// amount = ceil(overall_fee / gas_price) scaled, price = gas_price scaled.
func BoundsFromEstimate(est types.FeeEstimate, cfg FeeConfig) (types.ResourceBoundsMapping, error) {
	if est.OverallFee == nil || est.GasPrice == nil {
		return types.ResourceBoundsMapping{}, fmt.Errorf("%w: incomplete estimate", ErrFeeEstimation)
	}

	price := types.FeltToBig(est.GasPrice)
	overall := types.FeltToBig(est.OverallFee)
	amount := overall
	if price.Sign() > 0 {
		amount = mathutil.CeilDiv(overall, price)
	}

	amount = mathutil.Scale(amount, cfg.AmountMultiplier)
	price = mathutil.Scale(price, cfg.PriceMultiplier)

	if err := mathutil.CheckBits(amount, 64); err != nil {
		return types.ResourceBoundsMapping{}, fmt.Errorf("%w: l1 max_amount: %v", types.ErrEncoding, err)
	}
	if err := mathutil.CheckBits(price, 128); err != nil {
		return types.ResourceBoundsMapping{}, fmt.Errorf("%w: l1 max_price_per_unit: %v", types.ErrEncoding, err)
	}

	bounds := types.ZeroResourceBounds()
	bounds.L1Gas.MaxAmount = new(felt.Felt).SetBytes(amount.Bytes())
	bounds.L1Gas.MaxPricePerUnit = new(felt.Felt).SetBytes(price.Bytes())
	return bounds, nil
}

// estimateBounds signs a query-version copy of the transaction and asks the
// node for its fee. build receives the query version and zero bounds.
func (a *Account) estimateBounds(
	ctx context.Context,
	build func(version *felt.Felt, bounds types.ResourceBoundsMapping) (types.BroadcastedTxn, *felt.Felt, error),
) (types.ResourceBoundsMapping, error) {
	if a.fee.FixedBounds != nil {
		return *a.fee.FixedBounds, nil
	}

	query, hash, err := build(types.QueryTxnVersion3, types.ZeroResourceBounds())
	if err != nil {
		return types.ResourceBoundsMapping{}, err
	}
	sig, err := a.signer.SignHash(hash)
	if err != nil {
		return types.ResourceBoundsMapping{}, err
	}

	var flags []types.SimulationFlag
	if a.fee.SkipValidate {
		flags = append(flags, types.SkipValidate)
	}

	estimates, err := a.provider.EstimateFee(ctx, []types.BroadcastedTxn{query.WithSignature(sig)}, flags, types.PendingBlock())
	if err != nil {
		return types.ResourceBoundsMapping{}, fmt.Errorf("%w: %w", ErrFeeEstimation, err)
	}
	if len(estimates) != 1 {
		return types.ResourceBoundsMapping{}, fmt.Errorf("%w: expected 1 estimate, got %d", ErrFeeEstimation, len(estimates))
	}

	a.log.Debugw("Estimated fee",
		"overall_fee", estimates[0].OverallFee,
		"gas_price", estimates[0].GasPrice,
		"unit", estimates[0].Unit)
	return BoundsFromEstimate(estimates[0], a.fee)
}
