// Package contract derives contract addresses and class hashes exactly as the
// Starknet sequencer does. Everything here is pure.
package contract

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/NethermindEth/juno/core/crypto"
	"github.com/NethermindEth/juno/core/felt"

	"github.com/0xmhha/starknet-hive/pkg/types"
)

// UDCAddress is the Universal Deployer Contract deployed on every public
// network and on devnet.
var UDCAddress = types.MustHexToFelt("0x041a78e741e5af2fec34b695679bc6891742439f7afb8484ecd7766661ad02bf")

var (
	contractAddressPrefix = types.MustShortString("STARKNET_CONTRACT_ADDRESS")
	deployContractName    = "deployContract"
	contractDeployedName  = "ContractDeployed"

	// addresses live below 2^251 - 256
	addressBound = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 251), big.NewInt(256))
)

// ErrAddressMismatch is matched by *AddressMismatchError.
var ErrAddressMismatch = errors.New("derived address does not match observed address")

// AddressMismatchError reports a disagreement between the locally derived
// address and the one the node produced.
type AddressMismatchError struct {
	Derived  *felt.Felt
	Observed *felt.Felt
}

func (e *AddressMismatchError) Error() string {
	return fmt.Sprintf("%v: derived %s, observed %s", ErrAddressMismatch, e.Derived, e.Observed)
}

func (e *AddressMismatchError) Is(target error) bool {
	return target == ErrAddressMismatch
}

// CheckAddress returns an *AddressMismatchError when derived != observed.
func CheckAddress(derived, observed *felt.Felt) error {
	if derived == nil || observed == nil || !derived.Equal(observed) {
		return &AddressMismatchError{Derived: derived, Observed: observed}
	}
	return nil
}

// ComputeAddress returns the address of a contract deployed by deployer with
// the given salt, class hash and constructor calldata.
func ComputeAddress(deployer, salt, classHash *felt.Felt, calldata []*felt.Felt) *felt.Felt {
	calldataHash := crypto.PedersenArray(calldata...)
	h := crypto.PedersenArray(contractAddressPrefix, deployer, salt, classHash, calldataHash)

	v := types.FeltToBig(h)
	v.Mod(v, addressBound)
	return new(felt.Felt).SetBytes(v.Bytes())
}

// UDCDeployment builds the deployContract call for the UDC and returns the
// address the node will assign. A unique deployment mixes the caller into the
// salt and uses the UDC as deployer; otherwise the deployer is zero.
func UDCDeployment(caller, classHash, salt *felt.Felt, unique bool, calldata []*felt.Felt) (types.Call, *felt.Felt, error) {
	selector, err := types.SelectorFromName(deployContractName)
	if err != nil {
		return types.Call{}, nil, err
	}

	uniqueFlag := new(felt.Felt)
	deployer := new(felt.Felt)
	effectiveSalt := salt
	if unique {
		uniqueFlag.SetUint64(1)
		deployer = UDCAddress
		effectiveSalt = crypto.Pedersen(caller, salt)
	}

	udcCalldata := make([]*felt.Felt, 0, 4+len(calldata))
	udcCalldata = append(udcCalldata, classHash, salt, uniqueFlag, types.Uint64ToFelt(uint64(len(calldata))))
	udcCalldata = append(udcCalldata, calldata...)

	call := types.Call{To: UDCAddress, Selector: selector, Calldata: udcCalldata}
	return call, ComputeAddress(deployer, effectiveSalt, classHash, calldata), nil
}

// DeployedAddressFromReceipt returns the address carried by the first UDC
// ContractDeployed event of receipt.
func DeployedAddressFromReceipt(receipt *types.Receipt) (*felt.Felt, error) {
	if receipt == nil {
		return nil, errors.New("nil receipt")
	}
	key := types.MustSelectorFromName(contractDeployedName)
	for _, ev := range receipt.Events {
		if ev.FromAddress == nil || !ev.FromAddress.Equal(UDCAddress) {
			continue
		}
		if len(ev.Keys) > 0 && !ev.Keys[0].Equal(key) {
			continue
		}
		if len(ev.Data) == 0 {
			continue
		}
		return ev.Data[0], nil
	}
	return nil, fmt.Errorf("no %s event from the UDC in receipt %s", contractDeployedName, receipt.TransactionHash)
}
