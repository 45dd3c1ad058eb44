package types

import (
	"encoding/json"
	"math/big"

	"github.com/NethermindEth/juno/core/felt"
)

// TxnType is the "type" discriminator of a Starknet transaction.
type TxnType string

const (
	TxnInvoke        TxnType = "INVOKE"
	TxnDeclare       TxnType = "DECLARE"
	TxnDeployAccount TxnType = "DEPLOY_ACCOUNT"
)

// DataAvailabilityMode selects where nonce/fee state diffs are published.
type DataAvailabilityMode string

const (
	DAModeL1 DataAvailabilityMode = "L1"
	DAModeL2 DataAvailabilityMode = "L2"
)

// Uint64 returns the numeric encoding used by transaction hashing.
func (m DataAvailabilityMode) Uint64() uint64 {
	if m == DAModeL2 {
		return 1
	}
	return 0
}

var (
	// TxnVersion3 is the version field of a V3 transaction.
	TxnVersion3 = Uint64ToFelt(3)
	// QueryTxnVersion3 is 2^128 + 3, the version used for fee estimation
	// so a signed query can never be replayed as a real transaction.
	QueryTxnVersion3 = func() *felt.Felt {
		v := new(big.Int).Lsh(big.NewInt(1), 128)
		v.Add(v, big.NewInt(3))
		return new(felt.Felt).SetBytes(v.Bytes())
	}()
)

// ResourceBounds caps the amount and unit price of one resource.
// MaxAmount must fit in 64 bits and MaxPricePerUnit in 128 bits.
type ResourceBounds struct {
	MaxAmount       *felt.Felt `json:"max_amount"`
	MaxPricePerUnit *felt.Felt `json:"max_price_per_unit"`
}

// ResourceBoundsMapping is the resource_bounds object of a V3 transaction.
type ResourceBoundsMapping struct {
	L1Gas ResourceBounds `json:"l1_gas"`
	L2Gas ResourceBounds `json:"l2_gas"`
}

// ZeroResourceBounds returns bounds with every value set to zero.
func ZeroResourceBounds() ResourceBoundsMapping {
	return ResourceBoundsMapping{
		L1Gas: ResourceBounds{MaxAmount: new(felt.Felt), MaxPricePerUnit: new(felt.Felt)},
		L2Gas: ResourceBounds{MaxAmount: new(felt.Felt), MaxPricePerUnit: new(felt.Felt)},
	}
}

// BroadcastedTxn is a transaction ready to be submitted to a node.
type BroadcastedTxn interface {
	TxnType() TxnType
	// WithSignature returns a copy carrying sig; the receiver is left as is.
	WithSignature(sig []*felt.Felt) BroadcastedTxn
}

var (
	_ BroadcastedTxn = (*BroadcastedInvokeTxnV3)(nil)
	_ BroadcastedTxn = (*BroadcastedDeclareTxnV3)(nil)
	_ BroadcastedTxn = (*BroadcastedDeployAccountTxnV3)(nil)
)

type BroadcastedInvokeTxnV3 struct {
	Type                      TxnType               `json:"type"`
	Version                   *felt.Felt            `json:"version"`
	SenderAddress             *felt.Felt            `json:"sender_address"`
	Calldata                  []*felt.Felt          `json:"calldata"`
	Signature                 []*felt.Felt          `json:"signature"`
	Nonce                     *felt.Felt            `json:"nonce"`
	ResourceBounds            ResourceBoundsMapping `json:"resource_bounds"`
	Tip                       *felt.Felt            `json:"tip"`
	PaymasterData             []*felt.Felt          `json:"paymaster_data"`
	AccountDeploymentData     []*felt.Felt          `json:"account_deployment_data"`
	NonceDataAvailabilityMode DataAvailabilityMode  `json:"nonce_data_availability_mode"`
	FeeDataAvailabilityMode   DataAvailabilityMode  `json:"fee_data_availability_mode"`
}

func (t *BroadcastedInvokeTxnV3) TxnType() TxnType { return TxnInvoke }

func (t *BroadcastedInvokeTxnV3) WithSignature(sig []*felt.Felt) BroadcastedTxn {
	c := *t
	c.Signature = append([]*felt.Felt(nil), sig...)
	return &c
}

func (t *BroadcastedInvokeTxnV3) MarshalJSON() ([]byte, error) {
	type alias BroadcastedInvokeTxnV3
	a := alias(*t)
	a.Type = TxnInvoke
	a.Calldata = nonNil(a.Calldata)
	a.Signature = nonNil(a.Signature)
	a.PaymasterData = nonNil(a.PaymasterData)
	a.AccountDeploymentData = nonNil(a.AccountDeploymentData)
	return json.Marshal(a)
}

type BroadcastedDeclareTxnV3 struct {
	Type                      TxnType               `json:"type"`
	Version                   *felt.Felt            `json:"version"`
	SenderAddress             *felt.Felt            `json:"sender_address"`
	CompiledClassHash         *felt.Felt            `json:"compiled_class_hash"`
	Signature                 []*felt.Felt          `json:"signature"`
	Nonce                     *felt.Felt            `json:"nonce"`
	ContractClass             *FlattenedSierraClass `json:"contract_class"`
	ResourceBounds            ResourceBoundsMapping `json:"resource_bounds"`
	Tip                       *felt.Felt            `json:"tip"`
	PaymasterData             []*felt.Felt          `json:"paymaster_data"`
	AccountDeploymentData     []*felt.Felt          `json:"account_deployment_data"`
	NonceDataAvailabilityMode DataAvailabilityMode  `json:"nonce_data_availability_mode"`
	FeeDataAvailabilityMode   DataAvailabilityMode  `json:"fee_data_availability_mode"`

	// ClassHash is computed locally and is not part of the wire format.
	ClassHash *felt.Felt `json:"-"`
}

func (t *BroadcastedDeclareTxnV3) TxnType() TxnType { return TxnDeclare }

func (t *BroadcastedDeclareTxnV3) WithSignature(sig []*felt.Felt) BroadcastedTxn {
	c := *t
	c.Signature = append([]*felt.Felt(nil), sig...)
	return &c
}

func (t *BroadcastedDeclareTxnV3) MarshalJSON() ([]byte, error) {
	type alias BroadcastedDeclareTxnV3
	a := alias(*t)
	a.Type = TxnDeclare
	a.Signature = nonNil(a.Signature)
	a.PaymasterData = nonNil(a.PaymasterData)
	a.AccountDeploymentData = nonNil(a.AccountDeploymentData)
	return json.Marshal(a)
}

type BroadcastedDeployAccountTxnV3 struct {
	Type                      TxnType               `json:"type"`
	Version                   *felt.Felt            `json:"version"`
	Signature                 []*felt.Felt          `json:"signature"`
	Nonce                     *felt.Felt            `json:"nonce"`
	ContractAddressSalt       *felt.Felt            `json:"contract_address_salt"`
	ConstructorCalldata       []*felt.Felt          `json:"constructor_calldata"`
	ClassHash                 *felt.Felt            `json:"class_hash"`
	ResourceBounds            ResourceBoundsMapping `json:"resource_bounds"`
	Tip                       *felt.Felt            `json:"tip"`
	PaymasterData             []*felt.Felt          `json:"paymaster_data"`
	NonceDataAvailabilityMode DataAvailabilityMode  `json:"nonce_data_availability_mode"`
	FeeDataAvailabilityMode   DataAvailabilityMode  `json:"fee_data_availability_mode"`

	// ContractAddress is the counterfactual address, not sent on the wire.
	ContractAddress *felt.Felt `json:"-"`
}

func (t *BroadcastedDeployAccountTxnV3) TxnType() TxnType { return TxnDeployAccount }

func (t *BroadcastedDeployAccountTxnV3) WithSignature(sig []*felt.Felt) BroadcastedTxn {
	c := *t
	c.Signature = append([]*felt.Felt(nil), sig...)
	return &c
}

func (t *BroadcastedDeployAccountTxnV3) MarshalJSON() ([]byte, error) {
	type alias BroadcastedDeployAccountTxnV3
	a := alias(*t)
	a.Type = TxnDeployAccount
	a.Signature = nonNil(a.Signature)
	a.ConstructorCalldata = nonNil(a.ConstructorCalldata)
	a.PaymasterData = nonNil(a.PaymasterData)
	return json.Marshal(a)
}

// TransactionResult is returned by every add*Transaction method. ClassHash is
// set for declarations and ContractAddress for account deployments.
type TransactionResult struct {
	TransactionHash *felt.Felt `json:"transaction_hash"`
	ClassHash       *felt.Felt `json:"class_hash,omitempty"`
	ContractAddress *felt.Felt `json:"contract_address,omitempty"`
}

// SimulationFlag tweaks starknet_estimateFee.
type SimulationFlag string

const SkipValidate SimulationFlag = "SKIP_VALIDATE"

// PriceUnit is the currency a fee is paid in.
type PriceUnit string

const (
	UnitWei PriceUnit = "WEI"
	UnitFri PriceUnit = "FRI"
)

type FeeEstimate struct {
	GasConsumed     *felt.Felt `json:"gas_consumed"`
	GasPrice        *felt.Felt `json:"gas_price"`
	DataGasConsumed *felt.Felt `json:"data_gas_consumed"`
	DataGasPrice    *felt.Felt `json:"data_gas_price"`
	OverallFee      *felt.Felt `json:"overall_fee"`
	Unit            PriceUnit  `json:"unit"`
}
