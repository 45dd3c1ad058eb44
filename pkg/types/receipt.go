package types

import (
	"github.com/NethermindEth/juno/core/felt"
)

// ReceiptStatus is the coarse status the waiter reasons about.
type ReceiptStatus int

const (
	ReceiptUnknown ReceiptStatus = iota
	ReceiptPending
	ReceiptAccepted
	ReceiptRejected
)

func (s ReceiptStatus) String() string {
	switch s {
	case ReceiptPending:
		return "pending"
	case ReceiptAccepted:
		return "accepted"
	case ReceiptRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

type ExecutionStatus string

const (
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionReverted  ExecutionStatus = "REVERTED"
)

type FinalityStatus string

const (
	FinalityReceived     FinalityStatus = "RECEIVED"
	FinalityRejected     FinalityStatus = "REJECTED"
	FinalityAcceptedOnL2 FinalityStatus = "ACCEPTED_ON_L2"
	FinalityAcceptedOnL1 FinalityStatus = "ACCEPTED_ON_L1"
)

// FeePayment is the actual_fee object of a receipt.
type FeePayment struct {
	Amount *felt.Felt `json:"amount"`
	Unit   PriceUnit  `json:"unit"`
}

type Event struct {
	FromAddress *felt.Felt   `json:"from_address"`
	Keys        []*felt.Felt `json:"keys"`
	Data        []*felt.Felt `json:"data"`
}

// Receipt is the result of starknet_getTransactionReceipt. Block fields are
// absent while the transaction sits in the pending block.
type Receipt struct {
	Type            TxnType         `json:"type"`
	TransactionHash *felt.Felt      `json:"transaction_hash"`
	ActualFee       *FeePayment     `json:"actual_fee,omitempty"`
	ExecutionStatus ExecutionStatus `json:"execution_status"`
	FinalityStatus  FinalityStatus  `json:"finality_status"`
	BlockHash       *felt.Felt      `json:"block_hash,omitempty"`
	BlockNumber     *uint64         `json:"block_number,omitempty"`
	Events          []Event         `json:"events"`
	RevertReason    string          `json:"revert_reason,omitempty"`
	ContractAddress *felt.Felt      `json:"contract_address,omitempty"`
}

// Status collapses execution and finality status into a ReceiptStatus.
func (r *Receipt) Status() ReceiptStatus {
	if r == nil {
		return ReceiptUnknown
	}
	if r.ExecutionStatus == ExecutionReverted || r.FinalityStatus == FinalityRejected {
		return ReceiptRejected
	}
	switch r.FinalityStatus {
	case FinalityAcceptedOnL2, FinalityAcceptedOnL1:
		if r.ExecutionStatus == ExecutionSucceeded {
			return ReceiptAccepted
		}
	case FinalityReceived:
		return ReceiptPending
	}
	return ReceiptUnknown
}

// IsPending reports whether the receipt has not been included in a block yet.
func (r *Receipt) IsPending() bool {
	return r.BlockHash == nil
}

// TransactionStatus is the result of starknet_getTransactionStatus.
type TransactionStatus struct {
	FinalityStatus  FinalityStatus  `json:"finality_status"`
	ExecutionStatus ExecutionStatus `json:"execution_status,omitempty"`
}

// Status applies the same mapping as Receipt.Status.
func (s *TransactionStatus) Status() ReceiptStatus {
	r := Receipt{FinalityStatus: s.FinalityStatus, ExecutionStatus: s.ExecutionStatus}
	if s.FinalityStatus == FinalityReceived {
		return ReceiptPending
	}
	return r.Status()
}
