package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/0xmhha/starknet-hive/pkg/types"
)

// Starknet JSON-RPC error codes.
const (
	CodeFailedToReceiveTxn         = 1
	CodeContractNotFound           = 20
	CodeBlockNotFound              = 24
	CodeInvalidTxnIndex            = 27
	CodeClassHashNotFound          = 28
	CodeTxnHashNotFound            = 29
	CodePageSizeTooBig             = 31
	CodeNoBlocks                   = 32
	CodeInvalidContinuationToken   = 33
	CodeTooManyKeysInFilter        = 34
	CodeContractError              = 40
	CodeTransactionExecutionError  = 41
	CodeClassAlreadyDeclared       = 51
	CodeInvalidTransactionNonce    = 52
	CodeInsufficientMaxFee         = 53
	CodeInsufficientAccountBalance = 54
	CodeValidationFailure          = 55
	CodeCompilationFailed          = 56
	CodeContractClassSizeTooLarge  = 57
	CodeNonAccount                 = 58
	CodeDuplicateTx                = 59
	CodeCompiledClassHashMismatch  = 60
	CodeUnsupportedTxVersion       = 61
	CodeUnsupportedContractClass   = 62
	CodeUnexpectedError            = 63
)

// ErrorKind separates failures the caller may retry from node verdicts.
type ErrorKind int

const (
	// KindTransport covers connection, timeout and HTTP-level failures.
	KindTransport ErrorKind = iota
	// KindProtocol is a structured JSON-RPC error returned by the node.
	KindProtocol
)

func (k ErrorKind) String() string {
	if k == KindProtocol {
		return "protocol"
	}
	return "transport"
}

// RPCError is returned by every Client method.
type RPCError struct {
	Kind    ErrorKind
	Method  string
	Code    int
	Message string
	Data    any
	Err     error
}

func (e *RPCError) Error() string {
	if e.Kind == KindProtocol {
		if e.Data != nil {
			return fmt.Sprintf("%s: rpc error %d: %s (%v)", e.Method, e.Code, e.Message, e.Data)
		}
		return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: transport error: %v", e.Method, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// Retryable reports whether sending the same request again may succeed.
// A deadline counts as retryable since it may be the per-request timeout;
// callers check their own context before retrying.
func (e *RPCError) Retryable() bool {
	if e.Kind != KindTransport {
		return false
	}
	return !errors.Is(e.Err, context.Canceled)
}

// IsTransport reports whether err is a transport-level RPCError.
func IsTransport(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Kind == KindTransport
}

// IsProtocol reports whether err is a node-reported RPCError.
func IsProtocol(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Kind == KindProtocol
}

// HasCode reports whether err is a protocol error with the given code.
func HasCode(err error, code int) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Kind == KindProtocol && rpcErr.Code == code
}

func classify(method string, err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var jsonErr rpc.Error
	if errors.As(err, &jsonErr) {
		e := &RPCError{
			Kind:    KindProtocol,
			Method:  method,
			Code:    jsonErr.ErrorCode(),
			Message: jsonErr.Error(),
			Err:     err,
		}
		var dataErr rpc.DataError
		if errors.As(err, &dataErr) {
			e.Data = dataErr.ErrorData()
		}
		return e
	}

	if errors.Is(err, types.ErrEncoding) {
		return &RPCError{Kind: KindProtocol, Method: method, Message: "malformed response", Err: err}
	}

	return &RPCError{Kind: KindTransport, Method: method, Err: err}
}
