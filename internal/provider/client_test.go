package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/starknet-hive/pkg/types"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// handlerFunc returns either a result or an rpc error for one request.
type handlerFunc func(req rpcRequest) (any, *rpcErrorBody)

// fakeNode is a minimal JSON-RPC server keyed by method name.
type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]handlerFunc
	requests []rpcRequest
	// failHTTP makes the next N requests answer 503.
	failHTTP atomic.Int32
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	t.Helper()
	node := &fakeNode{handlers: make(map[string]handlerFunc)}
	srv := httptest.NewServer(http.HandlerFunc(node.serve))
	t.Cleanup(srv.Close)
	return node, srv
}

func (n *fakeNode) handle(method string, h handlerFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

func (n *fakeNode) calls(method string) []rpcRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []rpcRequest
	for _, r := range n.requests {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.requests = append(n.requests, req)
	h := n.handlers[req.Method]
	n.mu.Unlock()

	if n.failHTTP.Load() > 0 {
		n.failHTTP.Add(-1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if h == nil {
		resp["error"] = rpcErrorBody{Code: -32601, Message: "method not found"}
	} else if result, rpcErr := h(req); rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func result(v any) handlerFunc {
	return func(rpcRequest) (any, *rpcErrorBody) { return v, nil }
}

func failure(code int, msg string) handlerFunc {
	return func(rpcRequest) (any, *rpcErrorBody) { return nil, &rpcErrorBody{Code: code, Message: msg} }
}

type countingRecorder struct {
	mu     sync.Mutex
	calls  map[string]int
	errors int
}

func (r *countingRecorder) ObserveRPC(method string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[method]++
	if err != nil {
		r.errors++
	}
}

func dial(t *testing.T, url string, opts Options) *Client {
	t.Helper()
	c, err := Dial(context.Background(), url, opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.RetryDelay = time.Millisecond
	return opts
}

func TestClientReads(t *testing.T) {
	node, srv := newFakeNode(t)
	node.handle("starknet_chainId", result("0x534e5f5345504f4c4941"))
	node.handle("starknet_specVersion", result("0.7.1"))
	node.handle("starknet_blockNumber", result(42))
	node.handle("starknet_blockHashAndNumber", result(map[string]any{"block_hash": "0xabc", "block_number": 42}))
	node.handle("starknet_getNonce", result("0x5"))
	node.handle("starknet_getClassHashAt", result("0x1234"))

	c := dial(t, srv.URL, fastOptions())
	ctx := context.Background()

	chainID, err := c.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.MustShortString("SN_SEPOLIA"), chainID)

	version, err := c.SpecVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.7.1", version)

	n, err := c.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)

	hn, err := c.BlockHashAndNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), hn.BlockNumber)
	assert.Equal(t, "0xabc", hn.BlockHash.String())

	addr := types.Uint64ToFelt(0x99)
	nonce, err := c.Nonce(ctx, types.PendingBlock(), addr)
	require.NoError(t, err)
	assert.Equal(t, types.Uint64ToFelt(5), nonce)

	req := node.calls("starknet_getNonce")
	require.Len(t, req, 1)
	require.Len(t, req[0].Params, 2)
	assert.JSONEq(t, `"pending"`, string(req[0].Params[0]))
	assert.JSONEq(t, `"0x99"`, string(req[0].Params[1]))

	classHash, err := c.ClassHashAt(ctx, types.LatestBlock(), addr)
	require.NoError(t, err)
	assert.Equal(t, "0x1234", classHash.String())
}

func TestClientCall(t *testing.T) {
	node, srv := newFakeNode(t)
	node.handle("starknet_call", result([]string{"0x7", "0x8"}))

	c := dial(t, srv.URL, fastOptions())
	out, err := c.Call(context.Background(), types.FunctionCall{
		ContractAddress:    types.Uint64ToFelt(1),
		EntryPointSelector: types.MustSelectorFromName("get_balance"),
	}, types.BlockNumber(10))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, types.Uint64ToFelt(7), out[0])

	req := node.calls("starknet_call")
	require.Len(t, req, 1)
	assert.JSONEq(t, `{"block_number":10}`, string(req[0].Params[1]))

	var fc map[string]any
	require.NoError(t, json.Unmarshal(req[0].Params[0], &fc))
	assert.Equal(t, []any{}, fc["calldata"])
}

func TestClientProtocolError(t *testing.T) {
	node, srv := newFakeNode(t)
	node.handle("starknet_getTransactionReceipt", failure(CodeTxnHashNotFound, "Transaction hash not found"))

	rec := &countingRecorder{}
	opts := fastOptions()
	opts.Recorder = rec
	c := dial(t, srv.URL, opts)

	_, err := c.TransactionReceipt(context.Background(), types.Uint64ToFelt(1))
	require.Error(t, err)
	assert.True(t, IsProtocol(err))
	assert.False(t, IsTransport(err))
	assert.True(t, HasCode(err, CodeTxnHashNotFound))

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "starknet_getTransactionReceipt", rpcErr.Method)
	assert.False(t, rpcErr.Retryable())

	// protocol errors are not retried
	assert.Len(t, node.calls("starknet_getTransactionReceipt"), 1)
	assert.Equal(t, 1, rec.calls["starknet_getTransactionReceipt"])
	assert.Equal(t, 1, rec.errors)
}

func TestClientRetriesTransportErrors(t *testing.T) {
	node, srv := newFakeNode(t)
	node.handle("starknet_blockNumber", result(7))
	node.failHTTP.Store(2)

	c := dial(t, srv.URL, fastOptions())
	n, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)
	assert.Len(t, node.calls("starknet_blockNumber"), 3)
}

func TestClientGivesUpAfterRetryBudget(t *testing.T) {
	node, srv := newFakeNode(t)
	node.handle("starknet_blockNumber", result(7))
	node.failHTTP.Store(100)

	opts := fastOptions()
	opts.RetryCount = 2
	c := dial(t, srv.URL, opts)

	_, err := c.BlockNumber(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Len(t, node.calls("starknet_blockNumber"), 3)
}

func TestClientSubmitNotRetriedByDefault(t *testing.T) {
	node, srv := newFakeNode(t)
	node.handle("starknet_addInvokeTransaction", result(map[string]string{"transaction_hash": "0x1"}))
	node.failHTTP.Store(1)

	c := dial(t, srv.URL, fastOptions())
	_, err := c.Submit(context.Background(), &types.BroadcastedInvokeTxnV3{})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Len(t, node.calls("starknet_addInvokeTransaction"), 1)
}

func TestClientSubmitRoutesByType(t *testing.T) {
	node, srv := newFakeNode(t)
	node.handle("starknet_addInvokeTransaction", result(map[string]string{"transaction_hash": "0x1"}))
	node.handle("starknet_addDeclareTransaction", result(map[string]string{"transaction_hash": "0x2", "class_hash": "0x22"}))
	node.handle("starknet_addDeployAccountTransaction", result(map[string]string{"transaction_hash": "0x3", "contract_address": "0x33"}))

	c := dial(t, srv.URL, fastOptions())
	ctx := context.Background()

	res, err := c.Submit(ctx, &types.BroadcastedInvokeTxnV3{})
	require.NoError(t, err)
	assert.Equal(t, "0x1", res.TransactionHash.String())

	res, err = c.Submit(ctx, &types.BroadcastedDeclareTxnV3{ContractClass: &types.FlattenedSierraClass{}})
	require.NoError(t, err)
	assert.Equal(t, "0x22", res.ClassHash.String())

	res, err = c.Submit(ctx, &types.BroadcastedDeployAccountTxnV3{})
	require.NoError(t, err)
	assert.Equal(t, "0x33", res.ContractAddress.String())

	var sent map[string]any
	require.NoError(t, json.Unmarshal(node.calls("starknet_addDeclareTransaction")[0].Params[0], &sent))
	assert.Equal(t, "DECLARE", sent["type"])
}

func TestClientSubmitMissingHash(t *testing.T) {
	node, srv := newFakeNode(t)
	node.handle("starknet_addInvokeTransaction", result(map[string]string{}))

	c := dial(t, srv.URL, fastOptions())
	_, err := c.Submit(context.Background(), &types.BroadcastedInvokeTxnV3{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrEncoding)
}

func TestClientMalformedResult(t *testing.T) {
	node, srv := newFakeNode(t)
	node.handle("starknet_chainId", result(map[string]int{"oops": 1}))

	c := dial(t, srv.URL, fastOptions())
	_, err := c.ChainID(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrEncoding)
	assert.True(t, IsProtocol(err))
	assert.Len(t, node.calls("starknet_chainId"), 1)
}

func TestClientContextCanceled(t *testing.T) {
	node, srv := newFakeNode(t)
	node.handle("starknet_blockNumber", result(1))
	node.failHTTP.Store(100)

	opts := fastOptions()
	opts.RetryCount = 50
	opts.RetryDelay = time.Hour
	c := dial(t, srv.URL, opts)

	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := c.BlockNumber(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, node.calls("starknet_blockNumber"), 1)
}

func TestClientEstimateFee(t *testing.T) {
	node, srv := newFakeNode(t)
	node.handle("starknet_estimateFee", result([]map[string]string{{
		"gas_consumed":      "0x10",
		"gas_price":         "0x2",
		"data_gas_consumed": "0x0",
		"data_gas_price":    "0x1",
		"overall_fee":       "0x20",
		"unit":              "FRI",
	}}))

	c := dial(t, srv.URL, fastOptions())
	est, err := c.EstimateFee(context.Background(), []types.BroadcastedTxn{&types.BroadcastedInvokeTxnV3{}}, nil, types.PendingBlock())
	require.NoError(t, err)
	require.Len(t, est, 1)
	assert.Equal(t, types.UnitFri, est[0].Unit)
	assert.Equal(t, types.Uint64ToFelt(0x20), est[0].OverallFee)

	req := node.calls("starknet_estimateFee")
	require.Len(t, req, 1)
	require.Len(t, req[0].Params, 3)
	assert.JSONEq(t, `[]`, string(req[0].Params[1]))
}

func TestClientRateLimit(t *testing.T) {
	node, srv := newFakeNode(t)
	node.handle("starknet_blockNumber", result(1))

	opts := fastOptions()
	opts.RateLimit = 1000
	c := dial(t, srv.URL, opts)
	for i := 0; i < 5; i++ {
		_, err := c.BlockNumber(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, node.calls("starknet_blockNumber"), 5)
}

func TestCheckSpecVersion(t *testing.T) {
	tests := []struct {
		version    string
		constraint string
		wantErr    bool
	}{
		{version: "0.7.1", constraint: ">=0.7.0, <0.8.0"},
		{version: "0.7.0", constraint: ">=0.7.0, <0.8.0"},
		{version: "0.8.0", constraint: ">=0.7.0, <0.8.0", wantErr: true},
		{version: "0.6.0", constraint: ">=0.7.0", wantErr: true},
		{version: "garbage", constraint: ">=0.7.0", wantErr: true},
		{version: "0.7.1", constraint: "not a constraint", wantErr: true},
	}

	for _, tt := range tests {
		err := CheckSpecVersion(tt.version, tt.constraint)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckSpecVersion(%q, %q) error = %v, wantErr %v", tt.version, tt.constraint, err, tt.wantErr)
		}
	}
}

func TestRPCErrorFormatting(t *testing.T) {
	protocol := &RPCError{Kind: KindProtocol, Method: "m", Code: 55, Message: "Account validation failed", Data: "bad sig"}
	assert.Contains(t, protocol.Error(), "55")
	assert.Contains(t, protocol.Error(), "bad sig")

	transport := &RPCError{Kind: KindTransport, Method: "m", Err: errors.New("connection refused")}
	assert.Contains(t, transport.Error(), "connection refused")
	assert.True(t, transport.Retryable())

	canceled := &RPCError{Kind: KindTransport, Method: "m", Err: context.Canceled}
	assert.False(t, canceled.Retryable())

	timedOut := &RPCError{Kind: KindTransport, Method: "m", Err: fmt.Errorf("post: %w", context.DeadlineExceeded)}
	assert.True(t, timedOut.Retryable())
}
