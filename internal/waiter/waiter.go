// Package waiter polls a node until a submitted transaction reaches a
// terminal state.
package waiter

import (
	"context"
	"fmt"
	"time"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/0xmhha/starknet-hive/internal/log"
	"github.com/0xmhha/starknet-hive/internal/provider"
	"github.com/0xmhha/starknet-hive/pkg/types"
)

// Client is the subset of provider.Provider the waiter needs
type Client interface {
	TransactionReceipt(ctx context.Context, hash *felt.Felt) (*types.Receipt, error)
	TransactionStatus(ctx context.Context, hash *felt.Felt) (*types.TransactionStatus, error)
}

// Waiter drives the Pending -> {Accepted, Rejected, TimedOut} machine
type Waiter struct {
	client   Client
	config   *Config
	backoff  Backoff
	clock    Clock
	log      log.Logger
	recorder Recorder
	onPoll   func(PollEvent)
}

// Option configures a Waiter.
type Option func(*Waiter)

func WithClock(c Clock) Option {
	return func(w *Waiter) { w.clock = c }
}

// WithBackoff overrides the strategy derived from Config.
func WithBackoff(b Backoff) Option {
	return func(w *Waiter) { w.backoff = b }
}

func WithLogger(l log.Logger) Option {
	return func(w *Waiter) { w.log = l }
}

func WithRecorder(r Recorder) Option {
	return func(w *Waiter) { w.recorder = r }
}

// WithPollHook registers fn to run after every poll.
func WithPollHook(fn func(PollEvent)) Option {
	return func(w *Waiter) { w.onPoll = fn }
}

// New creates a new Waiter instance
func New(client Client, config *Config, opts ...Option) (*Waiter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid waiter config: %w", err)
	}

	w := &Waiter{
		client: client,
		config: config,
		clock:  realClock{},
		log:    log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.backoff == nil {
		w.backoff = config.Backoff()
	}
	return w, nil
}

// Config returns the configuration in use.
func (w *Waiter) Config() Config { return *w.config }

// Wait polls until hash is accepted, rejected, or MaxAttempts polls have
// passed. An accepted receipt is returned; rejection yields *RejectedError
// and exhaustion yields *TimeoutError.
func (w *Waiter) Wait(ctx context.Context, hash *felt.Felt) (*types.Receipt, error) {
	if hash == nil {
		return nil, fmt.Errorf("%w: nil transaction hash", types.ErrEncoding)
	}
	start := w.clock.Now()

	for attempt := 1; attempt <= w.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		state, receipt, err := w.poll(ctx, hash)
		elapsed := w.clock.Now().Sub(start)
		w.observePoll(PollEvent{Hash: hash, Attempt: attempt, State: state, Elapsed: elapsed, Err: err})

		switch {
		case state == StateAccepted:
			w.finish(state, elapsed)
			w.log.Debugw("Transaction accepted", "hash", hash, "attempts", attempt, "elapsed", elapsed)
			return receipt, nil
		case state == StateRejected:
			w.finish(state, elapsed)
			w.log.Debugw("Transaction rejected", "hash", hash, "attempts", attempt, "err", err)
			return receipt, err
		case err != nil:
			return nil, err
		}

		if attempt == w.config.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-w.clock.After(w.backoff.Next(attempt)):
		}
	}

	elapsed := w.clock.Now().Sub(start)
	w.finish(StateTimedOut, elapsed)
	return nil, &TimeoutError{Hash: hash, Attempts: w.config.MaxAttempts, Elapsed: elapsed}
}

// poll performs one receipt lookup. A non-nil error with StatePending is
// fatal to the wait.
func (w *Waiter) poll(ctx context.Context, hash *felt.Felt) (State, *types.Receipt, error) {
	receipt, err := w.client.TransactionReceipt(ctx, hash)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return StatePending, nil, ctx.Err()
		case provider.HasCode(err, provider.CodeTxnHashNotFound):
			return w.checkStatus(ctx, hash)
		case provider.IsTransport(err):
			w.log.Debugw("Receipt poll failed, retrying", "hash", hash, "err", err)
			return StatePending, nil, nil
		default:
			return StatePending, nil, fmt.Errorf("failed to get receipt for %s: %w", hash, err)
		}
	}

	switch receipt.Status() {
	case types.ReceiptAccepted:
		return StateAccepted, receipt, nil
	case types.ReceiptRejected:
		return StateRejected, receipt, &RejectedError{
			Hash:            hash,
			ExecutionStatus: receipt.ExecutionStatus,
			FinalityStatus:  receipt.FinalityStatus,
			Reason:          receipt.RevertReason,
			Receipt:         receipt,
		}
	default:
		return StatePending, nil, nil
	}
}

// checkStatus catches transactions the sequencer dropped before they ever
// produced a receipt. Any failure here leaves the transaction pending.
func (w *Waiter) checkStatus(ctx context.Context, hash *felt.Felt) (State, *types.Receipt, error) {
	status, err := w.client.TransactionStatus(ctx, hash)
	if err != nil {
		if ctx.Err() != nil {
			return StatePending, nil, ctx.Err()
		}
		return StatePending, nil, nil
	}
	if status.Status() == types.ReceiptRejected {
		return StateRejected, nil, &RejectedError{
			Hash:            hash,
			ExecutionStatus: status.ExecutionStatus,
			FinalityStatus:  status.FinalityStatus,
		}
	}
	return StatePending, nil, nil
}

func (w *Waiter) observePoll(ev PollEvent) {
	if w.recorder != nil {
		w.recorder.ObservePoll(ev.State)
	}
	if w.onPoll != nil {
		w.onPoll(ev)
	}
}

func (w *Waiter) finish(state State, elapsed time.Duration) {
	if w.recorder != nil {
		w.recorder.ObserveOutcome(state, elapsed)
	}
}
