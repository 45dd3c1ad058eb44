package waiter

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/0xmhha/starknet-hive/pkg/types"
)

// State is the position of a transaction in the wait state machine.
type State int

const (
	StatePending State = iota
	StateAccepted
	StateRejected
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateAccepted:
		return "ACCEPTED"
	case StateRejected:
		return "REJECTED"
	case StateTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrRejected is matched by *RejectedError.
	ErrRejected = errors.New("transaction rejected")
	// ErrTimedOut is matched by *TimeoutError.
	ErrTimedOut = errors.New("transaction not finalised in time")
)

// RejectedError carries the terminal failure of a transaction. Receipt is
// nil when the rejection was learnt from the status endpoint.
type RejectedError struct {
	Hash            *felt.Felt
	ExecutionStatus types.ExecutionStatus
	FinalityStatus  types.FinalityStatus
	Reason          string
	Receipt         *types.Receipt
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("transaction %s rejected (finality %s", e.Hash, e.FinalityStatus)
	if e.ExecutionStatus != "" {
		msg += ", execution " + string(e.ExecutionStatus)
	}
	msg += ")"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// TimeoutError is returned after MaxAttempts polls without a terminal state.
type TimeoutError struct {
	Hash     *felt.Felt
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transaction %s still pending after %d polls (%s)", e.Hash, e.Attempts, e.Elapsed)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimedOut }

// Config holds waiter configuration
type Config struct {
	// PollInterval is the delay before the second poll
	PollInterval time.Duration

	// BackoffFactor multiplies the delay after every poll; 1 keeps it constant
	BackoffFactor float64

	// MaxPollInterval caps the delay between polls
	MaxPollInterval time.Duration

	// MaxAttempts is the number of receipt polls before giving up
	MaxAttempts int
}

// DefaultConfig returns default waiter configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:    500 * time.Millisecond,
		BackoffFactor:   1.5,
		MaxPollInterval: 5 * time.Second,
		MaxAttempts:     60,
	}
}

// Validate rejects configurations that could never finish.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.BackoffFactor < 1 || math.IsNaN(c.BackoffFactor) || math.IsInf(c.BackoffFactor, 0) {
		return fmt.Errorf("backoff factor must be >= 1, got %v", c.BackoffFactor)
	}
	if c.MaxPollInterval > 0 && c.MaxPollInterval < c.PollInterval {
		return fmt.Errorf("max poll interval %s is below poll interval %s", c.MaxPollInterval, c.PollInterval)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts)
	}
	return nil
}

// Backoff returns the strategy described by the config.
func (c *Config) Backoff() Backoff {
	if c.BackoffFactor <= 1 {
		return ConstantBackoff{Interval: c.PollInterval}
	}
	return ExponentialBackoff{Initial: c.PollInterval, Factor: c.BackoffFactor, Max: c.MaxPollInterval}
}

// Backoff yields the delay after the n-th poll (n starts at 1).
type Backoff interface {
	Next(n int) time.Duration
}

type ConstantBackoff struct {
	Interval time.Duration
}

func (b ConstantBackoff) Next(int) time.Duration { return b.Interval }

// ExponentialBackoff grows from Initial by Factor per poll, capped at Max
// when Max is positive.
type ExponentialBackoff struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration
}

func (b ExponentialBackoff) Next(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(b.Initial) * math.Pow(b.Factor, float64(n-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Clock abstracts time so tests can drive the loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// PollEvent describes one completed poll.
type PollEvent struct {
	Hash    *felt.Felt
	Attempt int
	State   State
	Elapsed time.Duration
	Err     error
}

// Recorder receives wait metrics. internal/metrics implements it.
type Recorder interface {
	ObservePoll(state State)
	ObserveOutcome(state State, elapsed time.Duration)
}
