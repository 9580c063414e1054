// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

// Package reconnect implements the engine's ReconnectController: the
// retry loop that runs when the session drops, choosing between a soft
// (ICE-restart) and a full (tear-down-and-rejoin) strategy per attempt,
// bounded by a retry count and a wall-clock budget.
package reconnect

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/looplab/fsm"

	"github.com/solstice-rtc/engine/clock"
	"github.com/solstice-rtc/engine/metrics"
)

// Bounds on the retry loop: no more than MaxRetries attempts, no more
// than MaxTimeout wall-clock time overall, and each attempt's wait for
// ICE to reach the connected state is capped at MaxICEConnectTimeout.
const (
	MaxRetries           = 10
	MaxTimeout           = 60 * time.Second
	MaxICEConnectTimeout = 20 * time.Second
)

// Mode selects the reconnection strategy for the controller as a whole.
type Mode int

const (
	// Default attempts soft on the first try; every subsequent attempt
	// is full once any attempt fails.
	Default Mode = iota
	ForceSoft
	ForceFull
)

// Strategy is the per-attempt strategy the controller selects.
type Strategy int

const (
	StrategySoft Strategy = iota
	StrategyFull
)

func (s Strategy) String() string {
	if s == StrategyFull {
		return "full"
	}
	return "soft"
}

// ErrExhausted is returned by Run when the retry count or wall-clock
// budget is exhausted without a successful reconnect.
var ErrExhausted = errors.New("reconnect: attempts exhausted")

// ErrAlreadyRunning is returned by Run if a reconnect task is already
// active; at most one reconnect task runs at a time.
var ErrAlreadyRunning = errors.New("reconnect: task already running")

// Callbacks lets the controller drive engine-level side effects without
// depending on package engine (avoiding an import cycle). All methods
// are called synchronously from the attempt loop; none may block
// indefinitely.
type Callbacks interface {
	// IsClosed reports whether the owning engine has been closed.
	IsClosed() bool

	// FullReconnect tears down transports/data channels and performs a
	// full join. Returns an error to force the loop to the next attempt.
	FullReconnect(ctx context.Context) error

	// SoftReconnect marks the subscriber for ICE restart, calls
	// signalLink.Reconnect, applies any returned RTC config to both
	// transports, and renegotiates the publisher if publishing.
	// Any returned error fails the attempt; in Default mode every later
	// attempt is then full. ErrMustFullReconnect is not treated
	// differently from other errors.
	SoftReconnect(ctx context.Context) error

	// WaitICEConnected blocks (up to the controller's own timeout
	// budget) until the session's primary transport reaches the
	// connected ICE state. It does not wait on the non-primary
	// transport or on the engine's own state; OnAttemptSucceeded is
	// what moves the engine to CONNECTED.
	WaitICEConnected(ctx context.Context) error

	// OnAttemptSucceeded is called once per successful attempt, full or
	// soft, before Run returns nil.
	OnAttemptSucceeded(isFullReconnect bool)

	// OnExhausted is called once, when Run is about to return
	// ErrExhausted.
	OnExhausted()
}

// attempt-level FSM states and events, modeling the signal/negotiate/
// await-ICE phases of a single reconnect attempt.
const (
	stateIdle       = "idle"
	stateAttempting = "attempting"
	stateAwaitICE   = "awaiting_ice"
	stateSucceeded  = "succeeded"
	stateFailed     = "failed"
)

// Controller runs the bounded retry loop triggered when a session's
// transport drops: it chooses soft or full strategy per attempt,
// backs off between attempts, and gives up once exhausted.
type Controller struct {
	mode      Mode
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	callbacks Callbacks

	running bool

	// fullReconnectOnNext is set by the engine when it observes
	// Leave(canReconnect=true); it forces the next attempt (only) to be
	// full regardless of Mode.
	fullReconnectOnNext bool
}

// New creates a Controller. metrics may be nil to disable instrumentation.
func New(mode Mode, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics, callbacks Callbacks) *Controller {
	return &Controller{mode: mode, clock: clk, logger: logger, metrics: m, callbacks: callbacks}
}

// ForceFullOnNextAttempt sets the fullReconnectOnNext flag, consumed by
// the next call to Run.
func (c *Controller) ForceFullOnNextAttempt() {
	c.fullReconnectOnNext = true
}

// Run executes the bounded retry loop. If a task is already running it
// returns ErrAlreadyRunning immediately: a second trigger while one is
// already in flight is a no-op, not a second concurrent loop.
func (c *Controller) Run(ctx context.Context) error {
	if c.running {
		return ErrAlreadyRunning
	}
	c.running = true
	defer func() { c.running = false }()

	deadline := c.clock.Now().Add(MaxTimeout)
	forceFullFirst := c.fullReconnectOnNext
	c.fullReconnectOnNext = false

	everFailed := false

	for n := 0; n < MaxRetries; n++ {
		if c.callbacks.IsClosed() {
			break
		}
		if c.clock.Now().After(deadline) {
			break
		}

		if n > 0 {
			delay := perAttemptDelay(n)
			select {
			case <-c.clock.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			if c.callbacks.IsClosed() {
				break
			}
		}

		strategy := c.selectStrategy(n, forceFullFirst, everFailed)
		c.metrics.ReconnectAttempt(strategy.String())

		machine := newAttemptFSM()
		succeeded := c.runAttempt(ctx, machine, strategy)
		if succeeded {
			c.callbacks.OnAttemptSucceeded(strategy == StrategyFull)
			c.metrics.ReconnectOutcome(strategy.String() + "_ok")
			return nil
		}
		everFailed = true

		if c.clock.Now().After(deadline) {
			break
		}
	}

	c.metrics.ReconnectOutcome("exhausted")
	c.callbacks.OnExhausted()
	return ErrExhausted
}

// selectStrategy picks soft or full reconnect for the given attempt.
func (c *Controller) selectStrategy(attemptIndex int, forceFullFirst, everFailed bool) Strategy {
	if attemptIndex == 0 && forceFullFirst {
		return StrategyFull
	}
	switch c.mode {
	case ForceSoft:
		return StrategySoft
	case ForceFull:
		return StrategyFull
	default: // Default
		if everFailed {
			return StrategyFull
		}
		return StrategySoft
	}
}

// perAttemptDelay computes min(100 + n^2 * 500, 5000) ms for zero-based
// attempt index n. n == 0 uses no delay (callers only invoke this for
// n > 0, but the formula degrades gracefully for n == 0 too).
func perAttemptDelay(n int) time.Duration {
	ms := 100 + n*n*500
	if ms > 5000 {
		ms = 5000
	}
	return time.Duration(ms) * time.Millisecond
}

func newAttemptFSM() *fsm.FSM {
	return fsm.NewFSM(
		stateIdle,
		fsm.Events{
			{Name: "begin", Src: []string{stateIdle}, Dst: stateAttempting},
			{Name: "signaled", Src: []string{stateAttempting}, Dst: stateAwaitICE},
			{Name: "ice_connected", Src: []string{stateAwaitICE}, Dst: stateSucceeded},
			{Name: "failed", Src: []string{stateAttempting, stateAwaitICE}, Dst: stateFailed},
		},
		nil,
	)
}

// runAttempt signals, negotiates, and waits for ICE for a single
// attempt, driving machine through its states. Returns true iff the
// attempt reached stateSucceeded.
func (c *Controller) runAttempt(ctx context.Context, machine *fsm.FSM, strategy Strategy) bool {
	_ = machine.Event(ctx, "begin")

	var err error
	if strategy == StrategyFull {
		err = c.callbacks.FullReconnect(ctx)
	} else {
		err = c.callbacks.SoftReconnect(ctx)
	}
	if err != nil {
		c.logger.Debug("reconnect attempt failed during signaling", "strategy", strategy, "error", err)
		_ = machine.Event(ctx, "failed")
		return false
	}

	_ = machine.Event(ctx, "signaled")

	waitCtx, cancel := context.WithTimeout(ctx, MaxICEConnectTimeout)
	defer cancel()
	if err := c.callbacks.WaitICEConnected(waitCtx); err != nil {
		c.logger.Debug("reconnect attempt failed waiting for ICE", "strategy", strategy, "error", err)
		_ = machine.Event(ctx, "failed")
		return false
	}

	_ = machine.Event(ctx, "ice_connected")
	return machine.Is(stateSucceeded)
}
