// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v4"

	"github.com/solstice-rtc/engine/clock"
	"github.com/solstice-rtc/engine/datachannel"
	"github.com/solstice-rtc/engine/metrics"
	"github.com/solstice-rtc/engine/pending"
	"github.com/solstice-rtc/engine/reconnect"
	"github.com/solstice-rtc/engine/transport"
	"github.com/solstice-rtc/engine/wire"
)

const (
	stateDisconnected = "disconnected"
	stateConnecting   = "connecting"
	stateConnected    = "connected"
	stateReconnecting = "reconnecting"
)

// Config bundles an Engine's construction-time dependencies.
type Config struct {
	SignalLink wire.SignalLink
	Listener   Listener

	// Logger defaults to a discarding slog.Logger when nil.
	Logger *slog.Logger
	// Clock defaults to clock.Real() when nil.
	Clock clock.Clock
	// Metrics may be nil to disable Prometheus instrumentation.
	Metrics *metrics.Metrics
}

// Engine is the top-level session coordinator described by this
// module: it owns both transports, the data-channel set, the
// pending-track registry, and the reconnect controller, and serializes
// every signaling event, transport callback, and caller-invoked method
// through a single event loop per session.
type Engine struct {
	link     wire.SignalLink
	listener Listener
	logger   *slog.Logger
	clk      clock.Clock
	metrics  *metrics.Metrics

	fsm *fsm.FSM

	queue     chan func()
	closed    chan struct{}
	closeOnce sync.Once

	dispatchQueue chan func()

	mu                 sync.Mutex
	url, token         string
	participantSid     string
	connectOpts        wire.ConnectOptions
	roomOpts           wire.RoomOptions
	subscriberPrimary  bool
	publishingActive   bool
	everConnected      bool
	closedFlag         atomic.Bool

	publisher    *transport.Transport
	subscriber   *transport.Transport
	dataChannels *datachannel.Set
	pendingTracks *pending.Registry

	reconnectCtrl    *reconnect.Controller
	reconnectRunning atomic.Bool

	muteState       map[string]bool
	quality         map[string]wire.ConnectionQualityInfo
	publishedTracks []wire.TrackInfo
	subscription    wire.UpdateSubscription

	connectStartedAt time.Time
}

// New constructs an Engine. The returned Engine is DISCONNECTED and
// owns no transports until Join succeeds.
func New(cfg Config) (*Engine, error) {
	if cfg.SignalLink == nil {
		return nil, errors.New("engine: Config.SignalLink is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	e := &Engine{
		link:          cfg.SignalLink,
		listener:      cfg.Listener,
		logger:        logger,
		clk:           clk,
		metrics:       cfg.Metrics,
		queue:         make(chan func(), 128),
		closed:        make(chan struct{}),
		dispatchQueue: make(chan func(), 128),
		pendingTracks: pending.New(),
		muteState:     make(map[string]bool),
		quality:       make(map[string]wire.ConnectionQualityInfo),
	}

	e.fsm = fsm.NewFSM(
		stateDisconnected,
		fsm.Events{
			{Name: "join", Src: []string{stateDisconnected}, Dst: stateConnecting},
			{Name: "connect", Src: []string{stateConnecting, stateReconnecting}, Dst: stateConnected},
			{Name: "disconnect_trigger", Src: []string{stateConnected}, Dst: stateReconnecting},
			{Name: "close", Src: []string{stateDisconnected, stateConnecting, stateConnected, stateReconnecting}, Dst: stateDisconnected},
		},
		nil,
	)

	e.reconnectCtrl = reconnect.New(toReconnectMode(wire.ReconnectDefault), e.clk, e.logger, e.metrics, &reconnectAdapter{engine: e})

	go e.worker()
	go e.dispatchWorker()
	return e, nil
}

func toReconnectMode(t wire.ReconnectType) reconnect.Mode {
	switch t {
	case wire.ReconnectForceSoft:
		return reconnect.ForceSoft
	case wire.ReconnectForceFull:
		return reconnect.ForceFull
	default:
		return reconnect.Default
	}
}

func (e *Engine) worker() {
	for {
		select {
		case job := <-e.queue:
			job()
		case <-e.closed:
			return
		}
	}
}

func (e *Engine) dispatchWorker() {
	for {
		select {
		case job := <-e.dispatchQueue:
			job()
		case <-e.closed:
			return
		}
	}
}

// run submits fn to the engine's serialized event loop and blocks until
// it completes or the engine closes.
func (e *Engine) run(fn func() error) error {
	result := make(chan error, 1)
	select {
	case e.queue <- func() { result <- fn() }:
	case <-e.closed:
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-e.closed:
		return ErrClosed
	}
}

// runValue is run for operations that need to return a value alongside
// an error, without the awkwardness of a captured pointer at every call
// site.
func runValue[T any](e *Engine, fn func() (T, error)) (T, error) {
	var out T
	err := e.run(func() error {
		v, err := fn()
		out = v
		return err
	})
	return out, err
}

// notify dispatches a Notification on the dispatch queue so a listener
// that calls back into the engine never blocks the main event loop.
func (e *Engine) notify(n Notification) {
	if e.listener == nil {
		return
	}
	select {
	case e.dispatchQueue <- func() { e.listener(n) }:
	case <-e.closed:
	}
}

// transition attempts event against the engine's state machine. It
// returns true only on a real transition; calling an event from a state
// that does not accept it (including the current-state-equals-target
// case) is not an error worth surfacing — it is simply ignored, which is
// how spurious equal-value transitions are suppressed.
func (e *Engine) transition(ctx context.Context, event string) bool {
	err := e.fsm.Event(ctx, event)
	if err != nil {
		e.logger.Debug("state transition declined", "event", event, "state", e.fsm.Current(), "error", err)
		return false
	}
	return true
}

func (e *Engine) state() string {
	return e.fsm.Current()
}

func (e *Engine) isClosed() bool {
	return e.closedFlag.Load()
}

// Join establishes a new session: resolves the signaling round trip,
// builds the effective RTC configuration, constructs both transports,
// creates the outbound data channels, and (when publisher-primary)
// proactively negotiates the initial offer.
func (e *Engine) Join(ctx context.Context, rawURL, token string, connect wire.ConnectOptions, room wire.RoomOptions) error {
	if e.isClosed() {
		return ErrClosed
	}
	if _, err := url.Parse(rawURL); err != nil || rawURL == "" {
		e.notify(Notification{Kind: NotificationFailToConnect, Err: wrapf(ErrInvalidURL, "join")})
		return wrapf(ErrInvalidURL, "join")
	}

	return e.run(func() error {
		if !e.transition(ctx, "join") {
			return fmt.Errorf("engine: join called from state %q", e.state())
		}

		resp, err := e.link.Join(ctx, rawURL, token, connect, room)
		if err != nil {
			e.fsm.SetState(stateDisconnected)
			wrapped := wrapf(ErrFailToConnect, "join")
			e.notify(Notification{Kind: NotificationFailToConnect, Err: wrapped})
			return wrapped
		}

		e.mu.Lock()
		e.url, e.token = rawURL, token
		e.participantSid = resp.Participant.Sid
		e.connectOpts, e.roomOpts = connect, room
		e.subscriberPrimary = resp.SubscriberPrimary
		e.connectStartedAt = e.clk.Now()
		e.mu.Unlock()

		e.reconnectCtrl = reconnect.New(toReconnectMode(connect.ReconnectType), e.clk, e.logger, e.metrics, &reconnectAdapter{engine: e})

		if err := e.buildSession(ctx, resp); err != nil {
			e.fsm.SetState(stateDisconnected)
			wrapped := wrapf(ErrFailToConnect, "building session")
			e.notify(Notification{Kind: NotificationFailToConnect, Err: wrapped})
			return wrapped
		}

		e.notify(Notification{Kind: NotificationJoinResponse, JoinResponse: resp})

		if !resp.SubscriberPrimary {
			if err := e.publisher.Negotiate(ctx, &webrtc.OfferOptions{}); err != nil {
				e.logger.Warn("initial publisher negotiation failed", "error", err)
			}
		}

		if err := e.link.OnReadyForResponses(ctx); err != nil {
			e.logger.Warn("signaling ready-for-responses failed", "error", err)
		}

		go e.pumpLinkEvents()
		return nil
	})
}

// buildSession constructs both transports and the outbound data
// channels for a freshly (re)joined session. Must run on the event loop.
func (e *Engine) buildSession(ctx context.Context, resp wire.JoinResponse) error {
	e.mu.Lock()
	connect := e.connectOpts
	e.mu.Unlock()

	rtcConfig := transport.BuildRTCConfig(resp, connect)

	pub, err := transport.New(transport.Config{
		Role:      transport.RolePublisher,
		RTCConfig: rtcConfig,
		Dispatch:  e.onTransportEvent,
		Logger:    e.logger,
		Clock:     e.clk,
	})
	if err != nil {
		return fmt.Errorf("engine: constructing publisher transport: %w", err)
	}

	sub, err := transport.New(transport.Config{
		Role:      transport.RoleSubscriber,
		RTCConfig: rtcConfig,
		Dispatch:  e.onTransportEvent,
		Logger:    e.logger,
		Clock:     e.clk,
	})
	if err != nil {
		pub.Close()
		return fmt.Errorf("engine: constructing subscriber transport: %w", err)
	}

	e.publisher, e.subscriber = pub, sub
	e.dataChannels = datachannel.New(e.logger, e.onDataPacket)

	if err := e.dataChannels.CreateOutbound(pub); err != nil {
		return fmt.Errorf("engine: creating outbound data channels: %w", err)
	}

	return nil
}

// onDataPacket routes a decoded inbound DataPacket to the matching
// notification variant. Runs on a pion callback goroutine by way of
// datachannel.Set's observer, so it is posted onto the dispatch queue
// directly rather than the main loop, mirroring transport's dispatcher
// contract.
func (e *Engine) onDataPacket(_ datachannel.Kind, packet wire.DataPacket) {
	switch packet.Kind {
	case wire.DataPacketUser:
		if packet.User != nil {
			e.notify(Notification{Kind: NotificationUserPacket, UserPacket: *packet.User})
		}
	case wire.DataPacketSpeaker:
		if packet.Speaker != nil {
			e.notify(Notification{Kind: NotificationSpeakersChanged, Speakers: []wire.SpeakerUpdate{*packet.Speaker}})
		}
	default:
		e.logger.Debug("dropping data packet of unrecognized kind")
	}
}

// Close idempotently tears the session down: marks the engine closed,
// disposes both transports and all four data-channel handles, clears
// pending track resolvers, closes the signal link, and transitions to
// DISCONNECTED. A second Close is a no-op. A running reconnect loop is
// not cancelled: it ends at its next closed check, between attempts or
// after a backoff delay.
//
// Close must not be called from a function already running on the
// engine's event loop (a transport dispatcher or a signal-event
// handler) — doing so would deadlock waiting for the loop to process
// its own teardown job. Those callers use closeAsync instead.
func (e *Engine) Close(ctx context.Context, reason string) error {
	return e.closeWithReason(ctx, reason, wire.ReasonClientInitiated)
}

// closeAsync defers to Close on a new goroutine, for use by code that
// is itself running on the event loop (it cannot block waiting for the
// loop to run its own teardown job).
func (e *Engine) closeAsync(reason string, disconnectReason wire.DisconnectReason) {
	go func() { _ = e.closeWithReason(context.Background(), reason, disconnectReason) }()
}

func (e *Engine) closeWithReason(ctx context.Context, reason string, disconnectReason wire.DisconnectReason) error {
	if !e.closedFlag.CompareAndSwap(false, true) {
		return nil
	}

	err := e.run(func() error {
		wasEverConnected := e.everConnected
		e.transition(ctx, "close")

		if e.dataChannels != nil {
			e.dataChannels.Close()
		}
		if e.publisher != nil {
			e.publisher.CloseBlocking()
		}
		if e.subscriber != nil {
			e.subscriber.CloseBlocking()
		}
		e.pendingTracks.Close()

		if linkErr := e.link.Close(ctx, reason); linkErr != nil {
			e.logger.Debug("closing signal link", "error", linkErr)
		}

		if wasEverConnected {
			e.notify(Notification{Kind: NotificationEngineDisconnected, Reason: disconnectReason})
		}
		return nil
	})

	close(e.closed)
	return err
}

// pumpLinkEvents reads from the signal link's event channel and
// dispatches each one onto the engine's serialized loop, until the
// channel closes or the engine does.
func (e *Engine) pumpLinkEvents() {
	for {
		select {
		case ev, ok := <-e.link.Events():
			if !ok {
				e.run(func() error { e.onSignalClosed(wire.CloseEvent{Reason: "link events channel closed"}); return nil })
				return
			}
			event := ev
			e.run(func() error { e.handleSignalEvent(event); return nil })
		case <-e.closed:
			return
		}
	}
}
