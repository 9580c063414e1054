// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/solstice-rtc/engine/clock"
)

// EventKind discriminates the variants a Transport posts to its
// dispatcher.
type EventKind int

const (
	EventICEConnectionStateChange EventKind = iota
	EventICECandidate
	EventNegotiationOffer
	EventDataChannel
	EventSignalingStateChange
	EventTrack
)

// Event is what a Transport hands to its dispatcher. Only the fields
// relevant to Kind are populated. This is the composition-based
// replacement for subclassing a native observer interface: the
// Transport holds no reference to "the engine," only to a plain
// function over this tagged union.
type Event struct {
	Kind               EventKind
	Role               Role
	ICEConnectionState webrtc.ICEConnectionState
	SignalingState     webrtc.SignalingState
	Candidate          *webrtc.ICECandidateInit
	OfferSDP           string
	DataChannel        *webrtc.DataChannel
	Track              *webrtc.TrackRemote
	Receiver           *webrtc.RTPReceiver
}

// Dispatcher receives Transport events. Implementations must not block;
// the expectation (per the engine's concurrency model) is that it
// enqueues onto the engine's own serialized event loop and returns.
type Dispatcher func(Event)

// Transport wraps a single pion PeerConnection with a serialized
// operation queue. See package doc for the concurrency rationale.
type Transport struct {
	role     Role
	logger   *slog.Logger
	clock    clock.Clock
	dispatch Dispatcher
	pc       *webrtc.PeerConnection

	queue chan func()

	closed    chan struct{}
	closeOnce sync.Once

	// remoteDescriptionSet and bufferedCandidates implement trickle ICE
	// buffering: candidates arriving before the remote description is
	// applied are queued and flushed, in arrival order, immediately
	// after the first successful SetRemoteDescription.
	mu                   sync.Mutex
	remoteDescriptionSet bool
	bufferedCandidates   []webrtc.ICECandidateInit

	iceRestartPending atomic.Bool

	// negotiating and negotiateAgain implement negotiate() coalescing:
	// at most one trailing negotiation is ever queued behind the one
	// in flight.
	negotiateMu    sync.Mutex
	negotiating    bool
	negotiateAgain bool
}

// Config bundles the construction-time dependencies for a Transport.
type Config struct {
	Role      Role
	RTCConfig webrtc.Configuration
	Dispatch  Dispatcher
	Logger    *slog.Logger
	Clock     clock.Clock
}

// New creates a Transport and its underlying PeerConnection, wires up
// native observer callbacks through the dispatcher, and starts the
// operation-queue worker.
func New(cfg Config) (*Transport, error) {
	settingEngine := webrtc.SettingEngine{}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	pc, err := api.NewPeerConnection(cfg.RTCConfig)
	if err != nil {
		return nil, fmt.Errorf("transport[%s]: creating peer connection: %w", cfg.Role, err)
	}

	t := &Transport{
		role:     cfg.Role,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		dispatch: cfg.Dispatch,
		pc:       pc,
		queue:    make(chan func(), 32),
		closed:   make(chan struct{}),
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.logger.Debug("ice connection state change", "role", t.role, "state", state.String())
		t.dispatch(Event{Kind: EventICEConnectionStateChange, Role: t.role, ICEConnectionState: state})
	})
	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		t.dispatch(Event{Kind: EventSignalingStateChange, Role: t.role, SignalingState: state})
	})
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return // end-of-candidates
		}
		init := candidate.ToJSON()
		t.dispatch(Event{Kind: EventICECandidate, Role: t.role, Candidate: &init})
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.dispatch(Event{Kind: EventDataChannel, Role: t.role, DataChannel: dc})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.dispatch(Event{Kind: EventTrack, Role: t.role, Track: track, Receiver: receiver})
	})
	pc.OnNegotiationNeeded(func() {
		if t.role != RolePublisher {
			return
		}
		go func() {
			if err := t.Negotiate(context.Background(), nil); err != nil {
				t.logger.Debug("negotiation-needed offer failed", "role", t.role, "error", err)
			}
		}()
	})

	go t.worker()
	return t, nil
}

func (t *Transport) worker() {
	for {
		select {
		case job := <-t.queue:
			job()
		case <-t.closed:
			return
		}
	}
}

// run submits fn to the operation queue and blocks until it completes
// or the transport closes. Operations issued for the same transport
// execute in submission order.
func (t *Transport) run(fn func() error) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	result := make(chan error, 1)
	select {
	case t.queue <- func() { result <- fn() }:
	case <-t.closed:
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-t.closed:
		return ErrClosed
	}
}

// WithPeerConnection runs fn on the operation queue with exclusive
// access to the native PeerConnection. Used for stats, sender
// enumeration, and removal — anything without a dedicated method.
func (t *Transport) WithPeerConnection(fn func(*webrtc.PeerConnection) error) error {
	return t.run(func() error { return fn(t.pc) })
}

// SetRemoteDescription applies sdp as the remote description. On
// success it flushes, in arrival order, any ICE candidates buffered by
// AddICECandidate while no remote description was set.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.run(func() error {
		if err := t.pc.SetRemoteDescription(sdp); err != nil {
			return &SdpApplyError{Role: t.role, Op: "setRemoteDescription", Err: err}
		}

		t.mu.Lock()
		t.remoteDescriptionSet = true
		pending := t.bufferedCandidates
		t.bufferedCandidates = nil
		t.mu.Unlock()

		for _, candidate := range pending {
			if err := t.pc.AddICECandidate(candidate); err != nil {
				t.logger.Warn("flushing buffered ICE candidate failed", "role", t.role, "error", err)
			}
		}
		return nil
	})
}

// CreateOffer produces an SDP offer without side effects beyond pion's
// own internal offer bookkeeping; it does not set a local description.
func (t *Transport) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	var sdp webrtc.SessionDescription
	err := t.run(func() error {
		offer, err := t.pc.CreateOffer(options)
		if err != nil {
			return &SdpApplyError{Role: t.role, Op: "createOffer", Err: err}
		}
		sdp = offer
		return nil
	})
	return sdp, err
}

// CreateAnswer produces an SDP answer without setting it locally.
func (t *Transport) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	var sdp webrtc.SessionDescription
	err := t.run(func() error {
		answer, err := t.pc.CreateAnswer(options)
		if err != nil {
			return &SdpApplyError{Role: t.role, Op: "createAnswer", Err: err}
		}
		sdp = answer
		return nil
	})
	return sdp, err
}

// SetLocalDescription applies sdp as the local description.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.run(func() error {
		if err := t.pc.SetLocalDescription(sdp); err != nil {
			return &SdpApplyError{Role: t.role, Op: "setLocalDescription", Err: err}
		}
		return nil
	})
}

// AddICECandidate applies candidate immediately if a remote description
// is already set; otherwise it is buffered for flush after the next
// successful SetRemoteDescription.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.run(func() error {
		t.mu.Lock()
		if !t.remoteDescriptionSet {
			t.bufferedCandidates = append(t.bufferedCandidates, candidate)
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()

		return t.pc.AddICECandidate(candidate)
	})
}

// UpdateRTCConfig atomically replaces the transport-wide configuration,
// used during soft reconnect to install fresh ICE servers.
func (t *Transport) UpdateRTCConfig(cfg webrtc.Configuration) error {
	return t.run(func() error {
		return t.pc.SetConfiguration(cfg)
	})
}

// PrepareForIceRestart marks the transport so the next offer produced
// by Negotiate sets IceRestart.
func (t *Transport) PrepareForIceRestart() {
	t.iceRestartPending.Store(true)
}

// Negotiate is publisher-only: it creates an offer, sets it as the
// local description, and hands it to the dispatcher as an
// EventNegotiationOffer for the engine to forward through the signal
// link. Concurrent calls coalesce: if a negotiation is already in
// flight, this call collapses into a single pending trailing
// negotiation rather than queueing unboundedly.
func (t *Transport) Negotiate(ctx context.Context, options *webrtc.OfferOptions) error {
	if t.role != RolePublisher {
		return fmt.Errorf("transport[%s]: negotiate is publisher-only", t.role)
	}

	t.negotiateMu.Lock()
	if t.negotiating {
		t.negotiateAgain = true
		t.negotiateMu.Unlock()
		return nil
	}
	t.negotiating = true
	t.negotiateMu.Unlock()

	err := t.negotiateOnce(options)
	t.finishNegotiateAndMaybeRerun(ctx, options)
	return err
}

func (t *Transport) negotiateOnce(options *webrtc.OfferOptions) error {
	if t.iceRestartPending.Swap(false) {
		if options == nil {
			options = &webrtc.OfferOptions{}
		}
		options.ICERestart = true
	}

	offer, err := t.CreateOffer(options)
	if err != nil {
		return err
	}
	if err := t.SetLocalDescription(offer); err != nil {
		return err
	}

	t.dispatch(Event{Kind: EventNegotiationOffer, Role: t.role, OfferSDP: offer.SDP})
	return nil
}

func (t *Transport) finishNegotiateAndMaybeRerun(ctx context.Context, options *webrtc.OfferOptions) {
	t.negotiateMu.Lock()
	again := t.negotiateAgain
	t.negotiateAgain = false
	t.negotiating = false
	t.negotiateMu.Unlock()

	if again {
		if err := t.Negotiate(ctx, options); err != nil {
			t.logger.Debug("coalesced negotiation failed", "role", t.role, "error", err)
		}
	}
}

// IsConnected reports whether the ICE connection has reached the
// connected or completed state. Side-effect-free.
func (t *Transport) IsConnected() bool {
	switch t.pc.ICEConnectionState() {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return true
	default:
		return false
	}
}

// ICEConnectionState returns the current ICE connection state.
// Side-effect-free.
func (t *Transport) ICEConnectionState() webrtc.ICEConnectionState {
	return t.pc.ICEConnectionState()
}

// SignalingState returns the current signaling state. Side-effect-free.
func (t *Transport) SignalingState() webrtc.SignalingState {
	return t.pc.SignalingState()
}

// Role returns the transport's immutable role.
func (t *Transport) Role() Role { return t.role }

// CreateDataChannel creates a local data channel on this transport's
// PeerConnection. Publisher-side use only: outbound channels are
// created by the publisher at transport construction.
func (t *Transport) CreateDataChannel(label string, init *webrtc.DataChannelInit) (*webrtc.DataChannel, error) {
	var dc *webrtc.DataChannel
	err := t.run(func() error {
		created, err := t.pc.CreateDataChannel(label, init)
		if err != nil {
			return err
		}
		dc = created
		return nil
	})
	return dc, err
}

// Close idempotently drains the queue, disposes the native
// PeerConnection, and rejects further operations.
func (t *Transport) Close() error {
	return t.closeInternal()
}

// CloseBlocking is an alias for Close: both variants wait for teardown
// to finish before returning.
func (t *Transport) CloseBlocking() error {
	return t.closeInternal()
}

func (t *Transport) closeInternal() error {
	var err error
	t.closeOnce.Do(func() {
		// Queued behind every operation already submitted, so those run
		// first and the native close happens on the worker.
		err = t.run(func() error { return t.pc.Close() })
		close(t.closed)
	})
	return err
}

// waitIdle is a test hook: it drains the queue by submitting a no-op
// and waiting for it to run, guaranteeing all previously submitted
// operations have completed.
func (t *Transport) waitIdle(timeout time.Duration) error {
	done := make(chan struct{})
	select {
	case t.queue <- func() { close(done) }:
	case <-t.closed:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("transport[%s]: waitIdle timed out", t.role)
	}
}
