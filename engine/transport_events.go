// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/solstice-rtc/engine/transport"
	"github.com/solstice-rtc/engine/wire"
)

// onTransportEvent is the transport.Dispatcher installed on both the
// publisher and subscriber transports. It runs on whichever pion
// callback goroutine fired the native event, so every branch that
// touches engine state posts onto the main event loop rather than
// mutating directly.
func (e *Engine) onTransportEvent(ev transport.Event) {
	e.post(func() { e.handleTransportEvent(ev) })
}

// post enqueues fn onto the engine's serialized loop without waiting
// for it to run, for use from callback goroutines that must not block
// on their own continuation.
func (e *Engine) post(fn func()) {
	select {
	case e.queue <- fn:
	case <-e.closed:
	}
}

func (e *Engine) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventICEConnectionStateChange:
		e.handleICEConnectionStateChange(ev)
	case transport.EventICECandidate:
		e.forwardTrickle(ev)
	case transport.EventNegotiationOffer:
		e.forwardOffer(ev)
	case transport.EventDataChannel:
		e.mu.Lock()
		subscriberPrimary := e.subscriberPrimary
		e.mu.Unlock()
		if subscriberPrimary && ev.Role == transport.RoleSubscriber && e.dataChannels != nil {
			e.dataChannels.RegisterInbound(ev.DataChannel)
		}
	case transport.EventSignalingStateChange:
		e.logger.Debug("signaling state change", "role", ev.Role, "state", ev.SignalingState.String())
	case transport.EventTrack:
		e.notify(Notification{Kind: NotificationAddTrack, Track: ev.Track, Receiver: ev.Receiver})
	}
}

// isPrimary reports whether ev.Role is the primary transport for this
// session: the subscriber when the server designated subscriberPrimary
// at join, the publisher otherwise.
func (e *Engine) isPrimary(role transport.Role) bool {
	e.mu.Lock()
	subscriberPrimary := e.subscriberPrimary
	e.mu.Unlock()
	if subscriberPrimary {
		return role == transport.RoleSubscriber
	}
	return role == transport.RolePublisher
}

// handleICEConnectionStateChange gates CONNECTED on the primary
// transport's ICE state reaching connected/completed. A non-primary
// transport's disconnect still triggers a reconnect when that
// transport is the publisher and publishing is currently active: the
// server cannot be told about new tracks over a dead publisher leg
// even while the subscriber leg is healthy.
func (e *Engine) handleICEConnectionStateChange(ev transport.Event) {
	ctx := context.Background()

	switch ev.ICEConnectionState {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		if !e.isPrimary(ev.Role) {
			return
		}
		priorState := e.state()
		if e.transition(ctx, "connect") {
			e.mu.Lock()
			e.everConnected = true
			elapsed := e.clk.Now().Sub(e.connectStartedAt)
			e.mu.Unlock()
			if err := e.link.OnPCConnected(ctx); err != nil {
				e.logger.Debug("signaling pc-connected failed", "error", err)
			}
			// The "connect" event also fires the RECONNECTING->CONNECTED
			// transition; that case is reported by
			// reconnectAdapter.OnAttemptSucceeded as
			// EngineReconnected/PostReconnect instead, once the reconnect
			// controller itself (not just the ICE layer) considers the
			// attempt done.
			if priorState == stateConnecting {
				e.metrics.ICEConnectObserve(ev.Role.String(), elapsed.Seconds())
				e.notify(Notification{Kind: NotificationEngineConnected})
			}
		}

	case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed:
		e.mu.Lock()
		publishingActive := e.publishingActive
		e.mu.Unlock()

		triggering := e.isPrimary(ev.Role) || (ev.Role == transport.RolePublisher && publishingActive)
		if !triggering {
			return
		}
		e.triggerReconnect(ctx)
	}
}

// triggerReconnect transitions to RECONNECTING and launches the
// reconnect controller's bounded retry loop, unless one is already in
// flight.
func (e *Engine) triggerReconnect(ctx context.Context) {
	if !e.transition(ctx, "disconnect_trigger") {
		return
	}
	e.notify(Notification{Kind: NotificationEngineReconnecting})

	if !e.reconnectRunning.CompareAndSwap(false, true) {
		return
	}
	ctrl := e.reconnectCtrl
	go func() {
		defer e.reconnectRunning.Store(false)
		_ = ctrl.Run(ctx)
	}()
}

func (e *Engine) forwardTrickle(ev transport.Event) {
	if ev.Candidate == nil {
		return
	}
	target := wire.TargetPublisher
	if ev.Role == transport.RoleSubscriber {
		target = wire.TargetSubscriber
	}
	if err := e.link.SendTrickle(context.Background(), ev.Candidate.Candidate, target); err != nil {
		e.logger.Debug("forwarding ICE candidate failed", "role", ev.Role, "error", err)
	}
}

func (e *Engine) forwardOffer(ev transport.Event) {
	if err := e.link.SendOffer(context.Background(), ev.OfferSDP); err != nil {
		e.logger.Debug("forwarding negotiation offer failed", "error", err)
	}
}
