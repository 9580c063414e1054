// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/solstice-rtc/engine/wire"
)

// handleSignalEvent applies one inbound SignalLink event. It runs on
// the engine's event loop (posted there by pumpLinkEvents), so every
// branch mutates engine state directly rather than through run.
func (e *Engine) handleSignalEvent(ev wire.Event) {
	ctx := context.Background()

	switch ev.Kind {
	case wire.EventAnswer:
		e.applyPublisherAnswer(ev.SDP)

	case wire.EventOffer:
		e.applySubscriberOffer(ctx, ev.SDP)

	case wire.EventTrickle:
		e.applyTrickle(ev)

	case wire.EventLocalTrackPublished:
		e.pendingTracks.Resolve(ev.CID, ev.TrackInfo)
		e.mu.Lock()
		e.publishedTracks = append(e.publishedTracks, ev.TrackInfo)
		e.mu.Unlock()

	case wire.EventLocalTrackUnpublished:
		e.notify(Notification{Kind: NotificationLocalTrackUnpublished, TrackSid: ev.CID})

	case wire.EventParticipantUpdate:
		e.notify(Notification{Kind: NotificationUpdateParticipants, Participants: ev.Participants})

	case wire.EventSpeakersChanged:
		e.notify(Notification{Kind: NotificationSpeakersChanged, Speakers: ev.Speakers})

	case wire.EventActiveSpeakers:
		e.notify(Notification{Kind: NotificationActiveSpeakersUpdate, Speakers: ev.Speakers})

	case wire.EventConnectionQuality:
		e.mu.Lock()
		for _, q := range ev.Quality {
			e.quality[q.Sid] = q
		}
		e.mu.Unlock()
		e.notify(Notification{Kind: NotificationConnectionQuality, Quality: ev.Quality})

	case wire.EventRoomUpdate:
		e.notify(Notification{Kind: NotificationRoomUpdate})

	case wire.EventMuteChanged:
		e.mu.Lock()
		e.muteState[ev.MuteSid] = ev.MuteState
		e.mu.Unlock()
		e.notify(Notification{Kind: NotificationRemoteMuteChanged, MuteSid: ev.MuteSid, MuteState: ev.MuteState})

	case wire.EventStreamStateUpdate:
		e.notify(Notification{Kind: NotificationStreamStateUpdate, StreamStates: ev.StreamStates})

	case wire.EventSubscribedQualityUpdate:
		e.notify(Notification{Kind: NotificationSubscribedQualityUpdate})

	case wire.EventSubscriptionPermissionUpdate:
		e.notify(Notification{Kind: NotificationSubscriptionPermissionUpdate})

	case wire.EventRefreshToken:
		e.mu.Lock()
		e.token = ev.NewToken
		e.mu.Unlock()

	case wire.EventLeave:
		e.handleLeave(ev.Leave)

	case wire.EventClose:
		e.logger.Debug("server closed signal link", "reason", ev.Close.Reason, "code", ev.Close.Code)
		e.triggerReconnect(ctx)

	case wire.EventError:
		e.logger.Warn("signal link reported an error event", "error", ev.Err)

	default:
		e.logger.Debug("dropping unrecognized signal event", "kind", ev.Kind)
	}
}

// onSignalClosed handles the signal link's event channel itself
// closing — distinct from an EventClose the server sent intentionally.
// There is no more signaling to drive a reconnect through, so the
// session is torn down outright rather than retried.
func (e *Engine) onSignalClosed(reason wire.CloseEvent) {
	if e.isClosed() {
		return
	}
	e.logger.Debug("signal link event channel closed", "reason", reason.Reason)
	e.closeAsync(reason.Reason, wire.ReasonSignalClose)
}

// handleLeave applies a server Leave instruction: a resumable leave
// forces the next reconnect attempt to be full and kicks off the retry
// loop immediately; a terminal leave closes the session outright.
func (e *Engine) handleLeave(leave wire.LeaveEvent) {
	if leave.CanReconnect {
		e.reconnectCtrl.ForceFullOnNextAttempt()
		e.triggerReconnect(context.Background())
		return
	}
	e.closeAsync("left the room", leave.Reason)
}

func (e *Engine) applyPublisherAnswer(sdp string) {
	if e.publisher == nil {
		return
	}
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := e.publisher.SetRemoteDescription(desc); err != nil {
		e.logger.Warn("applying publisher answer failed", "error", err)
	}
}

// applySubscriberOffer drives the subscriber's offer/answer exchange:
// apply the server's offer, create and set the local answer, and send
// it back. It aborts silently at each step if the engine closes
// mid-sequence, since there is nothing left to answer to.
func (e *Engine) applySubscriberOffer(ctx context.Context, sdp string) {
	if e.subscriber == nil || e.isClosed() {
		return
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := e.subscriber.SetRemoteDescription(desc); err != nil {
		e.logger.Warn("applying subscriber offer failed", "error", err)
		return
	}
	if e.isClosed() {
		return
	}

	answer, err := e.subscriber.CreateAnswer(nil)
	if err != nil {
		e.logger.Warn("creating subscriber answer failed", "error", err)
		return
	}
	if e.isClosed() {
		return
	}

	if err := e.subscriber.SetLocalDescription(answer); err != nil {
		e.logger.Warn("setting subscriber local answer failed", "error", err)
		return
	}
	if e.isClosed() {
		return
	}

	if err := e.link.SendAnswer(ctx, answer.SDP); err != nil {
		e.logger.Warn("sending subscriber answer failed", "error", err)
	}
}

func (e *Engine) applyTrickle(ev wire.Event) {
	target := e.publisher
	if ev.Target == wire.TargetSubscriber {
		target = e.subscriber
	}
	if target == nil {
		return
	}
	if err := target.AddICECandidate(webrtc.ICECandidateInit{Candidate: ev.Candidate}); err != nil {
		e.logger.Debug("applying trickled ICE candidate failed", "target", ev.Target, "error", err)
	}
}
