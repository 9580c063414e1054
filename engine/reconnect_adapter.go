// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"time"

	"github.com/solstice-rtc/engine/pending"
	"github.com/solstice-rtc/engine/transport"
	"github.com/solstice-rtc/engine/wire"
)

// reconnectAdapter implements reconnect.Callbacks over an Engine,
// keeping package reconnect free of any dependency on package engine.
type reconnectAdapter struct {
	engine *Engine
}

func (a *reconnectAdapter) IsClosed() bool {
	return a.engine.isClosed()
}

// FullReconnect tears the current session down and performs a full
// join against the same URL, token, and connect/room options supplied
// to the last successful Join.
func (a *reconnectAdapter) FullReconnect(ctx context.Context) error {
	e := a.engine
	return e.run(func() error {
		e.mu.Lock()
		rawURL, token := e.url, e.token
		connect, room := e.connectOpts, e.roomOpts
		e.mu.Unlock()

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
		e.pendingTracks = pending.New()

		e.notify(Notification{Kind: NotificationFullReconnecting})

		resp, err := e.link.Join(ctx, rawURL, token, connect, room)
		if err != nil {
			return err
		}

		e.mu.Lock()
		e.participantSid = resp.Participant.Sid
		e.subscriberPrimary = resp.SubscriberPrimary
		e.mu.Unlock()

		if err := e.buildSession(ctx, resp); err != nil {
			return err
		}

		if !resp.SubscriberPrimary && e.publishingActiveLocked() {
			if err := e.publisher.Negotiate(ctx, nil); err != nil {
				e.logger.Warn("post-reconnect publisher negotiation failed", "error", err)
			}
		}
		if err := e.link.OnReadyForResponses(ctx); err != nil {
			e.logger.Debug("signaling ready-for-responses failed", "error", err)
		}
		return nil
	})
}

// SoftReconnect marks both transports for an ICE restart, resumes
// signaling via SignalLink.Reconnect, installs any fresh ICE servers,
// and renegotiates the publisher if a publish is in progress.
func (a *reconnectAdapter) SoftReconnect(ctx context.Context) error {
	e := a.engine
	return e.run(func() error {
		if e.publisher != nil {
			e.publisher.PrepareForIceRestart()
		}
		if e.subscriber != nil {
			e.subscriber.PrepareForIceRestart()
		}

		e.mu.Lock()
		rawURL, token, participantSid := e.url, e.token, e.participantSid
		e.mu.Unlock()

		resp, err := e.link.Reconnect(ctx, rawURL, token, participantSid)
		if err != nil {
			return err
		}

		if len(resp.ICEServers) > 0 {
			cfg := transport.BuildRTCConfig(wire.JoinResponse{ICEServers: resp.ICEServers}, wire.ConnectOptions{})
			if e.publisher != nil {
				_ = e.publisher.UpdateRTCConfig(cfg)
			}
			if e.subscriber != nil {
				_ = e.subscriber.UpdateRTCConfig(cfg)
			}
		}

		e.notify(Notification{Kind: NotificationSignalConnected, IsResume: true})

		if e.publishingActiveLocked() && e.publisher != nil {
			if err := e.publisher.Negotiate(ctx, nil); err != nil {
				e.logger.Debug("soft-reconnect publisher renegotiation failed", "error", err)
			}
		}
		return nil
	})
}

// WaitICEConnected polls until the primary transport reports a
// connected ICE state, or ctx is done. The non-primary transport is not
// checked.
func (a *reconnectAdapter) WaitICEConnected(ctx context.Context) error {
	e := a.engine
	ticker := e.clk.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if e.primaryTransportConnected() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *reconnectAdapter) OnAttemptSucceeded(isFullReconnect bool) {
	e := a.engine
	_ = e.run(func() error {
		e.transition(context.Background(), "connect")
		e.notify(Notification{Kind: NotificationEngineReconnected})
		e.notify(Notification{Kind: NotificationPostReconnect, IsFullReconnect: isFullReconnect})
		return nil
	})
}

// OnExhausted runs on the reconnect controller's own goroutine (never
// the engine's event loop), so it can call closeWithReason directly:
// the notify inside it fires once, with the reason the retry loop
// actually failed for, rather than the client-initiated default Close
// reports.
func (a *reconnectAdapter) OnExhausted() {
	_ = a.engine.closeWithReason(context.Background(), "failed reconnecting", wire.ReasonUnknown)
}

// primaryTransportConnected reports whether the session's primary
// transport (subscriber when the server designated subscriberPrimary,
// publisher otherwise) has reached a connected ICE state.
func (e *Engine) primaryTransportConnected() bool {
	e.mu.Lock()
	subscriberPrimary := e.subscriberPrimary
	e.mu.Unlock()

	if subscriberPrimary {
		return e.subscriber != nil && e.subscriber.IsConnected()
	}
	return e.publisher != nil && e.publisher.IsConnected()
}

func (e *Engine) publishingActiveLocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.publishingActive
}
