// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/solstice-rtc/engine/datachannel"
	"github.com/solstice-rtc/engine/reconnect"
	"github.com/solstice-rtc/engine/wire"
)

// SendData writes packet to the outbound channel of the given kind. If
// the session is subscriber-primary and the publisher transport is not
// yet connected, it is negotiated first (the publisher leg only comes
// up lazily in that topology, on first need). Returns
// ErrPublishUnavailable immediately if no outbound channel of that kind
// exists, or ErrConnectTimeout if one exists but does not reach the
// open state before the ICE connect timeout.
func (e *Engine) SendData(ctx context.Context, packet wire.DataPacket, kind datachannel.Kind) error {
	if e.isClosed() {
		return ErrClosed
	}

	_ = e.run(func() error {
		e.mu.Lock()
		subscriberPrimary := e.subscriberPrimary
		e.mu.Unlock()
		if subscriberPrimary && e.publisher != nil && !e.publisher.IsConnected() {
			if err := e.publisher.Negotiate(ctx, nil); err != nil {
				e.logger.Debug("negotiating publisher for data send failed", "error", err)
			}
		}
		return nil
	})

	if e.dataChannels == nil {
		return ErrPublishUnavailable
	}
	if e.dataChannels.ReadyState(kind) == webrtc.DataChannelStateClosed {
		return ErrPublishUnavailable
	}

	deadline := e.clk.Now().Add(reconnect.MaxICEConnectTimeout)
	ticker := e.clk.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for e.dataChannels.ReadyState(kind) != webrtc.DataChannelStateOpen {
		if e.clk.Now().After(deadline) {
			return ErrConnectTimeout
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-e.closed:
			return ErrClosed
		}
	}

	n, err := e.dataChannels.Send(kind, packet)
	if err == nil {
		e.metrics.DataChannelBytesObserve(kind.String(), "tx", n)
	}
	return err
}

// SyncState sends the client's current subscriber SDP, desired
// subscriptions, published tracks, and data-channel inventory to the
// server, for it to reconcile after a soft reconnect.
func (e *Engine) SyncState(ctx context.Context) error {
	if e.isClosed() {
		return ErrClosed
	}

	state, err := runValue(e, func() (wire.SyncState, error) {
		var subscriberSDP string
		if e.subscriber != nil {
			if desc := e.subscriberLocalDescription(); desc != nil {
				subscriberSDP = desc.SDP
			}
		}

		var channels []wire.DataChannelInfo
		if e.dataChannels != nil {
			channels = e.dataChannels.Info()
		}

		e.mu.Lock()
		tracks := append([]wire.TrackInfo(nil), e.publishedTracks...)
		subscription := e.subscription
		e.mu.Unlock()

		return wire.SyncState{
			SubscriberSDP:   subscriberSDP,
			Subscription:    subscription,
			PublishedTracks: tracks,
			DataChannels:    channels,
		}, nil
	})
	if err != nil {
		return err
	}

	return e.link.SendSyncState(ctx, state)
}

// ConnectionQuality returns the most recently reported connection
// quality for the participant with the given sid, and whether any has
// been reported yet.
func (e *Engine) ConnectionQuality(sid string) (wire.ConnectionQualityInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.quality[sid]
	return q, ok
}

func (e *Engine) subscriberLocalDescription() *webrtc.SessionDescription {
	var desc *webrtc.SessionDescription
	_ = e.subscriber.WithPeerConnection(func(pc *webrtc.PeerConnection) error {
		if ld := pc.LocalDescription(); ld != nil {
			copied := *ld
			desc = &copied
		}
		return nil
	})
	return desc
}
