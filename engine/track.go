// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/solstice-rtc/engine/wire"
)

// AddTrack requests publication of a new track. If cid is empty, a
// fresh client id is generated. The call registers a pending resolver,
// forwards the request over the signal link, negotiates the publisher
// if it is not already checking or connected, and blocks until the
// server acknowledges the publish with an EventLocalTrackPublished
// (resolving the returned TrackInfo) or ctx is done.
func (e *Engine) AddTrack(ctx context.Context, cid, name string, kind wire.TrackKind) (wire.TrackInfo, error) {
	if e.isClosed() {
		return wire.TrackInfo{}, ErrClosed
	}
	if cid == "" {
		cid = uuid.NewString()
	}

	wait, err := runValue(e, func() (func(context.Context) (wire.TrackInfo, error), error) {
		wait, err := e.pendingTracks.Register(cid)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		e.publishingActive = true
		e.mu.Unlock()

		if err := e.link.SendAddTrack(ctx, cid, name, kind); err != nil {
			return nil, fmt.Errorf("engine: sending add-track request: %w", err)
		}

		if e.publisher != nil && !e.publisher.IsConnected() &&
			e.publisher.ICEConnectionState() != webrtc.ICEConnectionStateChecking {
			if err := e.publisher.Negotiate(ctx, nil); err != nil {
				e.logger.Debug("publisher negotiation for add-track failed", "cid", cid, "error", err)
			}
		}

		return wait, nil
	})
	if err != nil {
		return wire.TrackInfo{}, err
	}

	return wait(ctx)
}
