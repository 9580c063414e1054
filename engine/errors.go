// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"fmt"

	"github.com/solstice-rtc/engine/pending"
	"github.com/solstice-rtc/engine/transport"
)

// ErrDuplicatePublication is returned by AddTrack when cid already has a
// publish in flight. It is pending.ErrDuplicatePublication under the
// hood; re-exported so callers need only import package engine.
var ErrDuplicatePublication = pending.ErrDuplicatePublication

// ErrPublishUnavailable is returned by SendData when no outbound data
// channel of the requested kind exists.
var ErrPublishUnavailable = errors.New("engine: no data channel available for that kind")

// ErrConnectTimeout is returned by SendData when the target channel
// never reaches the open state within the connect timeout.
var ErrConnectTimeout = errors.New("engine: timed out waiting for data channel to open")

// ErrReconnectExhausted names the error kind for a reconnect loop that
// gave up. The engine does not return or record it: exhaustion surfaces
// only as a NotificationEngineDisconnected with wire.ReasonUnknown.
var ErrReconnectExhausted = errors.New("engine: reconnect attempts exhausted")

// ErrSignalClosed names the error kind for a disconnect driven by the
// signal link itself. The engine does not return or record it: an
// EventClose starts a reconnect, and a closed event channel closes the
// engine with wire.ReasonSignalClose.
var ErrSignalClosed = errors.New("engine: signal link closed")

// ErrFailToConnect wraps any failure encountered before the engine ever
// reaches CONNECTED for the first time; surfaced via NotificationFailToConnect
// rather than NotificationEngineDisconnected.
var ErrFailToConnect = errors.New("engine: failed to connect")

// ErrClosed is returned by engine methods invoked after Close.
var ErrClosed = errors.New("engine: closed")

// ErrInvalidURL is returned by Join when url is empty or fails to parse.
var ErrInvalidURL = errors.New("engine: invalid signaling url")

// SDPApplyError is an alias for transport.SdpApplyError, so callers can
// errors.As against a single type whichever package they import. The
// engine itself logs SDP rejections from either transport rather than
// returning them.
type SDPApplyError = transport.SdpApplyError

// wrapf is a small helper keeping propagation boundaries consistent:
// every error crossing out of the engine package is wrapped with %w so
// callers can unwrap to the semantic sentinel without string matching.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
