// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine implements the top-level session coordinator: it owns
// the publisher and subscriber transports, the data-channel set, the
// pending-track registry, and the reconnect controller, translating
// signaling events into transport actions and transport/reconnect state
// into listener notifications.
//
// An Engine runs a single serialized event loop per session (mirroring
// package transport's per-transport operation queue) so that signaling
// events, transport callbacks, and caller-invoked methods never observe
// a half-applied state change. Listener notifications are dispatched on
// a second, independent queue so a consumer that calls back into the
// engine from within a notification never deadlocks against the main
// loop.
package engine
