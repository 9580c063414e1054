// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport wraps a single pion WebRTC peer connection (either
// the publisher or the subscriber leg of a session) behind a serialized
// operation queue.
//
// Every operation that touches the underlying *webrtc.PeerConnection —
// SetRemoteDescription, CreateOffer/CreateAnswer, AddICECandidate,
// Close, UpdateRTCConfig, WithPeerConnection — runs on a single
// dedicated worker goroutine per [Transport]. Concurrent callers
// serialize against each other and never observe a partially-applied
// state change; this is the explicit single-consumer work queue called
// for in the surrounding engine's concurrency model, rather than a bare
// mutex around the native object.
//
// [BuildRTCConfig] derives the effective ICE/RTC configuration for a
// session: the caller's ICE servers win when present, otherwise the
// server's, otherwise a small built-in default set.
package transport
