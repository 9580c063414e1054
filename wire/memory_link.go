// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"context"
	"errors"
	"sync"
)

// ErrMustFullReconnect is returned by MemoryLink.Reconnect (and any
// SignalLink implementation) when the server declines a soft reconnect
// and the caller must fall back to a full rejoin.
var ErrMustFullReconnect = errors.New("wire: server requires full reconnect")

// ErrLinkClosed is returned by command methods once the link has been
// closed.
var ErrLinkClosed = errors.New("wire: link closed")

// MemoryLink is an in-process SignalLink for tests: no network, no real
// encoding, just a script the test drives and an event channel the
// engine consumes. Behavior for Join/Reconnect is programmable via the
// exported fields; inbound events are queued with Push.
type MemoryLink struct {
	mu     sync.Mutex
	events chan Event
	closed bool

	// JoinFunc, when set, backs Join. Defaults to returning an empty
	// JoinResponse.
	JoinFunc func(ctx context.Context, url, token string, connect ConnectOptions, room RoomOptions) (JoinResponse, error)

	// ReconnectFunc, when set, backs Reconnect. Defaults to returning
	// ErrMustFullReconnect.
	ReconnectFunc func(ctx context.Context, url, token, participantSid string) (ReconnectResponse, error)

	// Sent records every command the engine issued, in order, so tests
	// can assert on signaling-side ordering.
	Sent []SentCommand
}

// SentCommand records one command issued through a MemoryLink.
type SentCommand struct {
	Name string
	CID  string // populated for SendAddTrack (cid) and SendMuteTrack (track sid)
}

// NewMemoryLink creates a MemoryLink with a buffered event channel.
func NewMemoryLink() *MemoryLink {
	return &MemoryLink{
		events: make(chan Event, 256),
	}
}

// Push enqueues an event for the engine to consume. Safe to call
// concurrently with engine event processing; after Close the event is
// dropped.
func (l *MemoryLink) Push(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.events <- event
}

func (l *MemoryLink) Events() <-chan Event { return l.events }

func (l *MemoryLink) Join(ctx context.Context, url, token string, connect ConnectOptions, room RoomOptions) (JoinResponse, error) {
	if l.JoinFunc != nil {
		return l.JoinFunc(ctx, url, token, connect, room)
	}
	return JoinResponse{}, nil
}

func (l *MemoryLink) Reconnect(ctx context.Context, url, token, participantSid string) (ReconnectResponse, error) {
	if l.ReconnectFunc != nil {
		return l.ReconnectFunc(ctx, url, token, participantSid)
	}
	return ReconnectResponse{}, ErrMustFullReconnect
}

func (l *MemoryLink) OnReadyForResponses(ctx context.Context) error {
	return l.record("ready_for_responses", "")
}

func (l *MemoryLink) OnPCConnected(ctx context.Context) error {
	return l.record("pc_connected", "")
}

func (l *MemoryLink) SendTrickle(ctx context.Context, candidate string, target TransportTarget) error {
	return l.record("trickle", "")
}

func (l *MemoryLink) SendAddTrack(ctx context.Context, cid, name string, kind TrackKind) error {
	return l.record("add_track", cid)
}

func (l *MemoryLink) SendMuteTrack(ctx context.Context, sid string, muted bool) error {
	return l.record("mute_track", sid)
}

func (l *MemoryLink) SendUpdateSubscriptionPermissions(ctx context.Context, allParticipants bool) error {
	return l.record("update_subscription_permissions", "")
}

func (l *MemoryLink) SendOffer(ctx context.Context, sdp string) error {
	return l.record("offer", "")
}

func (l *MemoryLink) SendAnswer(ctx context.Context, sdp string) error {
	return l.record("answer", "")
}

func (l *MemoryLink) SendSyncState(ctx context.Context, state SyncState) error {
	return l.record("sync_state", "")
}

func (l *MemoryLink) Close(ctx context.Context, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.events)
	return nil
}

func (l *MemoryLink) record(name, cid string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	l.Sent = append(l.Sent, SentCommand{Name: name, CID: cid})
	return nil
}
