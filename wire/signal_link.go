// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "context"

// SignalLink abstracts the bidirectional control channel to the
// signaling server. The engine issues commands on it and receives a
// stream of typed events in return; SignalLink itself owns the actual
// wire transport (WebSocket, SDK RPC, whatever the deployment uses) and
// is assumed to guarantee in-order delivery and thread-safe sequential
// command submission from a single caller — the engine upholds that
// single-caller discipline, it does not enforce it here.
type SignalLink interface {
	// Join establishes a new session against url using token, returning
	// the server's negotiated room/connection parameters.
	Join(ctx context.Context, url, token string, connect ConnectOptions, room RoomOptions) (JoinResponse, error)

	// Reconnect attempts to resume an existing participant session
	// without a full rejoin. Returns ErrMustFullReconnect if the server
	// declines the soft path.
	Reconnect(ctx context.Context, url, token, participantSid string) (ReconnectResponse, error)

	// OnReadyForResponses tells the server the client has finished
	// local setup and is ready to receive further signaling events.
	OnReadyForResponses(ctx context.Context) error

	// OnPCConnected tells the server the primary transport reached the
	// connected ICE state.
	OnPCConnected(ctx context.Context) error

	// SendTrickle forwards a locally-gathered ICE candidate from the
	// given transport to the server, the outbound counterpart of the
	// EventTrickle the link delivers inbound.
	SendTrickle(ctx context.Context, candidate string, target TransportTarget) error

	SendAddTrack(ctx context.Context, cid, name string, kind TrackKind) error
	SendMuteTrack(ctx context.Context, sid string, muted bool) error
	SendUpdateSubscriptionPermissions(ctx context.Context, allParticipants bool) error

	// SendOffer forwards a publisher-side offer to the server, produced
	// by the publisher transport's negotiate step.
	SendOffer(ctx context.Context, sdp string) error
	SendAnswer(ctx context.Context, sdp string) error
	SendSyncState(ctx context.Context, state SyncState) error

	// Close tears down the link. reason is advisory, for server-side
	// diagnostics; it does not change client-side behavior.
	Close(ctx context.Context, reason string) error

	// Events returns the channel of inbound events. Closed once the
	// link itself is closed; the engine must not call any Send* method
	// after the channel closes.
	Events() <-chan Event
}

// EventKind discriminates the variants carried by Event.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventAnswer
	EventOffer
	EventTrickle
	EventLocalTrackPublished
	EventLocalTrackUnpublished
	EventParticipantUpdate
	EventSpeakersChanged
	EventActiveSpeakers
	EventConnectionQuality
	EventRoomUpdate
	EventMuteChanged
	EventStreamStateUpdate
	EventSubscribedQualityUpdate
	EventSubscriptionPermissionUpdate
	EventRefreshToken
	EventLeave
	EventClose
	EventError
)

// Event is a tagged union of every message SignalLink can deliver. Only
// the field matching Kind is populated.
type Event struct {
	Kind EventKind

	SDP             string          // EventAnswer, EventOffer
	Candidate       string          // EventTrickle
	Target          TransportTarget // EventTrickle
	CID             string          // EventLocalTrackPublished
	TrackInfo       TrackInfo       // EventLocalTrackPublished
	Participants    []ParticipantInfo
	Speakers        []SpeakerUpdate
	Quality         []ConnectionQualityInfo
	MuteSid         string
	MuteState       bool
	StreamStates    []StreamStateInfo
	NewToken        string
	Leave           LeaveEvent
	Close           CloseEvent
	Err             error
}

// ConnectOptions carries caller-supplied, immutable-once-set connection
// preferences. Captured verbatim into the session at join time.
type ConnectOptions struct {
	ReconnectType ReconnectType
	ICEServers    []ICEServer // overrides server-provided when non-empty
	RTCConfig     *RTCConfigOverride
	ForceRelay    bool
}

// RTCConfigOverride lets a caller replace the engine's derived RTC
// configuration wholesale. When set, its ICEServers field is treated as
// the caller's ICE server list for the merge rule in transport.BuildRTCConfig.
type RTCConfigOverride struct {
	ICEServers []ICEServer
}

// RoomOptions carries caller-supplied, immutable-once-set room join
// preferences.
type RoomOptions struct {
	AutoSubscribe bool
	Metadata      string
}
