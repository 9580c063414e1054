// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the payload and event shapes exchanged with the
// signaling server. The engine treats the actual wire codec (SDK/RPC
// framing, protobuf marshaling) as an external collaborator it does not
// implement; these types are the Go-native stand-in for that schema so
// the rest of the module has something concrete to compile and test
// against.
package wire

// TrackKind identifies the media kind of a published track.
type TrackKind int

const (
	TrackKindUnknown TrackKind = iota
	TrackKindAudio
	TrackKindVideo
	TrackKindData
)

// TransportTarget identifies which of the two peer connections a trickled
// ICE candidate or renegotiation applies to.
type TransportTarget int

const (
	TargetPublisher TransportTarget = iota
	TargetSubscriber
)

// ReconnectType selects the reconnection strategy the controller uses.
type ReconnectType int

const (
	// ReconnectDefault attempts a soft reconnect first, falling back to
	// full reconnects on every subsequent attempt.
	ReconnectDefault ReconnectType = iota
	ReconnectForceSoft
	ReconnectForceFull
)

// DisconnectReason classifies why the engine ended up disconnected.
type DisconnectReason int

const (
	ReasonUnknown DisconnectReason = iota
	ReasonClientInitiated
	ReasonServerShutdown
	ReasonSignalClose
)

// ICEServer mirrors the subset of RTCIceServer fields the signaling
// server can hand down at join/reconnect time.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// ParticipantInfo describes a room participant as reported by the server.
type ParticipantInfo struct {
	Sid      string
	Identity string
	Tracks   []TrackInfo
}

// TrackInfo is the server's canonical description of a published track,
// returned in response to an AddTrack request.
type TrackInfo struct {
	Sid   string
	Name  string
	Kind  TrackKind
	Muted bool
}

// JoinResponse is returned by SignalLink.Join on a successful join.
type JoinResponse struct {
	SubscriberPrimary bool
	ForceRelay        bool
	ICEServers        []ICEServer
	Participant       ParticipantInfo
	OtherParticipants []ParticipantInfo
}

// ReconnectResponse is returned by SignalLink.Reconnect on a successful
// soft-reconnect signaling round trip. An ErrMustFullReconnect error
// (defined in this package) alongside a zero ReconnectResponse signals
// the server rejected the soft path.
type ReconnectResponse struct {
	ICEServers []ICEServer
}

// DataPacketKind discriminates the variants carried by DataPacket.
type DataPacketKind int

const (
	DataPacketUnknown DataPacketKind = iota
	DataPacketUser
	DataPacketSpeaker
)

// SpeakerUpdate reports the current active-speaker levels.
type SpeakerUpdate struct {
	Sid    string
	Level  float32
	Active bool
}

// UserPacket carries an application payload published over a data channel.
type UserPacket struct {
	ParticipantSid string
	Payload        []byte
	Topic          string
}

// DataPacket is the envelope every data-channel message is framed as.
// Kind discriminates which of the payload fields is populated; unknown
// kinds and malformed bytes are dropped by the engine's packet parser.
type DataPacket struct {
	Kind    DataPacketKind
	User    *UserPacket
	Speaker *SpeakerUpdate
}

// DataChannelInfo identifies an outbound data channel for inclusion in a
// sync-state payload.
type DataChannelInfo struct {
	ID    uint16
	Label string
}

// UpdateSubscription is sent by the client as part of sync state to
// re-assert desired subscriptions after a reconnect.
type UpdateSubscription struct {
	TrackSids []string
	Subscribe bool
}

// SyncState is the payload the engine sends after a soft reconnect so the
// server can reconcile subscriptions and track publication state.
type SyncState struct {
	SubscriberSDP   string
	Subscription    UpdateSubscription
	PublishedTracks []TrackInfo
	DataChannels    []DataChannelInfo
}

// ConnectionQualityInfo reports the server's per-participant connection
// quality sample.
type ConnectionQualityInfo struct {
	Sid     string
	Quality int
	Score   float32
}

// StreamStateInfo reports per-track stream (paused/active) changes.
type StreamStateInfo struct {
	TrackSid string
	Active   bool
}

// LeaveEvent carries the server's instruction on whether the client may
// attempt to reconnect after being asked to leave.
type LeaveEvent struct {
	CanReconnect bool
	Reason       DisconnectReason
}

// CloseEvent reports that the signal link itself closed.
type CloseEvent struct {
	Reason string
	Code   int
}
