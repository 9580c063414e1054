// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/pion/webrtc/v4"

	"github.com/solstice-rtc/engine/wire"
)

// NotificationKind discriminates the variants carried by Notification.
type NotificationKind int

const (
	NotificationUnknown NotificationKind = iota
	NotificationEngineConnected
	NotificationEngineReconnecting
	NotificationEngineReconnected
	NotificationEngineDisconnected
	NotificationFailToConnect
	NotificationJoinResponse
	NotificationAddTrack
	NotificationUpdateParticipants
	NotificationActiveSpeakersUpdate
	NotificationSpeakersChanged
	NotificationConnectionQuality
	NotificationRemoteMuteChanged
	NotificationRoomUpdate
	NotificationUserPacket
	NotificationStreamStateUpdate
	NotificationSubscribedQualityUpdate
	NotificationSubscriptionPermissionUpdate
	NotificationSignalConnected
	NotificationFullReconnecting
	NotificationPostReconnect
	NotificationLocalTrackUnpublished
)

// Notification is a tagged union of every event the engine delivers to
// its listener. Only the fields relevant to Kind are populated. This is
// the composition-based replacement for a subclassed listener interface:
// the engine holds a single Listener function, not a bag of per-event
// interface methods.
type Notification struct {
	Kind NotificationKind

	Err               error             // NotificationFailToConnect
	Reason            wire.DisconnectReason // NotificationEngineDisconnected
	JoinResponse      wire.JoinResponse // NotificationJoinResponse
	Track             *webrtc.TrackRemote  // NotificationAddTrack
	Receiver          *webrtc.RTPReceiver  // NotificationAddTrack
	Participants      []wire.ParticipantInfo
	Speakers          []wire.SpeakerUpdate
	Quality           []wire.ConnectionQualityInfo
	MuteSid           string
	MuteState         bool
	StreamStates      []wire.StreamStateInfo
	UserPacket        wire.UserPacket
	IsResume          bool // NotificationSignalConnected
	IsFullReconnect   bool // NotificationPostReconnect
	TrackSid          string
}

// Listener receives engine Notifications. Implementations must not
// block; the engine dispatches on a dedicated goroutine so a listener
// that calls back into the engine from inside a Notification never
// deadlocks, but a slow listener still backs up that one dispatch queue.
type Listener func(Notification)
