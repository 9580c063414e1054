// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/solstice-rtc/engine/clock"
	"github.com/solstice-rtc/engine/datachannel"
	"github.com/solstice-rtc/engine/transport"
	"github.com/solstice-rtc/engine/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not satisfied within %s", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngine_JoinPublisherPrimaryNegotiatesAndBuildsSession(t *testing.T) {
	link := wire.NewMemoryLink()
	link.JoinFunc = func(ctx context.Context, url, token string, connect wire.ConnectOptions, room wire.RoomOptions) (wire.JoinResponse, error) {
		return wire.JoinResponse{SubscriberPrimary: false, Participant: wire.ParticipantInfo{Sid: "PA_1"}}, nil
	}

	eng, err := New(Config{SignalLink: link, Logger: testLogger(), Clock: clock.Real()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close(context.Background(), "test teardown")

	if err := eng.Join(context.Background(), "wss://rtc.example.test/signal", "tok", wire.ConnectOptions{}, wire.RoomOptions{}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if got := eng.state(); got != stateConnecting {
		t.Fatalf("expected state %q after join without ICE connect, got %q", stateConnecting, got)
	}

	waitFor(t, time.Second, func() bool {
		for _, s := range link.Sent {
			if s.Name == "offer" {
				return true
			}
		}
		return false
	})

	var sawReady bool
	for _, s := range link.Sent {
		if s.Name == "ready_for_responses" {
			sawReady = true
		}
	}
	if !sawReady {
		t.Fatalf("expected ready_for_responses to have been sent, got %+v", link.Sent)
	}
}

func TestEngine_JoinRejectsInvalidURL(t *testing.T) {
	link := wire.NewMemoryLink()
	eng, err := New(Config{SignalLink: link, Logger: testLogger(), Clock: clock.Real()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close(context.Background(), "test teardown")

	err = eng.Join(context.Background(), "", "tok", wire.ConnectOptions{}, wire.RoomOptions{})
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}

func TestEngine_JoinRejectedOnceClosed(t *testing.T) {
	link := wire.NewMemoryLink()
	eng, err := New(Config{SignalLink: link, Logger: testLogger(), Clock: clock.Real()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.Close(context.Background(), "done"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := eng.Join(context.Background(), "wss://rtc.example.test/signal", "tok", wire.ConnectOptions{}, wire.RoomOptions{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	link := wire.NewMemoryLink()
	eng, err := New(Config{SignalLink: link, Logger: testLogger(), Clock: clock.Real()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := eng.Join(context.Background(), "wss://rtc.example.test/signal", "tok", wire.ConnectOptions{}, wire.RoomOptions{}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if err := eng.Close(context.Background(), "bye"); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := eng.Close(context.Background(), "bye again"); err != nil {
		t.Fatalf("second close should be idempotent, got: %v", err)
	}

	if got := eng.state(); got != stateDisconnected {
		t.Fatalf("expected state %q after close, got %q", stateDisconnected, got)
	}
}

func TestEngine_AddTrackResolvesOnLocalTrackPublished(t *testing.T) {
	link := wire.NewMemoryLink()
	eng, err := New(Config{SignalLink: link, Logger: testLogger(), Clock: clock.Real()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close(context.Background(), "test teardown")

	if err := eng.Join(context.Background(), "wss://rtc.example.test/signal", "tok", wire.ConnectOptions{}, wire.RoomOptions{}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	type result struct {
		info wire.TrackInfo
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		info, err := eng.AddTrack(context.Background(), "cid-1", "mic", wire.TrackKindAudio)
		resultCh <- result{info, err}
	}()

	waitFor(t, time.Second, func() bool { return eng.pendingTracks.Pending("cid-1") })

	link.Push(wire.Event{
		Kind:      wire.EventLocalTrackPublished,
		CID:       "cid-1",
		TrackInfo: wire.TrackInfo{Sid: "TR_abc", Name: "mic", Kind: wire.TrackKindAudio},
	})

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("AddTrack: %v", res.err)
		}
		if res.info.Sid != "TR_abc" {
			t.Fatalf("expected resolved TrackInfo.Sid %q, got %q", "TR_abc", res.info.Sid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AddTrack to resolve")
	}
}

func TestEngine_AddTrackRejectsDuplicateCID(t *testing.T) {
	link := wire.NewMemoryLink()
	eng, err := New(Config{SignalLink: link, Logger: testLogger(), Clock: clock.Real()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close(context.Background(), "test teardown")

	if err := eng.Join(context.Background(), "wss://rtc.example.test/signal", "tok", wire.ConnectOptions{}, wire.RoomOptions{}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	resultCh := make(chan error, 1)
	go func() {
		_, err := eng.AddTrack(context.Background(), "cid-dup", "mic", wire.TrackKindAudio)
		resultCh <- err
	}()
	waitFor(t, time.Second, func() bool { return eng.pendingTracks.Pending("cid-dup") })

	if _, err := eng.AddTrack(context.Background(), "cid-dup", "mic", wire.TrackKindAudio); !errors.Is(err, ErrDuplicatePublication) {
		t.Fatalf("expected ErrDuplicatePublication, got %v", err)
	}

	link.Push(wire.Event{Kind: wire.EventLocalTrackPublished, CID: "cid-dup", TrackInfo: wire.TrackInfo{Sid: "TR_dup"}})
	<-resultCh
}

func TestEngine_TransportDisconnectOnPrimaryTriggersReconnect(t *testing.T) {
	link := wire.NewMemoryLink()
	eng, err := New(Config{SignalLink: link, Logger: testLogger(), Clock: clock.Real()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close(context.Background(), "test teardown")

	// Publisher-primary: SubscriberPrimary defaults to false.
	if err := eng.Join(context.Background(), "wss://rtc.example.test/signal", "tok", wire.ConnectOptions{}, wire.RoomOptions{}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	eng.onTransportEvent(transport.Event{
		Kind:               transport.EventICEConnectionStateChange,
		Role:               transport.RolePublisher,
		ICEConnectionState: webrtc.ICEConnectionStateConnected,
	})
	waitFor(t, time.Second, func() bool { return eng.state() == stateConnected })

	eng.onTransportEvent(transport.Event{
		Kind:               transport.EventICEConnectionStateChange,
		Role:               transport.RolePublisher,
		ICEConnectionState: webrtc.ICEConnectionStateFailed,
	})
	waitFor(t, time.Second, func() bool { return eng.state() == stateReconnecting })
}

// TestEngine_ReconnectSucceedsWithoutRefiringEngineConnected drives a
// RECONNECTING->CONNECTED transition (an ICE reconnect racing ahead of
// the reconnect controller's own success callback) and asserts the
// resulting notification sequence is EngineReconnecting ->
// EngineReconnected -> PostReconnect, with no further EngineConnected
// notification — that notification belongs solely to the initial
// CONNECTING->CONNECTED transition. This test drives the state
// transitions and adapter callbacks directly rather than through the
// reconnect controller's own retry loop, so it stays deterministic and
// fast.
func TestEngine_ReconnectSucceedsWithoutRefiringEngineConnected(t *testing.T) {
	link := wire.NewMemoryLink()
	notifications := make(chan Notification, 16)
	eng, err := New(Config{
		SignalLink: link,
		Logger:     testLogger(),
		Clock:      clock.Real(),
		Listener:   func(n Notification) { notifications <- n },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close(context.Background(), "test teardown")

	if err := eng.Join(context.Background(), "wss://rtc.example.test/signal", "tok", wire.ConnectOptions{}, wire.RoomOptions{}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	drainUntil(t, notifications, NotificationJoinResponse, time.Second)

	eng.onTransportEvent(transport.Event{
		Kind:               transport.EventICEConnectionStateChange,
		Role:               transport.RolePublisher,
		ICEConnectionState: webrtc.ICEConnectionStateConnected,
	})
	drainUntil(t, notifications, NotificationEngineConnected, time.Second)
	waitFor(t, time.Second, func() bool { return eng.state() == stateConnected })

	var transitioned bool
	if err := eng.run(func() error {
		transitioned = eng.transition(context.Background(), "disconnect_trigger")
		eng.notify(Notification{Kind: NotificationEngineReconnecting})
		return nil
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !transitioned {
		t.Fatalf("expected disconnect_trigger to succeed from %q", eng.state())
	}
	drainUntil(t, notifications, NotificationEngineReconnecting, time.Second)

	// An ICE reconnect lands on the primary transport before the
	// reconnect controller itself declares the attempt done. It must
	// re-enter CONNECTED without re-firing EngineConnected.
	eng.onTransportEvent(transport.Event{
		Kind:               transport.EventICEConnectionStateChange,
		Role:               transport.RolePublisher,
		ICEConnectionState: webrtc.ICEConnectionStateConnected,
	})
	waitFor(t, time.Second, func() bool { return eng.state() == stateConnected })

	(&reconnectAdapter{engine: eng}).OnAttemptSucceeded(false)

	n := drainUntil(t, notifications, NotificationEngineReconnected, time.Second)
	if n.Kind != NotificationEngineReconnected {
		t.Fatalf("unexpected notification: %+v", n)
	}
	n = drainUntil(t, notifications, NotificationPostReconnect, time.Second)
	if n.IsFullReconnect {
		t.Fatalf("expected IsFullReconnect false, got true")
	}

	select {
	case n := <-notifications:
		if n.Kind == NotificationEngineConnected {
			t.Fatalf("EngineConnected must not fire again on a reconnect success, got %+v", n)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngine_SendDataWithoutChannelFailsImmediately(t *testing.T) {
	link := wire.NewMemoryLink()
	eng, err := New(Config{SignalLink: link, Logger: testLogger(), Clock: clock.Real()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close(context.Background(), "test teardown")

	err = eng.SendData(context.Background(), wire.DataPacket{Kind: wire.DataPacketUser, User: &wire.UserPacket{Payload: []byte("hi")}}, datachannel.Reliable)
	if !errors.Is(err, ErrPublishUnavailable) {
		t.Fatalf("expected ErrPublishUnavailable, got %v", err)
	}
}

func TestEngine_ConnectionQualityReflectsLatestReport(t *testing.T) {
	link := wire.NewMemoryLink()
	notifications := make(chan Notification, 16)
	eng, err := New(Config{
		SignalLink: link,
		Logger:     testLogger(),
		Clock:      clock.Real(),
		Listener:   func(n Notification) { notifications <- n },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close(context.Background(), "test teardown")

	if err := eng.Join(context.Background(), "wss://rtc.example.test/signal", "tok", wire.ConnectOptions{}, wire.RoomOptions{}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	drainUntil(t, notifications, NotificationJoinResponse, time.Second)

	if _, ok := eng.ConnectionQuality("PA_2"); ok {
		t.Fatalf("expected no quality report before any EventConnectionQuality")
	}

	const qualityGood = 2
	link.Push(wire.Event{Kind: wire.EventConnectionQuality, Quality: []wire.ConnectionQualityInfo{{Sid: "PA_2", Quality: qualityGood}}})
	drainUntil(t, notifications, NotificationConnectionQuality, time.Second)

	q, ok := eng.ConnectionQuality("PA_2")
	if !ok || q.Quality != qualityGood {
		t.Fatalf("expected quality %d for PA_2, got %+v (ok=%v)", qualityGood, q, ok)
	}
}

func TestEngine_MuteChangedUpdatesStateAndNotifies(t *testing.T) {
	link := wire.NewMemoryLink()
	notifications := make(chan Notification, 16)
	eng, err := New(Config{
		SignalLink: link,
		Logger:     testLogger(),
		Clock:      clock.Real(),
		Listener:   func(n Notification) { notifications <- n },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close(context.Background(), "test teardown")

	if err := eng.Join(context.Background(), "wss://rtc.example.test/signal", "tok", wire.ConnectOptions{}, wire.RoomOptions{}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	drainUntil(t, notifications, NotificationJoinResponse, time.Second)

	link.Push(wire.Event{Kind: wire.EventMuteChanged, MuteSid: "TR_1", MuteState: true})

	n := drainUntil(t, notifications, NotificationRemoteMuteChanged, time.Second)
	if n.MuteSid != "TR_1" || !n.MuteState {
		t.Fatalf("unexpected notification payload: %+v", n)
	}
}

func TestEngine_ParticipantUpdateNotifiesListener(t *testing.T) {
	link := wire.NewMemoryLink()
	notifications := make(chan Notification, 16)
	eng, err := New(Config{
		SignalLink: link,
		Logger:     testLogger(),
		Clock:      clock.Real(),
		Listener:   func(n Notification) { notifications <- n },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close(context.Background(), "test teardown")

	if err := eng.Join(context.Background(), "wss://rtc.example.test/signal", "tok", wire.ConnectOptions{}, wire.RoomOptions{}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	drainUntil(t, notifications, NotificationJoinResponse, time.Second)

	link.Push(wire.Event{Kind: wire.EventParticipantUpdate, Participants: []wire.ParticipantInfo{{Sid: "PA_2", Identity: "bob"}}})

	n := drainUntil(t, notifications, NotificationUpdateParticipants, time.Second)
	if len(n.Participants) != 1 || n.Participants[0].Identity != "bob" {
		t.Fatalf("unexpected notification payload: %+v", n)
	}
}

func TestEngine_SyncStateSendsPayload(t *testing.T) {
	link := wire.NewMemoryLink()
	eng, err := New(Config{SignalLink: link, Logger: testLogger(), Clock: clock.Real()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close(context.Background(), "test teardown")

	if err := eng.Join(context.Background(), "wss://rtc.example.test/signal", "tok", wire.ConnectOptions{}, wire.RoomOptions{}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if err := eng.SyncState(context.Background()); err != nil {
		t.Fatalf("SyncState: %v", err)
	}

	var sawSync bool
	for _, s := range link.Sent {
		if s.Name == "sync_state" {
			sawSync = true
		}
	}
	if !sawSync {
		t.Fatalf("expected sync_state to have been sent, got %+v", link.Sent)
	}
}

// drainUntil reads notifications until one of the given kind arrives or
// timeout elapses, failing the test on timeout.
func drainUntil(t *testing.T, ch chan Notification, kind NotificationKind, timeout time.Duration) Notification {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case n := <-ch:
			if n.Kind == kind {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for notification kind %v", kind)
		}
	}
}
