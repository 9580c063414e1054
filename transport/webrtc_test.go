// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/solstice-rtc/engine/clock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestTransport_OfferAnswerICEConnect exercises a full local
// offer/answer exchange between a publisher-role Transport and a
// subscriber-role Transport, including buffered ICE candidates applied
// before the remote description lands.
func TestTransport_OfferAnswerICEConnect(t *testing.T) {
	var events []Event
	var publisher, subscriber *Transport
	// Relay each gathered candidate to the other transport, as the
	// engine does through the signal link.
	dispatch := func(e Event) {
		events = append(events, e)
		if e.Kind == EventICECandidate && e.Candidate != nil {
			target := subscriber
			if e.Role == RoleSubscriber {
				target = publisher
			}
			_ = target.AddICECandidate(*e.Candidate)
		}
	}

	publisher, err := New(Config{
		Role:     RolePublisher,
		Logger:   testLogger(),
		Clock:    clock.Real(),
		Dispatch: dispatch,
	})
	if err != nil {
		t.Fatalf("creating publisher transport: %v", err)
	}
	defer publisher.Close()

	subscriber, err = New(Config{
		Role:     RoleSubscriber,
		Logger:   testLogger(),
		Clock:    clock.Real(),
		Dispatch: dispatch,
	})
	if err != nil {
		t.Fatalf("creating subscriber transport: %v", err)
	}
	defer subscriber.Close()

	if _, err := publisher.CreateDataChannel("_reliable", nil); err != nil {
		t.Fatalf("creating data channel: %v", err)
	}

	offer, err := publisher.CreateOffer(nil)
	if err != nil {
		t.Fatalf("creating offer: %v", err)
	}
	if err := publisher.SetLocalDescription(offer); err != nil {
		t.Fatalf("setting local description: %v", err)
	}

	// Buffer a candidate before the remote description lands on the
	// subscriber — it must be applied only after SetRemoteDescription.
	if err := subscriber.AddICECandidate(webrtc.ICECandidateInit{Candidate: ""}); err != nil {
		t.Fatalf("buffering candidate: %v", err)
	}

	if err := subscriber.SetRemoteDescription(offer); err != nil {
		t.Fatalf("setting remote description: %v", err)
	}

	answer, err := subscriber.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("creating answer: %v", err)
	}
	if err := subscriber.SetLocalDescription(answer); err != nil {
		t.Fatalf("setting local description: %v", err)
	}
	if err := publisher.SetRemoteDescription(answer); err != nil {
		t.Fatalf("setting remote description on publisher: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for !publisher.IsConnected() || !subscriber.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatalf("ICE did not connect within 10s (pub=%s sub=%s)",
				publisher.ICEConnectionState(), subscriber.ICEConnectionState())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// TestTransport_NegotiateCoalesces verifies that concurrent Negotiate
// calls collapse into at most one trailing negotiation.
func TestTransport_NegotiateCoalesces(t *testing.T) {
	var offers int
	dispatch := func(e Event) {
		if e.Kind == EventNegotiationOffer {
			offers++
		}
	}

	tr, err := New(Config{
		Role:     RolePublisher,
		Logger:   testLogger(),
		Clock:    clock.Real(),
		Dispatch: dispatch,
	})
	if err != nil {
		t.Fatalf("creating transport: %v", err)
	}
	defer tr.Close()

	if _, err := tr.CreateDataChannel("_reliable", nil); err != nil {
		t.Fatalf("creating data channel: %v", err)
	}

	ctx := context.Background()
	done := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { done <- tr.Negotiate(ctx, nil) }()
	}
	for i := 0; i < 3; i++ {
		if err := <-done; err != nil {
			t.Fatalf("negotiate: %v", err)
		}
	}

	if err := tr.waitIdle(time.Second); err != nil {
		t.Fatalf("waitIdle: %v", err)
	}

	if offers == 0 {
		t.Fatalf("expected at least one negotiation offer, got %d", offers)
	}
	if offers > 3 {
		t.Fatalf("expected coalescing to bound offers near the caller count, got %d", offers)
	}
}

// TestTransport_CloseRejectsFurtherOperations verifies Close is
// idempotent and that operations submitted afterward fail with
// ErrClosed instead of hanging.
func TestTransport_CloseRejectsFurtherOperations(t *testing.T) {
	tr, err := New(Config{
		Role:     RoleSubscriber,
		Logger:   testLogger(),
		Clock:    clock.Real(),
		Dispatch: func(Event) {},
	})
	if err != nil {
		t.Fatalf("creating transport: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second close should be idempotent, got: %v", err)
	}

	if err := tr.AddICECandidate(webrtc.ICECandidateInit{}); err != ErrClosed {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}
