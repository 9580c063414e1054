// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package pending

import (
	"context"
	"testing"
	"time"

	"github.com/solstice-rtc/engine/wire"
)

func TestRegistry_ResolveCompletesWaiter(t *testing.T) {
	r := New()
	wait, err := r.Register("c1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	go r.Resolve("c1", wire.TrackInfo{Sid: "TR_1", Name: "cam"})

	info, err := wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if info.Sid != "TR_1" {
		t.Fatalf("expected TR_1, got %s", info.Sid)
	}
	if r.Pending("c1") {
		t.Fatalf("expected c1 to be removed after resolve")
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := New()
	if _, err := r.Register("c1"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := r.Register("c1"); err != ErrDuplicatePublication {
		t.Fatalf("expected ErrDuplicatePublication, got %v", err)
	}
}

func TestRegistry_CloseCancelsOutstanding(t *testing.T) {
	r := New()
	wait, err := r.Register("c1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := wait(context.Background())
		done <- err
	}()

	r.Close()

	select {
	case err := <-done:
		if err != ErrCancelled {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter did not observe close")
	}

	if _, err := r.Register("c2"); err != ErrCancelled {
		t.Fatalf("expected register after close to fail, got %v", err)
	}
}

func TestRegistry_ContextCancelRemovesWaiter(t *testing.T) {
	r := New()
	wait, err := r.Register("c1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := wait(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if r.Pending("c1") {
		t.Fatalf("expected cid to be removed after context cancellation")
	}
}
