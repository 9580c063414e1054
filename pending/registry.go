// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

// Package pending implements the engine's PendingTrackRegistry: a
// client-id-keyed map of one-shot resolvers correlating a local publish
// request with the server's acknowledgment.
package pending

import (
	"context"
	"errors"
	"sync"

	"github.com/solstice-rtc/engine/wire"
)

// ErrDuplicatePublication is returned by Register when cid already has
// a resolver pending.
var ErrDuplicatePublication = errors.New("pending: cid already has a publish in flight")

// ErrCancelled is the error every outstanding resolver receives when
// the registry is cleared by Close.
var ErrCancelled = errors.New("pending: registry closed")

// Registry maps cid → one-shot resolver. Insertion rejects duplicates;
// each resolver is completed exactly once, either by Resolve or by
// Close cancelling every outstanding waiter.
type Registry struct {
	mu        sync.Mutex
	resolvers map[string]chan result
	closed    bool
}

type result struct {
	info wire.TrackInfo
	err  error
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{resolvers: make(map[string]chan result)}
}

// Register adds a resolver for cid and returns a function the caller
// blocks on to obtain the eventual TrackInfo. Fails with
// ErrDuplicatePublication if cid is already pending.
func (r *Registry) Register(cid string) (wait func(ctx context.Context) (wire.TrackInfo, error), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrCancelled
	}
	if _, exists := r.resolvers[cid]; exists {
		return nil, ErrDuplicatePublication
	}

	ch := make(chan result, 1)
	r.resolvers[cid] = ch

	wait = func(ctx context.Context) (wire.TrackInfo, error) {
		select {
		case res := <-ch:
			return res.info, res.err
		case <-ctx.Done():
			r.remove(cid)
			return wire.TrackInfo{}, ctx.Err()
		}
	}
	return wait, nil
}

// Resolve completes the resolver for cid with info, removing it from
// the map. A cid with no pending resolver is a no-op (the server
// acknowledged a publish the client is no longer waiting on, e.g. after
// a timeout already removed it).
func (r *Registry) Resolve(cid string, info wire.TrackInfo) {
	r.mu.Lock()
	ch, exists := r.resolvers[cid]
	if exists {
		delete(r.resolvers, cid)
	}
	r.mu.Unlock()

	if exists {
		ch <- result{info: info}
	}
}

func (r *Registry) remove(cid string) {
	r.mu.Lock()
	delete(r.resolvers, cid)
	r.mu.Unlock()
}

// Pending reports whether cid currently has a resolver outstanding.
func (r *Registry) Pending(cid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.resolvers[cid]
	return exists
}

// Close cancels every outstanding resolver with ErrCancelled and
// clears the map. Subsequent Register calls fail with ErrCancelled.
func (r *Registry) Close() {
	r.mu.Lock()
	resolvers := r.resolvers
	r.resolvers = make(map[string]chan result)
	r.closed = true
	r.mu.Unlock()

	for _, ch := range resolvers {
		ch <- result{err: ErrCancelled}
	}
}
