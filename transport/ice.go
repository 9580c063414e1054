// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/solstice-rtc/engine/wire"
)

// defaultICEServers is used when neither the caller nor the server
// supplies any ICE servers.
var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// BuildRTCConfig derives the effective webrtc.Configuration for a
// session: the caller's ICE servers win outright when non-empty;
// otherwise the server's list is used; otherwise the built-in default
// (see DESIGN.md for the resolution of the merge order). forceRelay,
// when set by either the server or the caller's ConnectOptions,
// restricts candidate gathering to relay candidates. SDP semantics are
// fixed to unified-plan.
func BuildRTCConfig(join wire.JoinResponse, connect wire.ConnectOptions) webrtc.Configuration {
	callerServers := connect.ICEServers
	if connect.RTCConfig != nil && len(connect.RTCConfig.ICEServers) > 0 {
		callerServers = connect.RTCConfig.ICEServers
	}

	servers := dedupServers(toPionServers(callerServers))
	if len(servers) == 0 {
		servers = dedupServers(toPionServers(join.ICEServers))
	}
	if len(servers) == 0 {
		servers = defaultICEServers
	}

	policy := webrtc.ICETransportPolicyAll
	if join.ForceRelay || connect.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
		SDPSemantics:       webrtc.SDPSemanticsUnifiedPlan,
	}
}

func toPionServers(servers []wire.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

// dedupServers removes structurally equal entries, preserving order of
// first occurrence.
func dedupServers(servers []webrtc.ICEServer) []webrtc.ICEServer {
	if len(servers) < 2 {
		return servers
	}
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, candidate := range servers {
		if !containsServer(out, candidate) {
			out = append(out, candidate)
		}
	}
	return out
}

func containsServer(servers []webrtc.ICEServer, target webrtc.ICEServer) bool {
	for _, s := range servers {
		if s.Username == target.Username &&
			s.Credential == target.Credential &&
			stringSlicesEqual(s.URLs, target.URLs) {
			return true
		}
	}
	return false
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
