// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

// Package datachannel implements the engine's DataChannelSet: the pair
// of logical channels (reliable, lossy) that carry user and speaker-update
// traffic between client and server, in each direction.
//
// Outbound channels are created on the publisher transport at
// construction time. Inbound channels arrive lazily via the subscriber
// transport's "datachannel" event and are recognized by label; unknown
// labels are discarded.
package datachannel

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/solstice-rtc/engine/wire"
)

// Kind identifies one of the two logical channels.
type Kind int

const (
	Reliable Kind = iota
	Lossy
)

func (k Kind) String() string {
	if k == Lossy {
		return LossyLabel
	}
	return ReliableLabel
}

// Channel labels, fixed by the signaling protocol on both ends.
const (
	ReliableLabel = "_reliable"
	LossyLabel    = "_lossy"
)

// ErrChannelUnavailable is returned by Send when the requested channel
// has no outbound handle yet (spec's PublishException).
var ErrChannelUnavailable = errors.New("datachannel: channel unavailable")

// ErrPacketTooLarge is returned by Send when the serialized packet
// exceeds wire.MaxDataPacketSize.
var ErrPacketTooLarge = fmt.Errorf("datachannel: packet exceeds %d bytes", wire.MaxDataPacketSize)

// Handler is invoked for every successfully decoded inbound DataPacket.
type Handler func(kind Kind, packet wire.DataPacket)

// Set owns the four data-channel handles (two labels, two directions)
// for one engine session and routes inbound packets to Handler.
type Set struct {
	logger  *slog.Logger
	handler Handler

	mu       sync.RWMutex
	outbound map[Kind]*webrtc.DataChannel
	inbound  map[Kind]*webrtc.DataChannel
}

// New creates an empty Set. Outbound channels are installed with
// CreateOutbound; inbound channels arrive via RegisterInbound.
func New(logger *slog.Logger, handler Handler) *Set {
	return &Set{
		logger:   logger,
		handler:  handler,
		outbound: make(map[Kind]*webrtc.DataChannel),
		inbound:  make(map[Kind]*webrtc.DataChannel),
	}
}

// dataChannelInit returns the DataChannelInit for the reliable and
// lossy channels: the reliable channel is ordered with default
// retransmission; the lossy channel is ordered with maxRetransmits = 0.
func dataChannelInit(kind Kind) *webrtc.DataChannelInit {
	ordered := true
	if kind == Reliable {
		return &webrtc.DataChannelInit{Ordered: &ordered}
	}
	var maxRetransmits uint16
	return &webrtc.DataChannelInit{Ordered: &ordered, MaxRetransmits: &maxRetransmits}
}

// creator abstracts the publisher transport's CreateDataChannel so this
// package does not import package transport (avoiding a cycle) while
// still driving channel creation through its operation queue.
type creator interface {
	CreateDataChannel(label string, init *webrtc.DataChannelInit) (*webrtc.DataChannel, error)
}

// CreateOutbound creates the reliable and lossy outbound channels on
// the publisher transport and wires their observers.
func (s *Set) CreateOutbound(publisher creator) error {
	for _, kind := range []Kind{Reliable, Lossy} {
		label := kind.String()
		dc, err := publisher.CreateDataChannel(label, dataChannelInit(kind))
		if err != nil {
			return fmt.Errorf("datachannel: creating %s channel: %w", label, err)
		}
		s.wireObservers(dc, kind)

		s.mu.Lock()
		s.outbound[kind] = dc
		s.mu.Unlock()
	}
	return nil
}

// RegisterInbound recognizes an inbound data channel delivered by the
// subscriber transport's "datachannel" event by label; channels with an
// unrecognized label are discarded.
func (s *Set) RegisterInbound(dc *webrtc.DataChannel) {
	var kind Kind
	switch dc.Label() {
	case ReliableLabel:
		kind = Reliable
	case LossyLabel:
		kind = Lossy
	default:
		s.logger.Debug("discarding data channel with unrecognized label", "label", dc.Label())
		return
	}

	s.wireObservers(dc, kind)

	s.mu.Lock()
	s.inbound[kind] = dc
	s.mu.Unlock()
}

func (s *Set) wireObservers(dc *webrtc.DataChannel, kind Kind) {
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if len(msg.Data) == 0 {
			s.logger.Debug("dropping empty data packet", "kind", kind)
			return
		}
		packet, err := wire.Unmarshal(msg.Data)
		if err != nil {
			s.logger.Debug("dropping malformed data packet", "kind", kind, "error", err)
			return
		}
		if s.handler != nil {
			s.handler(kind, packet)
		}
	})
}

// Send serializes packet and writes it to the outbound channel of the
// given kind. Returns ErrChannelUnavailable if no outbound channel
// exists for kind, or ErrPacketTooLarge if the serialized form exceeds
// wire.MaxDataPacketSize.
func (s *Set) Send(kind Kind, packet wire.DataPacket) (int, error) {
	data, err := wire.Marshal(packet)
	if err != nil {
		return 0, fmt.Errorf("datachannel: marshal: %w", err)
	}
	if len(data) > wire.MaxDataPacketSize {
		return 0, ErrPacketTooLarge
	}

	s.mu.RLock()
	dc := s.outbound[kind]
	s.mu.RUnlock()

	if dc == nil {
		return 0, ErrChannelUnavailable
	}
	if err := dc.Send(data); err != nil {
		return 0, fmt.Errorf("datachannel: send: %w", err)
	}
	return len(data), nil
}

// ReadyState reports the outbound channel state for kind, or
// webrtc.DataChannelStateClosed if no outbound channel exists.
func (s *Set) ReadyState(kind Kind) webrtc.DataChannelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dc := s.outbound[kind]
	if dc == nil {
		return webrtc.DataChannelStateClosed
	}
	return dc.ReadyState()
}

// Info returns DataChannelInfo for every outbound channel, for
// inclusion in a sync-state payload.
func (s *Set) Info() []wire.DataChannelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := make([]wire.DataChannelInfo, 0, len(s.outbound))
	for _, dc := range s.outbound {
		info = append(info, wire.DataChannelInfo{ID: idOf(dc), Label: dc.Label()})
	}
	return info
}

func idOf(dc *webrtc.DataChannel) uint16 {
	if id := dc.ID(); id != nil {
		return *id
	}
	return 0
}

// Close unregisters observers and closes all four channel handles.
// Idempotent: closing an already-closed *webrtc.DataChannel is a no-op
// in pion.
func (s *Set) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dc := range s.outbound {
		dc.OnMessage(nil)
		_ = dc.Close()
	}
	for _, dc := range s.inbound {
		dc.OnMessage(nil)
		_ = dc.Close()
	}
	s.outbound = make(map[Kind]*webrtc.DataChannel)
	s.inbound = make(map[Kind]*webrtc.DataChannel)
}
