// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MaxDataPacketSize is the largest serialized DataPacket the engine will
// write to a data channel. Enforced by datachannel.Set.Send before
// handing bytes to the data channel; Marshal itself does not truncate.
const MaxDataPacketSize = 15000

// ErrMalformedPacket is returned by Unmarshal when the bytes cannot be
// decoded as a DataPacket. Callers should drop the packet and log at
// debug level rather than treat this as fatal.
var ErrMalformedPacket = errors.New("wire: malformed data packet")

// Marshal serializes a DataPacket to its wire representation. This is a
// deliberately minimal stand-in for the actual protobuf codec the
// signaling SDK owns (see package doc): a one-byte kind tag followed by
// kind-specific fields, each length-prefixed where variable-sized.
func Marshal(p DataPacket) ([]byte, error) {
	switch p.Kind {
	case DataPacketUser:
		if p.User == nil {
			return nil, fmt.Errorf("wire: marshal user packet: nil payload")
		}
		return marshalUser(*p.User), nil
	case DataPacketSpeaker:
		if p.Speaker == nil {
			return nil, fmt.Errorf("wire: marshal speaker packet: nil payload")
		}
		return marshalSpeaker(*p.Speaker), nil
	default:
		return nil, fmt.Errorf("wire: marshal: unknown packet kind %d", p.Kind)
	}
}

// Unmarshal decodes bytes produced by Marshal. Empty or malformed input
// returns ErrMalformedPacket so the caller can drop-and-log per §4.C.
func Unmarshal(data []byte) (DataPacket, error) {
	if len(data) == 0 {
		return DataPacket{}, ErrMalformedPacket
	}

	switch DataPacketKind(data[0]) {
	case DataPacketUser:
		user, err := unmarshalUser(data[1:])
		if err != nil {
			return DataPacket{}, err
		}
		return DataPacket{Kind: DataPacketUser, User: &user}, nil
	case DataPacketSpeaker:
		speaker, err := unmarshalSpeaker(data[1:])
		if err != nil {
			return DataPacket{}, err
		}
		return DataPacket{Kind: DataPacketSpeaker, Speaker: &speaker}, nil
	default:
		return DataPacket{}, ErrMalformedPacket
	}
}

func marshalUser(u UserPacket) []byte {
	buf := []byte{byte(DataPacketUser)}
	buf = appendLenPrefixed(buf, []byte(u.ParticipantSid))
	buf = appendLenPrefixed(buf, []byte(u.Topic))
	buf = appendLenPrefixed(buf, u.Payload)
	return buf
}

func unmarshalUser(data []byte) (UserPacket, error) {
	sid, rest, err := readLenPrefixed(data)
	if err != nil {
		return UserPacket{}, err
	}
	topic, rest, err := readLenPrefixed(rest)
	if err != nil {
		return UserPacket{}, err
	}
	payload, _, err := readLenPrefixed(rest)
	if err != nil {
		return UserPacket{}, err
	}
	return UserPacket{ParticipantSid: string(sid), Topic: string(topic), Payload: payload}, nil
}

func marshalSpeaker(s SpeakerUpdate) []byte {
	buf := []byte{byte(DataPacketSpeaker)}
	buf = appendLenPrefixed(buf, []byte(s.Sid))
	levelBits := math.Float32bits(s.Level)
	var levelBuf [4]byte
	binary.BigEndian.PutUint32(levelBuf[:], levelBits)
	buf = append(buf, levelBuf[:]...)
	if s.Active {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func unmarshalSpeaker(data []byte) (SpeakerUpdate, error) {
	sid, rest, err := readLenPrefixed(data)
	if err != nil {
		return SpeakerUpdate{}, err
	}
	if len(rest) < 5 {
		return SpeakerUpdate{}, ErrMalformedPacket
	}
	level := math.Float32frombits(binary.BigEndian.Uint32(rest[:4]))
	active := rest[4] != 0
	return SpeakerUpdate{Sid: string(sid), Level: level, Active: active}, nil
}

func appendLenPrefixed(buf, field []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(field)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, field...)
}

func readLenPrefixed(data []byte) (field, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, ErrMalformedPacket
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(n) > uint64(len(data)) {
		return nil, nil, ErrMalformedPacket
	}
	return data[:n], data[n:], nil
}
