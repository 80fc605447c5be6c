package protocol

import (
	"encoding/binary"
	"fmt"

	"collab-lab/domain"
)

// Media packet layouts. All integer fields are big-endian.
//
// Video: [SenderUID:4][Sequence:4][TotalFragments:4][FragmentIndex:4][payload]
// Audio: [SenderUID:4][Sequence:4][payload]
const (
	VideoHeaderSize = 16
	AudioHeaderSize = 8
)

// VideoPacket is one fragment of a video frame. The relay never inspects the
// payload; fragment bookkeeping exists only so consumers can reassemble.
type VideoPacket struct {
	SenderUID      domain.UID
	Sequence       uint32
	TotalFragments uint32
	FragmentIndex  uint32
	Payload        []byte
}

// AudioPacket is one chunk of raw audio samples. Streams are never mixed
// server-side.
type AudioPacket struct {
	SenderUID domain.UID
	Sequence  uint32
	Payload   []byte
}

func ParseVideoPacket(data []byte) (*VideoPacket, error) {
	if len(data) < VideoHeaderSize {
		return nil, fmt.Errorf("video packet too short: expected at least %d bytes, got %d", VideoHeaderSize, len(data))
	}

	pkt := &VideoPacket{
		SenderUID:      domain.UID(binary.BigEndian.Uint32(data[0:4])),
		Sequence:       binary.BigEndian.Uint32(data[4:8]),
		TotalFragments: binary.BigEndian.Uint32(data[8:12]),
		FragmentIndex:  binary.BigEndian.Uint32(data[12:16]),
	}
	if pkt.TotalFragments == 0 {
		return nil, fmt.Errorf("video packet with zero total fragments")
	}
	if pkt.FragmentIndex >= pkt.TotalFragments {
		return nil, fmt.Errorf("video fragment index %d out of range (total %d)", pkt.FragmentIndex, pkt.TotalFragments)
	}

	if len(data) > VideoHeaderSize {
		pkt.Payload = make([]byte, len(data)-VideoHeaderSize)
		copy(pkt.Payload, data[VideoHeaderSize:])
	}
	return pkt, nil
}

func (p *VideoPacket) Marshal() []byte {
	buf := make([]byte, VideoHeaderSize+len(p.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.SenderUID))
	binary.BigEndian.PutUint32(buf[4:8], p.Sequence)
	binary.BigEndian.PutUint32(buf[8:12], p.TotalFragments)
	binary.BigEndian.PutUint32(buf[12:16], p.FragmentIndex)
	copy(buf[VideoHeaderSize:], p.Payload)
	return buf
}

func ParseAudioPacket(data []byte) (*AudioPacket, error) {
	if len(data) < AudioHeaderSize {
		return nil, fmt.Errorf("audio packet too short: expected at least %d bytes, got %d", AudioHeaderSize, len(data))
	}

	pkt := &AudioPacket{
		SenderUID: domain.UID(binary.BigEndian.Uint32(data[0:4])),
		Sequence:  binary.BigEndian.Uint32(data[4:8]),
	}
	if len(data) > AudioHeaderSize {
		pkt.Payload = make([]byte, len(data)-AudioHeaderSize)
		copy(pkt.Payload, data[AudioHeaderSize:])
	}
	return pkt, nil
}

func (p *AudioPacket) Marshal() []byte {
	buf := make([]byte, AudioHeaderSize+len(p.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.SenderUID))
	binary.BigEndian.PutUint32(buf[4:8], p.Sequence)
	copy(buf[AudioHeaderSize:], p.Payload)
	return buf
}
