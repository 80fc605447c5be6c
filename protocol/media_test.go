package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"collab-lab/domain"
)

func TestVideoPacket_RoundTrip(t *testing.T) {
	req := require.New(t)
	pkt := &VideoPacket{
		SenderUID:      domain.UID(42),
		Sequence:       1000,
		TotalFragments: 3,
		FragmentIndex:  1,
		Payload:        []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}

	parsed, err := ParseVideoPacket(pkt.Marshal())

	req.NoError(err)
	req.Equal(pkt, parsed)
}

func TestParseVideoPacket_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{0, 0, 0, 1, 0, 0}},
		{"zero total fragments", (&VideoPacket{SenderUID: 1, TotalFragments: 0}).Marshal()},
		{"fragment index out of range", (&VideoPacket{SenderUID: 1, TotalFragments: 2, FragmentIndex: 2}).Marshal()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseVideoPacket(tt.data)
			require.Error(t, err)
		})
	}
}

func TestAudioPacket_RoundTrip(t *testing.T) {
	req := require.New(t)
	pkt := &AudioPacket{
		SenderUID: domain.UID(7),
		Sequence:  99,
		Payload:   []byte{1, 2, 3},
	}

	parsed, err := ParseAudioPacket(pkt.Marshal())

	req.NoError(err)
	req.Equal(pkt, parsed)
}

func TestParseAudioPacket_TooShort(t *testing.T) {
	_, err := ParseAudioPacket([]byte{0, 0, 0, 7})
	require.Error(t, err)
}

func TestAudioPacket_EmptyPayloadAllowed(t *testing.T) {
	req := require.New(t)
	pkt := &AudioPacket{SenderUID: 1, Sequence: 2}

	parsed, err := ParseAudioPacket(pkt.Marshal())

	req.NoError(err)
	req.Equal(domain.UID(1), parsed.SenderUID)
	req.Empty(parsed.Payload)
}
