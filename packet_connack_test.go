package mqtt311

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnackPacketType(t *testing.T) {
	p := &ConnackPacket{}
	assert.Equal(t, PacketCONNACK, p.Type())
}

func TestConnackReturnCodeString(t *testing.T) {
	assert.Equal(t, "connection accepted", ConnectionAccepted.String())
	assert.Equal(t, "connection refused: not authorized", ConnectionRefusedNotAuthed.String())
	assert.Equal(t, "unknown return code", ConnackReturnCode(0x10).String())
}

func TestConnackPacketEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		packet ConnackPacket
	}{
		{
			name:   "accepted no session",
			packet: ConnackPacket{ReturnCode: ConnectionAccepted},
		},
		{
			name:   "accepted session present",
			packet: ConnackPacket{SessionPresent: true, ReturnCode: ConnectionAccepted},
		},
		{
			name:   "refused bad auth",
			packet: ConnackPacket{ReturnCode: ConnectionRefusedBadAuth},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := tt.packet.Encode(&buf)
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			var header FixedHeader
			_, err = header.Decode(&buf)
			require.NoError(t, err)

			var decoded ConnackPacket
			_, err = decoded.Decode(&buf, header)
			require.NoError(t, err)
			assert.Equal(t, tt.packet, decoded)
		})
	}
}

func TestConnackPacketDecodeReservedAckBits(t *testing.T) {
	var p ConnackPacket
	_, err := p.Decode(bytes.NewReader([]byte{0x02, 0x00}), FixedHeader{PacketType: PacketCONNACK, RemainingLength: 2})
	assert.ErrorIs(t, err, ErrInvalidAcknowledgeBit)
}

func TestConnackPacketDecodeInvalidReturnCode(t *testing.T) {
	var p ConnackPacket
	_, err := p.Decode(bytes.NewReader([]byte{0x00, 0x06}), FixedHeader{PacketType: PacketCONNACK, RemainingLength: 2})
	assert.ErrorIs(t, err, ErrInvalidReturnCode)
}

func TestConnackPacketDecodeSessionPresentOnRejection(t *testing.T) {
	var p ConnackPacket
	_, err := p.Decode(bytes.NewReader([]byte{0x01, 0x05}), FixedHeader{PacketType: PacketCONNACK, RemainingLength: 2})
	assert.ErrorIs(t, err, ErrInvalidAcknowledgeBit)
}
