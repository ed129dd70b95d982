//nolint:dupl // Similar test structure for similar packet types
package mqtt311

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckPacketTypes(t *testing.T) {
	assert.Equal(t, PacketPUBACK, (&PubackPacket{}).Type())
	assert.Equal(t, PacketPUBREC, (&PubrecPacket{}).Type())
	assert.Equal(t, PacketPUBREL, (&PubrelPacket{}).Type())
	assert.Equal(t, PacketPUBCOMP, (&PubcompPacket{}).Type())
	assert.Equal(t, PacketUNSUBACK, (&UnsubackPacket{}).Type())
}

func TestAckPacketEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		packet PacketWithID
	}{
		{name: "puback", packet: &PubackPacket{PacketID: 1}},
		{name: "pubrec", packet: &PubrecPacket{PacketID: 255}},
		{name: "pubrel", packet: &PubrelPacket{PacketID: 256}},
		{name: "pubcomp", packet: &PubcompPacket{PacketID: 42}},
		{name: "unsuback", packet: &UnsubackPacket{PacketID: 65535}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := tt.packet.Encode(&buf)
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			decoded, _, err := ReadPacket(&buf, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.packet, decoded)
		})
	}
}

func TestPubrelPacketFlags(t *testing.T) {
	var buf bytes.Buffer
	_, err := (&PubrelPacket{PacketID: 1}).Encode(&buf)
	require.NoError(t, err)

	// PUBREL carries the reserved flags 0x02
	assert.Equal(t, byte(0x62), buf.Bytes()[0])
}

func TestAckPacketValidateZeroID(t *testing.T) {
	assert.ErrorIs(t, (&PubackPacket{}).Validate(), ErrPacketIDRequired)
	assert.ErrorIs(t, (&PubrecPacket{}).Validate(), ErrPacketIDRequired)
	assert.ErrorIs(t, (&PubrelPacket{}).Validate(), ErrPacketIDRequired)
	assert.ErrorIs(t, (&PubcompPacket{}).Validate(), ErrPacketIDRequired)
	assert.ErrorIs(t, (&UnsubackPacket{}).Validate(), ErrPacketIDRequired)
}

func TestAckPacketSetPacketID(t *testing.T) {
	p := &PubackPacket{}
	p.SetPacketID(99)
	assert.Equal(t, uint16(99), p.GetPacketID())
}
