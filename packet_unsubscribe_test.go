package mqtt311

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnsubscribePacketType(t *testing.T) {
	p := &UnsubscribePacket{}
	assert.Equal(t, PacketUNSUBSCRIBE, p.Type())
}

func TestUnsubscribePacketEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		packet UnsubscribePacket
	}{
		{
			name: "single filter",
			packet: UnsubscribePacket{
				PacketID:     1,
				TopicFilters: []string{"a/b"},
			},
		},
		{
			name: "multiple filters",
			packet: UnsubscribePacket{
				PacketID:     500,
				TopicFilters: []string{"sensors/+/temp", "alerts/#", "status"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := tt.packet.Encode(&buf)
			require.NoError(t, err)

			var header FixedHeader
			_, err = header.Decode(&buf)
			require.NoError(t, err)
			assert.Equal(t, byte(0x02), header.Flags)

			var decoded UnsubscribePacket
			_, err = decoded.Decode(&buf, header)
			require.NoError(t, err)
			assert.Equal(t, tt.packet, decoded)
		})
	}
}

func TestUnsubscribePacketValidate(t *testing.T) {
	assert.ErrorIs(t, (&UnsubscribePacket{TopicFilters: []string{"a"}}).Validate(), ErrPacketIDRequired)
	assert.ErrorIs(t, (&UnsubscribePacket{PacketID: 1}).Validate(), ErrNoTopicFilters)
	assert.ErrorIs(t, (&UnsubscribePacket{PacketID: 1, TopicFilters: []string{"#/a"}}).Validate(), ErrInvalidTopicFilter)
	assert.NoError(t, (&UnsubscribePacket{PacketID: 1, TopicFilters: []string{"a/#"}}).Validate())
}
