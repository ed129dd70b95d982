package mqtt311

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisconnectPacketEncodeDecode(t *testing.T) {
	var buf bytes.Buffer

	n, err := (&DisconnectPacket{}).Encode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0xe0, 0x00}, buf.Bytes())

	pkt, _, err := ReadPacket(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, &DisconnectPacket{}, pkt)
}

func TestDisconnectPacketValidate(t *testing.T) {
	assert.NoError(t, (&DisconnectPacket{}).Validate())
}
