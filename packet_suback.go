package mqtt311

import (
	"bytes"
	"errors"
	"io"
)

// SubackReturnCode is a per-topic return code in a SUBACK packet.
type SubackReturnCode byte

// SUBACK return codes as defined in the specification.
const (
	SubackGrantedQoS0 SubackReturnCode = 0x00
	SubackGrantedQoS1 SubackReturnCode = 0x01
	SubackGrantedQoS2 SubackReturnCode = 0x02
	SubackFailure     SubackReturnCode = 0x80
)

// String returns the string representation of the return code.
func (c SubackReturnCode) String() string {
	switch c {
	case SubackGrantedQoS0:
		return "granted QoS 0"
	case SubackGrantedQoS1:
		return "granted QoS 1"
	case SubackGrantedQoS2:
		return "granted QoS 2"
	case SubackFailure:
		return "failure"
	default:
		return "unknown return code"
	}
}

// Granted returns true if the subscription was accepted.
func (c SubackReturnCode) Granted() bool {
	return c <= SubackGrantedQoS2
}

// SUBACK packet errors.
var (
	ErrNoReturnCodes        = errors.New("at least one return code is required")
	ErrInvalidSubackCode    = errors.New("invalid suback return code")
	ErrSubscriptionRejected = errors.New("subscription rejected by broker")
)

// SubackPacket represents an MQTT SUBACK packet.
type SubackPacket struct {
	// PacketID is the packet identifier.
	PacketID uint16

	// ReturnCodes holds one return code per requested topic filter.
	ReturnCodes []SubackReturnCode
}

// Type returns the packet type.
func (p *SubackPacket) Type() PacketType {
	return PacketSUBACK
}

// GetPacketID returns the packet identifier.
func (p *SubackPacket) GetPacketID() uint16 {
	return p.PacketID
}

// SetPacketID sets the packet identifier.
func (p *SubackPacket) SetPacketID(id uint16) {
	p.PacketID = id
}

// Encode writes the packet to the writer.
func (p *SubackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	// Packet Identifier
	if _, err := encodeUint16(&buf, p.PacketID); err != nil {
		return 0, err
	}

	// Return codes
	for _, code := range p.ReturnCodes {
		if err := buf.WriteByte(byte(code)); err != nil {
			return buf.Len(), err
		}
	}

	header := FixedHeader{
		PacketType:      PacketSUBACK,
		Flags:           0x00,
		RemainingLength: uint32(buf.Len()),
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	n, err := w.Write(buf.Bytes())
	return total + n, err
}

// Decode reads the packet from the reader.
func (p *SubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketSUBACK {
		return 0, ErrInvalidPacketType
	}

	var totalRead int

	// Packet Identifier
	id, n, err := decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.PacketID = id

	// One return code per requested topic
	for totalRead < int(header.RemainingLength) {
		var codeBuf [1]byte
		n, err = io.ReadFull(r, codeBuf[:])
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		code := SubackReturnCode(codeBuf[0])
		if !code.Granted() && code != SubackFailure {
			return totalRead, ErrInvalidSubackCode
		}

		p.ReturnCodes = append(p.ReturnCodes, code)
	}

	if len(p.ReturnCodes) == 0 {
		return totalRead, ErrNoReturnCodes
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *SubackPacket) Validate() error {
	if p.PacketID == 0 {
		return ErrPacketIDRequired
	}

	if len(p.ReturnCodes) == 0 {
		return ErrNoReturnCodes
	}

	for _, code := range p.ReturnCodes {
		if !code.Granted() && code != SubackFailure {
			return ErrInvalidSubackCode
		}
	}

	return nil
}
