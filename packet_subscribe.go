package mqtt311

import (
	"bytes"
	"errors"
	"io"
)

// SUBSCRIBE packet errors.
var (
	ErrNoTopicFilters = errors.New("at least one topic filter is required")
)

// TopicSubscription is a single topic filter entry in a SUBSCRIBE packet.
type TopicSubscription struct {
	// TopicFilter is the topic filter to subscribe to.
	TopicFilter string

	// QoS is the maximum QoS level requested for this subscription.
	QoS byte
}

// SubscribePacket represents an MQTT SUBSCRIBE packet.
type SubscribePacket struct {
	// PacketID is the packet identifier.
	PacketID uint16

	// Subscriptions is the list of topic filter entries.
	Subscriptions []TopicSubscription
}

// Type returns the packet type.
func (p *SubscribePacket) Type() PacketType {
	return PacketSUBSCRIBE
}

// GetPacketID returns the packet identifier.
func (p *SubscribePacket) GetPacketID() uint16 {
	return p.PacketID
}

// SetPacketID sets the packet identifier.
func (p *SubscribePacket) SetPacketID(id uint16) {
	p.PacketID = id
}

// Encode writes the packet to the writer.
func (p *SubscribePacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	// Packet Identifier
	n, err := encodeUint16(&buf, p.PacketID)
	if err != nil {
		return 0, err
	}

	// Topic filter entries
	for _, sub := range p.Subscriptions {
		n2, err := encodeString(&buf, sub.TopicFilter)
		n += n2
		if err != nil {
			return n, err
		}

		if err := buf.WriteByte(sub.QoS); err != nil {
			return n, err
		}
		n++
	}

	// SUBSCRIBE requires fixed header flags 0x02
	header := FixedHeader{
		PacketType:      PacketSUBSCRIBE,
		Flags:           0x02,
		RemainingLength: uint32(buf.Len()),
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	n3, err := w.Write(buf.Bytes())
	return total + n3, err
}

// Decode reads the packet from the reader.
func (p *SubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketSUBSCRIBE {
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

	// Topic filter entries fill the rest of the frame
	for totalRead < int(header.RemainingLength) {
		filter, n, err := decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		var qosBuf [1]byte
		n, err = io.ReadFull(r, qosBuf[:])
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		if qosBuf[0] > 2 {
			return totalRead, ErrInvalidQoS
		}

		p.Subscriptions = append(p.Subscriptions, TopicSubscription{
			TopicFilter: filter,
			QoS:         qosBuf[0],
		})
	}

	if len(p.Subscriptions) == 0 {
		return totalRead, ErrNoTopicFilters
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *SubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return ErrPacketIDRequired
	}

	if len(p.Subscriptions) == 0 {
		return ErrNoTopicFilters
	}

	for _, sub := range p.Subscriptions {
		if sub.QoS > 2 {
			return ErrInvalidQoS
		}
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return err
		}
	}

	return nil
}
