// Package mqtt311 implements an MQTT 3.1.1 client.
//
// This package implements the client side of the MQTT Version 3.1.1
// OASIS Standard (ISO/IEC 20922):
// https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// # Features
//
//   - All 14 MQTT 3.1.1 control packet types
//   - QoS 0, 1, 2 message flows with timeout-driven retransmission
//   - Wildcard topic routing (+, #) with per-subscription handlers
//   - Keep-alive, automatic reconnection with exponential backoff,
//     and offline request queueing
//   - Transports: TCP, TLS, Unix socket, WebSocket, QUIC, HTTP/SOCKS5 proxy
//
// # Packets
//
// The package provides structs for all MQTT 3.1.1 control packets. Use
// ReadPacket and WritePacket to read/write framed packets on a
// connection:
//
//	// Read a packet
//	pkt, n, err := mqtt311.ReadPacket(conn, maxPacketSize)
//
//	// Write a packet
//	n, err := mqtt311.WritePacket(conn, packet, 0)
//
// # Client
//
// Use the high-level Client API for talking to a broker:
//
//	client := mqtt311.NewClient("localhost:1883",
//	    mqtt311.WithClientID("my-client"),
//	    mqtt311.WithKeepAlive(30),
//	)
//	if err := client.Connect(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	client.Subscribe("sensors/+/temp", mqtt311.QoS1, func(msg *mqtt311.Message) {
//	    log.Printf("%s: %s", msg.Topic, msg.Payload)
//	}, nil)
//
//	client.Publish("sensors/5/temp", mqtt311.QoS1, false, []byte("21.5"), nil)
package mqtt311
