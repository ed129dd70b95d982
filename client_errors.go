package mqtt311

import (
	"errors"
	"time"
)

// EventHandler receives client lifecycle events. Events are sentinel
// errors, optionally wrapped in richer event types extractable with
// errors.As().
type EventHandler func(client *Client, event error)

// Sentinel events for client lifecycle - check with errors.Is().
var (
	// ErrConnected is emitted on the first successful CONNACK.
	ErrConnected = errors.New("connected")

	// ErrResumed is emitted when a later CONNACK re-establishes the session.
	ErrResumed = errors.New("connection resumed")

	// ErrConnectionLost is emitted when the transport fails unexpectedly.
	ErrConnectionLost = errors.New("connection lost")

	// ErrReconnecting is emitted before each reconnection attempt.
	ErrReconnecting = errors.New("reconnecting")

	// ErrReconnectFailed is emitted when all reconnection attempts have failed.
	ErrReconnectFailed = errors.New("reconnect failed")

	// ErrClientDisconnected is emitted after a graceful disconnect completes.
	ErrClientDisconnected = errors.New("client disconnected")
)

// Sentinel errors for protocol issues - check with errors.Is().
var (
	// ErrProtocolError is returned when a well-formed but semantically
	// illegal packet arrives, e.g. a CONNACK while already connected.
	ErrProtocolError = errors.New("protocol error")

	// ErrKeepaliveTimeout forces the connection into reconnecting when the
	// broker stops answering PINGREQ.
	ErrKeepaliveTimeout = errors.New("keep-alive timeout")

	// ErrConnectionRefused is returned when the broker rejects CONNECT.
	ErrConnectionRefused = errors.New("connection refused")
)

// Sentinel errors for operations - check with errors.Is().
var (
	// ErrClientClosed is returned when an operation is attempted on a closed client.
	ErrClientClosed = errors.New("client closed")

	// ErrNotConnected is returned when an operation requires an active connection.
	ErrNotConnected = errors.New("not connected")
)

// ConnectedEvent contains details about a successful connection.
// Extract with errors.As().
type ConnectedEvent struct {
	err            error
	SessionPresent bool
	ReturnCode     ConnackReturnCode
}

func (e *ConnectedEvent) Error() string { return e.err.Error() }
func (e *ConnectedEvent) Unwrap() error { return e.err }

// newConnectedEvent wraps ErrConnected for the first CONNACK and
// ErrResumed for subsequent ones.
func newConnectedEvent(sessionPresent bool, code ConnackReturnCode, resumed bool) *ConnectedEvent {
	baseErr := ErrConnected
	if resumed {
		baseErr = ErrResumed
	}
	return &ConnectedEvent{
		err:            baseErr,
		SessionPresent: sessionPresent,
		ReturnCode:     code,
	}
}

// ConnectionRefusedError contains the broker's CONNACK rejection code.
// Extract with errors.As().
type ConnectionRefusedError struct {
	ReturnCode ConnackReturnCode
}

func (e *ConnectionRefusedError) Error() string {
	return "connection refused: " + e.ReturnCode.String()
}

func (e *ConnectionRefusedError) Unwrap() error { return ErrConnectionRefused }

// ConnectionLostError contains the cause of an unexpected disconnect.
// Extract with errors.As().
type ConnectionLostError struct {
	Reason error
}

func (e *ConnectionLostError) Error() string {
	if e.Reason == nil {
		return ErrConnectionLost.Error()
	}
	return "connection lost: " + e.Reason.Error()
}

func (e *ConnectionLostError) Unwrap() error { return ErrConnectionLost }

// ReconnectEvent is emitted before each reconnection attempt.
// Extract with errors.As().
type ReconnectEvent struct {
	// Attempt is the 1-based attempt number.
	Attempt int

	// MaxAttempts is the configured limit, or -1 for unlimited.
	MaxAttempts int

	// Delay is how long the client waits before this attempt.
	Delay time.Duration
}

func (e *ReconnectEvent) Error() string { return ErrReconnecting.Error() }
func (e *ReconnectEvent) Unwrap() error { return ErrReconnecting }
