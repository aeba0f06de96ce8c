// Package v1 defines the spendsync realtime protocol v1.
//
// It is shared between the server, the reconciler and clients to keep the
// wire format authoritative. Dependency-light on purpose.
//
// Server to client: hello_ack, mutation, session_ended, pong, error.
// Client to server: ping. Clients never push mutations over the socket.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol must be offered by clients during the WebSocket handshake.
const Subprotocol = "spendsync.realtime.v1"

// CloseSessionEnded is the close code sent after a session_ended envelope.
const CloseSessionEnded = 4001

// Type constants (wire-stable).
const (
	TypeHelloAck     = "hello_ack"
	TypeMutation     = "mutation"
	TypeSessionEnded = "session_ended"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHelloAck,
		TypeMutation,
		TypeSessionEnded,
		TypePing,
		TypePong,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// NewEnvelope marshals payload into an envelope. A nil payload is omitted.
func NewEnvelope(typ, id string, ts time.Time, payload any) (Envelope, error) {
	env := Envelope{V: Version, Type: typ, ID: id, TS: ts.UTC()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = b
	}
	return env, nil
}

// Decode unmarshals the payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return errors.New("missing payload")
	}
	return json.Unmarshal(e.Payload, dst)
}

// ---- Payloads ----

// HelloAckPayload is sent once the connection is registered.
type HelloAckPayload struct {
	ConnectionID     string    `json:"connection_id"`
	UserID           string    `json:"user_id"`
	SessionID        string    `json:"session_id"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

// Session end reasons carried by session_ended.
const (
	EndSuperseded = "superseded"
	EndLoggedOut  = "logged_out"
	EndExpired    = "expired"
	EndNotActive  = "not_active"
)

// SessionEndedPayload precedes a server close caused by the session.
type SessionEndedPayload struct {
	Reason string `json:"reason"`
}

// PingPayload is optional; Nonce is echoed in the pong.
type PingPayload struct {
	Nonce string `json:"nonce,omitempty"`
}

// PongPayload answers a ping.
type PongPayload struct {
	Nonce string `json:"nonce,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
