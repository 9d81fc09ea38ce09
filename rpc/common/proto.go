package common

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is announced by the client during the handshake
const ProtocolVersion uint16 = 1

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message. The request id is
// not part of the serialized body, it travels in the frame header and is
// set by the transport after decoding.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Correlation id, filled in by the transport
	RequestID uint64 `json:"-"`

	// Session fields
	SessionID       int64  `json:"session_id,omitempty"`       // Used for: Handshake (response)
	AuthToken       int64  `json:"auth_token,omitempty"`       // Used for: Handshake (response)
	ProtocolVersion uint16 `json:"protocol_version,omitempty"` // Used for: Handshake
	ClientID        string `json:"client_id,omitempty"`        // Used for: Handshake (request)
	User            string `json:"user,omitempty"`             // Used for: Handshake (request)

	// Request fields
	Command string `json:"command,omitempty"` // Used for: Admin, Request
	Payload []byte `json:"payload,omitempty"` // Used for: Request, Response, Admin (response)

	// Error fields
	ErrType ErrorType `json:"err_type,omitempty"`
	Err     string    `json:"err,omitempty"` // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"`
}

// Error translates an error reply into a typed error. It returns nil for
// every message that does not carry an error.
func (m *Message) Error() error {
	if m == nil {
		return nil
	}
	if m.MsgType != MsgTError && m.Err == "" {
		return nil
	}
	return &ServerError{Type: m.ErrType, Msg: m.Err}
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewHandshakeRequest creates the first message a channel sends on a fresh link
func NewHandshakeRequest(clientID, user string) *Message {
	return &Message{
		MsgType:         MsgTHandshake,
		ClientID:        clientID,
		User:            user,
		ProtocolVersion: ProtocolVersion,
	}
}

// NewHandshakeResponse creates the server's answer to a handshake
func NewHandshakeResponse(sessionID, authToken int64, version uint16) *Message {
	return &Message{
		MsgType:         MsgTHandshake,
		SessionID:       sessionID,
		AuthToken:       authToken,
		ProtocolVersion: version,
	}
}

// NewPingMessage creates a keep alive message
func NewPingMessage() *Message {
	return &Message{
		MsgType: MsgTPing,
	}
}

// NewDisconnectRequest creates the message announcing that the client closes its link
func NewDisconnectRequest(sessionID, authToken int64) *Message {
	return &Message{
		MsgType:   MsgTDisconnect,
		SessionID: sessionID,
		AuthToken: authToken,
	}
}

// NewRequest creates an opaque request
func NewRequest(command string, payload []byte) *Message {
	return &Message{
		MsgType: MsgTRequest,
		Command: command,
		Payload: payload,
	}
}

// NewResponse creates the response for an opaque request
func NewResponse(payload []byte) *Message {
	return &Message{
		MsgType: MsgTRequest,
		Payload: payload,
	}
}

// NewAdminRequest creates an admin command
func NewAdminRequest(command string) *Message {
	return &Message{
		MsgType: MsgTAdmin,
		Command: command,
	}
}

// NewAdminResponse creates the response for an admin command
func NewAdminResponse(payload []byte) *Message {
	return &Message{
		MsgType: MsgTAdmin,
		Payload: payload,
	}
}

// NewErrorResponse creates an error reply
func NewErrorResponse(errType ErrorType, err error) *Message {
	msg := &Message{
		MsgType: MsgTError,
		ErrType: errType,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewSessionTerminated creates the message a server sends before dropping a session
func NewSessionTerminated(reason string) *Message {
	return &Message{
		MsgType: MsgTSessionTerminated,
		ErrType: ErrTSessionTerminated,
		Err:     reason,
	}
}

// --------------------------------------------------------------------------
// Message Type
// --------------------------------------------------------------------------

// MessageType represents the type of message
type MessageType uint8

// String returns a string representation of the message type
func (t MessageType) String() string {
	switch t {
	case MsgTUnknown:
		return "unknown"
	case MsgTSuccess:
		return "success"
	case MsgTError:
		return "error"
	case MsgTHandshake:
		return "handshake"
	case MsgTPing:
		return "ping"
	case MsgTDisconnect:
		return "disconnect"
	case MsgTSessionTerminated:
		return "sessionTerminated"
	case MsgTRequest:
		return "request"
	case MsgTAdmin:
		return "admin"
	case MsgTCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "unknown":
		*t = MsgTUnknown
	case "success":
		*t = MsgTSuccess
	case "error":
		*t = MsgTError
	case "handshake":
		*t = MsgTHandshake
	case "ping":
		*t = MsgTPing
	case "disconnect":
		*t = MsgTDisconnect
	case "sessionTerminated":
		*t = MsgTSessionTerminated
	case "request":
		*t = MsgTRequest
	case "admin":
		*t = MsgTAdmin
	case "custom":
		*t = MsgTCustom
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Session control

	MsgTHandshake         // Negotiates session id, auth token and protocol version
	MsgTPing              // Keep alive, never answered
	MsgTDisconnect        // Client announces that it closes the link
	MsgTSessionTerminated // Server announces that it dropped the session

	// Opaque requests

	MsgTRequest // Request handled by the server
	MsgTAdmin   // Administrative command

	// Custom operations

	MsgTCustom // Custom operation type
)

// --------------------------------------------------------------------------
// Error Type
// --------------------------------------------------------------------------

// ErrorType classifies the error carried by an error reply
type ErrorType uint8

const (
	ErrTGeneral ErrorType = iota
	ErrTBadRequest
	ErrTRetryIO // the server asks the client to retry the operation
	ErrTHandshake
	ErrTSessionTerminated
	ErrTUnsupported
	ErrTChannelDisconnected
)

func (t ErrorType) String() string {
	switch t {
	case ErrTGeneral:
		return "general"
	case ErrTBadRequest:
		return "bad request"
	case ErrTRetryIO:
		return "retry io"
	case ErrTHandshake:
		return "handshake"
	case ErrTSessionTerminated:
		return "session terminated"
	case ErrTUnsupported:
		return "unsupported"
	case ErrTChannelDisconnected:
		return "channel disconnected"
	default:
		return "unknown"
	}
}
