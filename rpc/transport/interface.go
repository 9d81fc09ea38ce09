package transport

import (
	"context"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/response"
	"net"
)

// --------------------------------------------------------------------------
// Link state
// --------------------------------------------------------------------------

// LinkState is the state of the network link owned by a channel
type LinkState int32

const (
	NotConnected LinkState = iota
	Connected
	Closing
	Closed
	// FailedOnSend means writing a frame failed, the channel tries to recover
	FailedOnSend
	// FailedOnRecv means reading a frame failed, the channel tries to recover
	FailedOnRecv
	Reconnecting
	// Terminated means the server dropped the session, the channel is unusable
	Terminated
)

func (s LinkState) String() string {
	switch s {
	case NotConnected:
		return "NotConnected"
	case Connected:
		return "Connected"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	case FailedOnSend:
		return "FailedOnSend"
	case FailedOnRecv:
		return "FailedOnRecv"
	case Reconnecting:
		return "Reconnecting"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Usable reports whether requests can be written in this state
func (s LinkState) Usable() bool {
	return s == Connected
}

// --------------------------------------------------------------------------
// Client Channel
// --------------------------------------------------------------------------

// ReceiveHandler is called for every inbound message that does not answer a pending request
type ReceiveHandler func(msg *common.Message)

// FaultListener is called when the channel hits a fault it could not hide from its users
type FaultListener func(err error)

// ChannelInfo describes the negotiated session of a channel
type ChannelInfo struct {
	ClientID        string
	SessionID       int64
	AuthToken       int64
	ProtocolVersion uint16
	Endpoint        string
	State           LinkState
	// number of connections currently using the channel
	Refs int
}

// IChannel is one (possibly fault tolerant) network link to the server.
// All methods are safe for concurrent use.
type IChannel interface {
	// Connect establishes the link and performs the handshake. Every successful
	// call on an already connected channel adds a reference instead.
	Connect(ctx context.Context) error
	// Start launches the receive loop. A receive handler must be set before.
	Start() error
	// Stop closes the link. A non forceful stop is a no-op while references are left.
	Stop(forceful bool) error
	// Disconnect drops one reference and stops the channel once none are left
	Disconnect() error
	// Reconnect re-establishes the link by cycling through all endpoints.
	// It reports success, details are available via LinkState.
	Reconnect(ctx context.Context) bool
	LinkState() LinkState

	// Send writes a message without waiting for a reply and returns its request id
	Send(msg *common.Message) (uint64, error)
	// SendRequest writes a message and blocks until the reply arrived or ctx is done.
	// An error reply is returned together with its typed error.
	SendRequest(ctx context.Context, msg *common.Message) (*common.Message, error)
	// SendAsync writes a message, the reply is handed to cb
	SendAsync(msg *common.Message, cb response.Callback) (uint64, error)

	SetReceiveHandler(handler ReceiveHandler)
	AddFaultListener(listener FaultListener)
	Info() ChannelInfo
}

// IChannelFactory creates channels for parsed channel urls
type IChannelFactory interface {
	CreateChannel(url *ChannelURL, config common.ChannelConfig) (IChannel, error)
}

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is called by a server transport for every frame it receives.
// The session id identifies the client connection the frame arrived on.
// A nil response means that no reply is written.
type ServerHandleFunc func(session uint64, requestID uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the server side of the frame protocol
type IRPCServerTransport interface {
	// RegisterHandler registers the handler that is called for every received frame
	RegisterHandler(handler ServerHandleFunc)
	// Start creates the listener and accepts connections in the background
	Start(config common.ServerConfig) (net.Addr, error)
	// Listen is like Start but blocks until the transport is closed
	Listen(config common.ServerConfig) error
	// Push writes an unsolicited frame to a session
	Push(session uint64, data []byte) error
	// CloseSession drops the client connection of a session
	CloseSession(session uint64) error
	// Close stops accepting and closes all client connections
	Close() error
}
