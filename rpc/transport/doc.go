// Package transport defines the contracts between the connection core and the
// network: the client side IChannel, the IRPCServerTransport used by the stub
// server, and the ChannelURL that addresses a server.
//
// Key Components:
//
//   - IChannel: one (possibly fault tolerant) link to the server. It owns the
//     link state, the resend policy and the table correlating request ids to
//     response slots. Implemented by the base package.
//
//   - IChannelFactory: creates channels from a parsed url and a config.
//
//   - IRPCServerTransport: accepts client links and hands every frame to a
//     ServerHandleFunc together with the session it arrived on.
//
//   - ChannelURL: proto://[user@]host[:port][/{key=value;...}] with support for
//     tcp, ssl, unix, http (websocket) and https (secure websocket) as well as
//     a list of fault tolerant alternate hosts (ftHosts).
//
// Link states:
//
//	NotConnected -> Connected -> Closing -> Closed
//	Connected -> FailedOnSend | FailedOnRecv -> Reconnecting -> Connected | Closed
//	Connected -> Terminated (session dropped by the server)
package transport
