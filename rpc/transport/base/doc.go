// Package base implements the protocol independent part of the dConn transports:
// the client channel and the frame server. Protocol specific packages (tcp,
// unix, ws) only contribute connectors that open and tune raw connections.
//
// Frames have a 20 byte header (session, request id, length) followed by the
// serialized message. The request id correlates replies with requests, the
// session is assigned by the server per client link.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - channel: implements transport.IChannel. It performs the session handshake
//     on every new link, runs one reader goroutine that hands replies to the
//     response slots in an xsync correlation table, pings the server and
//     recovers from link faults according to the configured resend mode. Fault
//     tolerant endpoints are tried round by round, paced by a rate limiter.
//
//   - serverTransport: accepts links, assigns sessions and processes frames in a
//     bounded number of workers per link. Frames can be pushed to a session.
//
// Performance Optimizations:
//
//   - Buffer Pooling: The server uses a sync.Pool to reuse buffers, reducing
//     GC pressure and memory allocations.
//
//   - Frame Batching: The transport uses net.Buffers to reduce syscalls when
//     writing frames, combining header and payload into a single write operation.
//
// Thread Safety:
//
//	All public methods are thread-safe. Writes to a link are serialized by a
//	mutex, the reader goroutine is the only one reading from it.
package base
