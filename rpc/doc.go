// Package rpc provides the client connection core of a graph database driver
// together with a small stub server to run it against.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, errors and logging.
//
//   - response: The slot that correlates one outstanding request with its reply.
//
//   - transport: Channel urls and the channel abstraction with pluggable connectors
//     (TCP/SSL, Unix sockets, WebSocket).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - connection: Connections, connection pools and their exception listeners.
//
//   - server: The stub frame server with session handling, an echo request
//     adapter and an admin adapter.
package rpc
