// Package server implements the reference server of the dConn frame protocol.
// It is the peer the connection core is run and tested against: it accepts
// links, negotiates sessions and answers requests, but carries no database
// semantics of its own.
//
// Key Components:
//
//   - RPCServer: owns the session table and dispatches every decoded message
//     by type. Handshakes create a session with a random auth token, pings and
//     disconnect announcements are never answered, everything else is routed
//     to an adapter.
//
//   - IRPCServerAdapter: the contract for message handlers. NewRequestAdapter
//     answers the request commands (echo, sleep), NewAdminAdapter implements the
//     admin commands (sessions, terminate, ping-all) on top of an ISessionManager.
//
//   - ISessionManager: implemented by RPCServer, lists sessions, terminates them
//     by pushing a session-terminated message and pings all clients.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Endpoint:      "0.0.0.0:8222",
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(config.MaxWorkersPerConn),
//	  serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
package server
