// Package unix implements the Unix domain socket transport of dConn for
// clients and servers running on the same machine.
//
// Channel urls look like unix:///path/to/socket. The server removes a stale
// socket file before listening.
//
// Performance Characteristics:
//
//   - Default buffer size: 64 KB, optimized for local communication patterns
//   - Reduced overhead: Eliminates TCP/IP stack processing for better performance
package unix
