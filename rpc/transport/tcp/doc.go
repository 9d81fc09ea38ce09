// Package tcp implements the TCP socket transport of dConn. It provides the
// connectors for tcp:// and ssl:// channel urls and a TCP frame server, both
// built on the base package.
//
// ssl:// channels wrap the socket in a TLS client connection configured from
// TLSConf, a server with a certificate serves TLS on its listener.
//
// The default server buffer size is set to 512 KB, which provides good performance
// for typical workloads.
package tcp
