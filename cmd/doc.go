// Package cmd implements the command-line interface of dConn. It provides a
// hierarchical command structure for running the stub server and for opening
// connection pools against a server.
//
// The package is organized into several subpackages:
//
//   - pool: Commands that open a pool and use it (ping, exec, admin, stats, perf)
//   - serve: Command for starting and configuring the stub frame server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dconn -help for a list of all commands.
package cmd
