// Package common provides the data structures and utilities shared by all
// parts of dConn. It defines the message protocol, the configuration
// structures, the error taxonomy and the logging setup.
//
// Key Components:
//
//   - Message: The single data structure exchanged over a channel, used for
//     requests, responses and session control. The request id is carried by
//     the frame header, not by the serialized body.
//
//   - ChannelConfig / PoolConfig / ServerConfig: Configuration for links,
//     connection pools and the stub server, including the defaults of the
//     original driver (pool size 10, reservation timeout 10s, ...).
//
//   - ResendMode: The policy a channel applies to in-flight requests when it
//     detects a link fault.
//
//   - Errors: Sentinel errors (ErrReservationTimeout, ErrIllegalState,
//     ErrInterrupted, ErrLinkFault, ...) plus typed errors carrying details
//     (IllegalStateError, LinkFaultError, ServerError). Use errors.Is and
//     errors.As to inspect them.
//
//   - Logger: Custom logging implementation that plugs into dragonboat's
//     logger facade so every package logs with the same format.
package common
