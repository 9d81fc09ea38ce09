// Package ws implements the websocket transport of dConn. http:// channel urls
// are served over plain websockets, https:// over secure websockets.
//
// Frames of the base package are carried as binary websocket messages. The
// wsConn adapter makes a websocket look like a net.Conn so the channel and the
// frame server work unchanged on top of it.
//
// The server upgrades requests on DefaultPath (/channel). Clients can use a
// different path with the path url property, e.g. http://host:8222/{path=/db}.
package ws
