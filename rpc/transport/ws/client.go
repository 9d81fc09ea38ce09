package ws

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/transport"
	"github.com/ValentinKolb/dConn/rpc/transport/base"
	"github.com/gorilla/websocket"
	"net"
	"time"
)

// DefaultPath is the http path the websocket endpoint is served on
const DefaultPath = "/channel"

// PropPath overrides DefaultPath in the url properties
const PropPath = "path"

// clientConnector implements the IClientConnector interface for websockets (http:// and https://)
type clientConnector struct{}

// NewWSClientConnector creates the connector for http and https channel urls
func NewWSClientConnector() base.IClientConnector {
	return &clientConnector{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "ws"
}

func (c *clientConnector) Protocols() []string {
	return []string{transport.ProtoHTTP, transport.ProtoHTTPS}
}

func (c *clientConnector) Connect(ctx context.Context, endpoint *transport.ChannelURL, config common.ChannelConfig) (net.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: time.Duration(config.ConnectTimeoutMillisecond) * time.Millisecond,
		ReadBufferSize:   config.SocketConf.ReadBufferSize,
		WriteBufferSize:  config.SocketConf.WriteBufferSize,
	}

	scheme := "ws"
	if endpoint.Protocol == transport.ProtoHTTPS {
		scheme = "wss"
		tlsConfig, err := base.ClientTLSConfig(config.TLSConf, endpoint.Host)
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsConfig
	}

	url := fmt.Sprintf("%s://%s%s", scheme, endpoint.Address(), pathOf(endpoint))
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed (%s): %w", url, resp.Status, err)
		}
		return nil, err
	}
	return newConn(conn), nil
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ChannelConfig) error {
	wc, ok := conn.(*wsConn)
	if !ok {
		return nil
	}
	if tcpConn, ok := wc.underlying().(*net.TCPConn); ok {
		return tcpConn.SetNoDelay(config.TCPConf.TCPNoDelay)
	}
	return nil
}

func pathOf(endpoint *transport.ChannelURL) string {
	if p := endpoint.Props[PropPath]; p != "" {
		if p[0] != '/' {
			return "/" + p
		}
		return p
	}
	return DefaultPath
}
