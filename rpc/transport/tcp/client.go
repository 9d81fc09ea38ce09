package tcp

import (
	"context"
	"crypto/tls"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/transport"
	"github.com/ValentinKolb/dConn/rpc/transport/base"
	"net"
)

// clientConnector implements the IClientConnector interface for TCP sockets (tcp:// and ssl://)
type clientConnector struct{}

// NewTCPClientConnector creates the connector for tcp and ssl channel urls
func NewTCPClientConnector() base.IClientConnector {
	return &clientConnector{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Protocols() []string {
	return []string{transport.ProtoTCP, transport.ProtoSSL}
}

func (c *clientConnector) Connect(ctx context.Context, endpoint *transport.ChannelURL, config common.ChannelConfig) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", endpoint.Address())
	if err != nil {
		return nil, err
	}
	if endpoint.Protocol != transport.ProtoSSL {
		return conn, nil
	}

	tlsConfig, err := base.ClientTLSConfig(config.TLSConf, endpoint.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ChannelConfig) error {
	return tune(conn, config.SocketConf, config.TCPConf)
}
