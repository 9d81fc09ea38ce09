package ws

import (
	"crypto/tls"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/transport"
	"github.com/ValentinKolb/dConn/rpc/transport/base"
	"github.com/gorilla/websocket"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"net/http"
	"sync"
	"time"
)

var Logger = logger.GetLogger("transport/rpc")

const (
	defaultBufferSize = 64 * 1024 // 64 KB
)

// serverConnector implements the IServerConnector interface for websockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "ws"
}

// Listen starts an http server that upgrades requests on DefaultPath and
// hands the resulting connections to the returned listener
func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	ln, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %v", err)
	}

	tlsConfig, err := base.ServerTLSConfig(config.TLSConf)
	if err != nil {
		ln.Close()
		return nil, err
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	l := &wsListener{
		inner:  ln,
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  config.SocketConf.ReadBufferSize,
		WriteBufferSize: config.SocketConf.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return true // frames are not browser traffic
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(DefaultPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			Logger.Warningf("Websocket upgrade from %s failed: %v", r.RemoteAddr, err)
			return
		}
		select {
		case l.conns <- newConn(conn):
		case <-l.closed:
			conn.Close()
		}
	})

	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Websocket http server stopped: %v", err)
		}
	}()

	return l, nil
}

func (c *serverConnector) UpgradeConnection(conn net.Conn, config common.ServerConfig) error {
	wc, ok := conn.(*wsConn)
	if !ok {
		return nil
	}
	if tcpConn, ok := wc.underlying().(*net.TCPConn); ok {
		return tcpConn.SetNoDelay(config.TCPConf.TCPNoDelay)
	}
	return nil
}

// --------------------------------------------------------------------------
// Listener
// --------------------------------------------------------------------------

// wsListener adapts the upgrade handler to net.Listener
type wsListener struct {
	inner     net.Listener
	server    *http.Server
	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *wsListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.server.Close()
	})
	return err
}

func (l *wsListener) Addr() net.Addr {
	return l.inner.Addr()
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewWSServerTransport creates a new websocket server transport
func NewWSServerTransport(maxWorkersPerConn int) transport.IRPCServerTransport {
	return base.NewBaseServerTransport(&serverConnector{}, defaultBufferSize, maxWorkersPerConn)
}
