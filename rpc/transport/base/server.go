package base

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var ServerLogger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverConn is one accepted client link
type serverConn struct {
	session uint64
	conn    net.Conn
	writeMu sync.Mutex
}

func (sc *serverConn) write(requestID uint64, data []byte, timeout time.Duration) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	if timeout > 0 {
		if err := sc.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %v", err)
		}
	}
	return writeFrame(sc.conn, sc.session, requestID, data)
}

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector         IServerConnector
	handler           transport.ServerHandleFunc
	config            common.ServerConfig
	listener          net.Listener
	bufferPool        *sync.Pool
	maxWorkersPerConn int

	conns       *xsync.MapOf[uint64, *serverConn]
	nextSession atomic.Uint64
	closed      atomic.Bool
	done        chan struct{}
	closeOnce   sync.Once
	connWg      sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, ws)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with per-connection worker pool
func NewBaseServerTransport(connector IServerConnector, bufferSize int, maxWorkersPerConn int) transport.IRPCServerTransport {

	// minimum one worker per connection
	maxWorkersPerConn = max(maxWorkersPerConn, 1)

	return &serverTransport{
		connector:         connector,
		maxWorkersPerConn: maxWorkersPerConn,
		conns:             xsync.NewMapOf[uint64, *serverConn](),
		done:              make(chan struct{}),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Start(config common.ServerConfig) (net.Addr, error) {
	if t.handler == nil {
		return nil, fmt.Errorf("no handler registered")
	}
	if config.MaxWorkersPerConn > 0 {
		t.maxWorkersPerConn = config.MaxWorkersPerConn
	}
	t.config = config

	listener, err := t.connector.Listen(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %v", err)
	}
	t.listener = listener

	ServerLogger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), listener.Addr(), t.maxWorkersPerConn)

	go t.acceptLoop()
	return listener.Addr(), nil
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if _, err := t.Start(config); err != nil {
		return err
	}
	<-t.done
	return nil
}

func (t *serverTransport) Push(session uint64, data []byte) error {
	sc, ok := t.conns.Load(session)
	if !ok {
		return fmt.Errorf("unknown session %d", session)
	}
	return sc.write(0, data, t.timeout())
}

func (t *serverTransport) CloseSession(session uint64) error {
	sc, ok := t.conns.LoadAndDelete(session)
	if !ok {
		return fmt.Errorf("unknown session %d", session)
	}
	return sc.conn.Close()
}

func (t *serverTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if t.listener != nil {
			err = t.listener.Close()
		}
		t.conns.Range(func(session uint64, sc *serverConn) bool {
			_ = sc.conn.Close()
			return true
		})
		t.connWg.Wait()
		close(t.done)
		ServerLogger.Infof("Stopped %s server", t.connector.GetName())
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *serverTransport) timeout() time.Duration {
	return time.Duration(t.config.TimeoutSecond) * time.Second
}

func (t *serverTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			ServerLogger.Errorf("Accept error: %v", err)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			ServerLogger.Errorf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}

		sc := &serverConn{session: t.nextSession.Add(1), conn: conn}
		t.conns.Store(sc.session, sc)

		// Handle the connection in a goroutine
		t.connWg.Add(1)
		go t.handleConnection(sc)
	}
}

// handleConnection handles incoming requests for one connection
func (t *serverTransport) handleConnection(sc *serverConn) {
	defer t.connWg.Done()
	defer func() {
		t.conns.Delete(sc.session)
		sc.conn.Close()
	}()

	timeout := t.timeout()

	// The buffered channel acts as a counting semaphore
	workerSemaphore := make(chan struct{}, t.maxWorkersPerConn)

	// Create a wait group to wait for all workers to finish
	var wg sync.WaitGroup

	// Handler function that processes requests in worker goroutines
	handleResponse := func(requestID uint64, data []byte) {
		defer func() {
			<-workerSemaphore // Release semaphore slot
			wg.Done()         // Mark worker as done
		}()

		start := time.Now()
		resp := t.handler(sc.session, requestID, data)
		ServerLogger.Debugf("Processed request %d of session %d took %s", requestID, sc.session, time.Since(start))

		// nil means the request is not answered
		if resp == nil {
			return
		}

		// Write the response with the same requestID
		if err := sc.write(requestID, resp, timeout); err != nil {
			ServerLogger.Errorf("Failed to write response: %v", err)
		}
	}

	// Function to handle incoming requests
	handleRequest := func() error {
		if timeout > 0 {
			if err := sc.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				return fmt.Errorf("failed to set read deadline: %v", err)
			}
		}

		buf := t.bufferPool.Get().([]byte)

		_, requestID, data, err := readFrame(sc.conn, buf)
		if err != nil {
			t.bufferPool.Put(buf)
			return err
		}

		// Acquire a slot in the semaphore (blocks if maxWorkersPerConn is reached)
		workerSemaphore <- struct{}{}
		wg.Add(1)

		go func() {
			defer t.bufferPool.Put(buf)
			handleResponse(requestID, data)
		}()

		return nil
	}

	for {
		err := handleRequest()

		// Case EOF: Connection closed by client
		if err == io.EOF {
			ServerLogger.Infof("Session %d closed by client", sc.session)
			break
		}

		// Case error: log and close connection
		if err != nil {
			if !t.closed.Load() && !errors.Is(err, net.ErrClosed) {
				ServerLogger.Warningf("Closing session %d: %v", sc.session, err)
			}
			break
		}
	}

	// Wait for all workers to finish before closing the connection
	wg.Wait()
}
