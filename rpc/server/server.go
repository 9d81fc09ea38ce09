package server

import (
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/serializer"
	"github.com/ValentinKolb/dConn/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"math/rand"
	"net"
	"os/signal"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("server")

var (
	serverRequestsTotal = metrics.GetOrCreateCounter(`dconn_server_requests_total`)
	serverSessionsTotal = metrics.GetOrCreateCounter(`dconn_server_sessions_total`)
)

// NewRPCServer creates a new frame server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(config.MaxWorkersPerConn),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		sessions:   xsync.NewMapOf[uint64, *Session](),
		adapters:   make(map[common.MessageType]IRPCServerAdapter),
		stop:       make(chan struct{}),
	}

	s.adapters[common.MsgTRequest] = NewRequestAdapter()
	s.adapters[common.MsgTAdmin] = NewAdminAdapter(s)

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())
	return s
}

// RPCServer serves the dConn frame protocol: handshake, ping, disconnect,
// requests and admin commands. It exists to run the connection core against
// a real peer and carries no database semantics.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	sessions   *xsync.MapOf[uint64, *Session]
	adapters   map[common.MessageType]IRPCServerAdapter
	stop       chan struct{}
	stopOnce   sync.Once
}

// RegisterAdapter replaces or adds the adapter for a message type. Call before Start.
func (s *RPCServer) RegisterAdapter(msgType common.MessageType, adapter IRPCServerAdapter) {
	s.adapters[msgType] = adapter
}

// Start starts the transport in the background and returns the listen address
func (s *RPCServer) Start() (net.Addr, error) {
	s.transport.RegisterHandler(s.handle)
	addr, err := s.transport.Start(s.config)
	if err != nil {
		return nil, err
	}
	if s.config.PingIntervalSecond > 0 {
		go s.pingLoop(time.Duration(s.config.PingIntervalSecond) * time.Second)
	}
	return addr, nil
}

// Serve starts the server and blocks until it is closed
func (s *RPCServer) Serve() error {
	if _, err := s.Start(); err != nil {
		return err
	}
	<-s.stop
	return nil
}

// Close stops the server and drops all sessions
func (s *RPCServer) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		err = s.transport.Close()
		s.sessions.Clear()
	})
	return err
}

// --------------------------------------------------------------------------
// Interface Methods (docu see ISessionManager)
// --------------------------------------------------------------------------

func (s *RPCServer) Sessions() []SessionInfo {
	infos := make([]SessionInfo, 0, s.sessions.Size())
	s.sessions.Range(func(_ uint64, session *Session) bool {
		infos = append(infos, session.Info())
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (s *RPCServer) Terminate(id uint64, reason string) error {
	if _, ok := s.sessions.LoadAndDelete(id); !ok {
		return fmt.Errorf("unknown session %d", id)
	}
	data, err := s.serializer.Serialize(*common.NewSessionTerminated(reason))
	if err != nil {
		return err
	}
	Logger.Infof("Terminating session %d: %s", id, reason)
	// the client closes its link once it received the message
	return s.transport.Push(id, data)
}

func (s *RPCServer) PingAll() int {
	data, err := s.serializer.Serialize(*common.NewPingMessage())
	if err != nil {
		return 0
	}

	reached := 0
	s.sessions.Range(func(id uint64, _ *Session) bool {
		if err := s.transport.Push(id, data); err != nil {
			Logger.Debugf("Dropping unreachable session %d: %v", id, err)
			s.sessions.Delete(id)
			return true
		}
		reached++
		return true
	})
	return reached
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *RPCServer) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.PingAll()
		}
	}
}

// handle is the transport handler, it returns nil for messages that are not answered
func (s *RPCServer) handle(sessionID uint64, _ uint64, req []byte) []byte {
	var msg common.Message
	if err := s.serializer.Deserialize(req, &msg); err != nil {
		return s.encode(common.NewErrorResponse(common.ErrTBadRequest, fmt.Errorf("failed to deserialize request: %w", err)))
	}
	serverRequestsTotal.Inc()

	resp := s.dispatch(sessionID, &msg)
	if resp == nil {
		return nil
	}
	return s.encode(resp)
}

func (s *RPCServer) dispatch(sessionID uint64, msg *common.Message) *common.Message {
	switch msg.MsgType {
	case common.MsgTHandshake:
		return s.handshake(sessionID, msg)
	case common.MsgTPing:
		return nil
	case common.MsgTDisconnect:
		if _, ok := s.sessions.LoadAndDelete(sessionID); ok {
			Logger.Infof("Session %d disconnected", sessionID)
		}
		return nil
	}

	session, ok := s.sessions.Load(sessionID)
	if !ok {
		return common.NewErrorResponse(common.ErrTHandshake, fmt.Errorf("no session established for link %d", sessionID))
	}
	session.requests.Add(1)

	adapter, ok := s.adapters[msg.MsgType]
	if !ok {
		return common.NewErrorResponse(common.ErrTUnsupported, fmt.Errorf("unsupported message type: %s", msg.MsgType))
	}
	return adapter.Handle(session, msg)
}

func (s *RPCServer) handshake(sessionID uint64, msg *common.Message) *common.Message {
	if msg.ProtocolVersion != common.ProtocolVersion {
		return common.NewErrorResponse(common.ErrTHandshake,
			fmt.Errorf("unsupported protocol version %d (server speaks %d)", msg.ProtocolVersion, common.ProtocolVersion))
	}

	session := &Session{
		ID:        sessionID,
		ClientID:  msg.ClientID,
		User:      msg.User,
		AuthToken: rand.Int63(),
		Since:     time.Now(),
	}
	s.sessions.Store(sessionID, session)
	serverSessionsTotal.Inc()

	Logger.Infof("Session %d established for client %s (user %q)", sessionID, msg.ClientID, msg.User)
	return common.NewHandshakeResponse(int64(sessionID), session.AuthToken, common.ProtocolVersion)
}

func (s *RPCServer) encode(msg *common.Message) []byte {
	data, err := s.serializer.Serialize(*msg)
	if err != nil {
		Logger.Errorf("Failed to serialize %s response: %v", msg.MsgType, err)
		data, _ = s.serializer.Serialize(*common.NewErrorResponse(common.ErrTGeneral, fmt.Errorf("failed to serialize response: %w", err)))
	}
	return data
}
