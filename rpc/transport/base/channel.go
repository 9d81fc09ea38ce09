package base

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/response"
	"github.com/ValentinKolb/dConn/rpc/serializer"
	"github.com/ValentinKolb/dConn/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("channel")

const (
	// how long Stop waits for the reader goroutine
	readerShutdownTimeout = 2 * time.Second
	readBufferSize        = 64 * 1024
)

var (
	requestsTotal   = metrics.GetOrCreateCounter(`dconn_channel_requests_total`)
	repliesTotal    = metrics.GetOrCreateCounter(`dconn_channel_replies_total`)
	faultsTotal     = metrics.GetOrCreateCounter(`dconn_channel_faults_total`)
	reconnectsTotal = metrics.GetOrCreateCounter(`dconn_channel_reconnects_total`)
	requestDuration = metrics.GetOrCreateHistogram(`dconn_channel_request_duration_seconds`)
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint. It must give up once ctx is done.
	Connect(ctx context.Context, endpoint *transport.ChannelURL, config common.ChannelConfig) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// Protocols returns the url protocols served by this connector
	Protocols() []string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ChannelConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// link is one physical connection of a channel
type link struct {
	conn     net.Conn
	endpoint *transport.ChannelURL
	// increases with every link of a channel, starts at 1
	gen uint64
	// closed by the reader goroutine of this link, nil until a reader runs
	done chan struct{}
}

// channel implements transport.IChannel independent of the specific
// transport medium (unix, tcp, websocket, etc.)
type channel struct {
	connector  IClientConnector
	serializer serializer.IRPCSerializer
	config     common.ChannelConfig
	url        *transport.ChannelURL
	endpoints  []*transport.ChannelURL
	// index of the endpoint the channel is (or was last) connected to
	endpointIdx atomic.Int32

	// mu protects link, refs, started, handler, listeners and runCtx
	mu        sync.Mutex
	link      *link
	refs      int
	started   bool
	handler   transport.ReceiveHandler
	listeners []transport.FaultListener
	runCtx    context.Context
	runCancel context.CancelFunc

	connectMu sync.Mutex // only one Connect dials at a time
	writeMu   sync.Mutex // serializes frame writes
	recoverMu sync.Mutex // only one fault recovery at a time

	state         atomic.Int32
	slots         *xsync.MapOf[uint64, *response.Slot]
	nextRequestID atomic.Uint64
	linkGen       atomic.Uint64

	clientID  string
	sessionID atomic.Int64
	authToken atomic.Int64
	version   atomic.Uint32

	// paces the rounds over the endpoint list
	limiter *rate.Limiter
}

// -----------------------------------------------------------
// Channel Factory Methods (used for tcp, unix, ws)
// -----------------------------------------------------------

// NewChannel creates a channel that reaches the endpoints of url through connector
func NewChannel(connector IClientConnector, url *transport.ChannelURL, config common.ChannelConfig, s serializer.IRPCSerializer) transport.IChannel {
	interval := time.Duration(config.FTRetryIntervalMillisecond) * time.Millisecond
	c := &channel{
		connector:  connector,
		serializer: s,
		config:     config,
		url:        url,
		endpoints:  url.Endpoints(),
		slots:      xsync.NewMapOf[uint64, *response.Slot](),
		clientID:   uuid.NewString(),
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		runCtx:     context.Background(),
	}
	c.state.Store(int32(transport.NotConnected))
	return c
}

type channelFactory struct {
	serializer serializer.IRPCSerializer
	connectors map[string]IClientConnector
}

// NewChannelFactory creates a factory that picks the connector by url protocol
func NewChannelFactory(s serializer.IRPCSerializer, connectors ...IClientConnector) transport.IChannelFactory {
	f := &channelFactory{
		serializer: s,
		connectors: make(map[string]IClientConnector),
	}
	for _, c := range connectors {
		for _, proto := range c.Protocols() {
			f.connectors[proto] = c
		}
	}
	return f
}

func (f *channelFactory) CreateChannel(url *transport.ChannelURL, config common.ChannelConfig) (transport.IChannel, error) {
	connector, ok := f.connectors[url.Protocol]
	if !ok {
		return nil, fmt.Errorf("no connector registered for protocol %q", url.Protocol)
	}
	cfg, err := url.Apply(config)
	if err != nil {
		return nil, fmt.Errorf("invalid url properties: %w", err)
	}
	return NewChannel(connector, url, cfg, f.serializer), nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IChannel)
// --------------------------------------------------------------------------

func (c *channel) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if joined, err := c.joinLink(); joined {
		return err
	}

	// c.mu is not held while dialing, Info and friends stay responsive
	l, err := c.tryRepeatConnect(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if state := c.LinkState(); state == transport.Closing || state == transport.Terminated {
		_ = l.conn.Close()
		return common.NewIllegalStateError("connect channel", state)
	}

	if c.runCancel != nil {
		c.runCancel()
	}
	c.link = l
	c.refs = 1
	c.started = false
	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	c.state.Store(int32(transport.Connected))

	Logger.Infof("Channel %s connected to %s using %s transport (session %d)",
		c.clientID, l.endpoint, c.connector.GetName(), c.sessionID.Load())
	return nil
}

// joinLink adds a reference if the channel already has a link. It reports
// whether Connect is done, with err set if the channel cannot be connected.
func (c *channel) joinLink() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch state := c.LinkState(); state {
	case transport.Connected, transport.FailedOnSend, transport.FailedOnRecv, transport.Reconnecting:
		c.refs++
		return true, nil
	case transport.Closing, transport.Terminated:
		return true, common.NewIllegalStateError("connect channel", state)
	}
	return false, nil
}

func (c *channel) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handler == nil {
		return &common.IllegalStateError{Op: "start channel without receive handler", State: c.LinkState().String()}
	}
	if c.started {
		return nil
	}
	if state := c.LinkState(); state != transport.Connected {
		return common.NewIllegalStateError("start channel", state)
	}
	c.started = true

	c.startReaderLocked(c.link)
	if c.config.PingIntervalSecond > 0 {
		go c.pingLoop(c.runCtx, time.Duration(c.config.PingIntervalSecond)*time.Second)
	}
	return nil
}

func (c *channel) Stop(forceful bool) error {
	c.mu.Lock()
	state := c.LinkState()
	// Closed without a cancelled run context is a link that failed to reconnect
	if state == transport.NotConnected || state == transport.Closing ||
		(state == transport.Closed && c.runCtx.Err() != nil) {
		c.mu.Unlock()
		return nil
	}
	if !forceful && c.refs > 0 {
		c.mu.Unlock()
		return nil
	}

	c.state.Store(int32(transport.Closing))
	c.refs = 0
	l := c.link
	c.link = nil
	if c.runCancel != nil {
		c.runCancel()
	}
	var done chan struct{}
	if l != nil {
		done = l.done
	}
	c.mu.Unlock()

	var err error
	if l != nil {
		if state != transport.Terminated {
			// best effort, the server drops the session either way
			bye := common.NewDisconnectRequest(c.sessionID.Load(), c.authToken.Load())
			if werr := c.writeOn(l, 0, bye); werr != nil {
				Logger.Debugf("Failed to announce disconnect to %s: %v", l.endpoint, werr)
			}
		}
		if cerr := l.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}

	if done != nil {
		select {
		case <-done:
		case <-time.After(readerShutdownTimeout):
			Logger.Warningf("Reader of channel %s did not stop within %s", c.clientID, readerShutdownTimeout)
		}
	}

	c.state.Store(int32(transport.Closed))
	c.failPending(response.StatusClosed, common.ErrChannelClosed)

	Logger.Infof("Channel %s closed (forceful: %t)", c.clientID, forceful)
	return err
}

func (c *channel) Disconnect() error {
	c.mu.Lock()
	if c.refs > 0 {
		c.refs--
	}
	remaining := c.refs
	c.mu.Unlock()

	if remaining > 0 {
		return nil
	}
	return c.Stop(false)
}

func (c *channel) Reconnect(ctx context.Context) bool {
	c.recoverMu.Lock()
	defer c.recoverMu.Unlock()

	switch c.LinkState() {
	case transport.NotConnected, transport.Closing, transport.Closed, transport.Terminated:
		return false
	}
	return c.relinkLocked(ctx, transport.Reconnecting, errors.New("reconnect requested"), true)
}

func (c *channel) LinkState() transport.LinkState {
	return transport.LinkState(c.state.Load())
}

func (c *channel) Send(msg *common.Message) (uint64, error) {
	if err := c.checkSendable("send"); err != nil {
		return 0, err
	}

	requestID := c.nextRequestID.Add(1)
	conn, endpoint, err := c.writeMessage(requestID, msg)
	if err != nil {
		if conn == nil {
			return 0, err
		}
		recovered, _ := c.handleLinkFault(conn, transport.FailedOnSend, err)
		return 0, c.linkFault(transport.FailedOnSend, endpoint, recovered, err)
	}
	return requestID, nil
}

func (c *channel) SendRequest(ctx context.Context, msg *common.Message) (*common.Message, error) {
	if err := c.checkSendable("send request"); err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok && c.config.TimeoutSecond > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.config.TimeoutSecond)*time.Second)
		defer cancel()
	}

	start := time.Now()
	requestsTotal.Inc()
	defer requestDuration.UpdateDuration(start)

	maxAttempts := c.config.FTRetryCount*len(c.endpoints) + 1
	attempts := 0

	requestID := c.nextRequestID.Add(1)
	slot := response.NewBlocking(requestID, msg)

	for {
		c.slots.Store(requestID, slot)

		conn, endpoint, err := c.writeMessage(requestID, msg)
		if err != nil {
			if conn == nil {
				c.slots.Delete(requestID)
				return nil, err
			}
			// a relink by this call already settled the slot
			recovered, relinked := c.handleLinkFault(conn, transport.FailedOnSend, err)
			if !relinked && slot.Status() == response.StatusWaiting {
				c.settle(slot, recovered, c.linkFault(transport.FailedOnSend, endpoint, recovered, err))
			}
		}

		status, err := slot.Await(ctx, response.NotWaiting)
		if err != nil {
			c.slots.Delete(requestID)
			_ = slot.Fail(response.StatusClosed, err)
			return nil, err
		}

		switch status {
		case response.StatusOk:
			reply := slot.Reply()
			replyErr := reply.Error()
			if errors.Is(replyErr, common.ErrRetryIO) && attempts < maxAttempts {
				attempts++
				Logger.Debugf("Server asked to retry request %d (attempt %d/%d)", requestID, attempts, maxAttempts)
				requestID = c.nextRequestID.Add(1)
				slot = response.NewBlocking(requestID, msg)
				continue
			}
			return reply, replyErr

		case response.StatusResend:
			attempts++
			if attempts > maxAttempts {
				c.slots.Delete(requestID)
				err := c.linkFault(c.LinkState(), "", true, fmt.Errorf("request %d not answered after %d resends", requestID, maxAttempts))
				_ = slot.Fail(response.StatusDisconnected, err)
				return nil, err
			}
			if err := slot.Reset(); err != nil {
				return slot.Reply(), slot.Err()
			}
			Logger.Debugf("Resending request %d after reconnect", requestID)

		default:
			if err := slot.Err(); err != nil {
				return nil, err
			}
			Logger.Warningf("Request %d dropped after link fault (resend mode %s)", requestID, c.config.ResendMode)
			return nil, nil
		}
	}
}

func (c *channel) SendAsync(msg *common.Message, cb response.Callback) (uint64, error) {
	if err := c.checkSendable("send async"); err != nil {
		return 0, err
	}

	requestsTotal.Inc()
	start := time.Now()
	requestID := c.nextRequestID.Add(1)
	slot := response.NewCallback(requestID, msg, func(reply *common.Message, err error) {
		requestDuration.UpdateDuration(start)
		if cb != nil {
			cb(reply, err)
		}
	})
	c.slots.Store(requestID, slot)

	l := c.currentLink()
	if l == nil {
		c.slots.Delete(requestID)
		return 0, common.ErrChannelClosed
	}
	slot.MarkSent(l.gen)

	if err := c.writeOn(l, requestID, msg); err != nil {
		var serErr *serializeError
		if errors.As(err, &serErr) {
			c.slots.Delete(requestID)
			return 0, serErr.err
		}
		// a relink (by this call or a concurrent one) may have resent the
		// request already, settle only writes it once per link
		recovered, relinked := c.handleLinkFault(l.conn, transport.FailedOnSend, err)
		if !relinked && slot.Status() == response.StatusWaiting {
			c.settle(slot, recovered, c.linkFault(transport.FailedOnSend, l.endpoint.String(), recovered, err))
		}
	}
	return requestID, nil
}

func (c *channel) SetReceiveHandler(handler transport.ReceiveHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *channel) AddFaultListener(listener transport.FaultListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
}

func (c *channel) Info() transport.ChannelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	endpoint := c.endpoints[c.endpointIdx.Load()].String()
	return transport.ChannelInfo{
		ClientID:        c.clientID,
		SessionID:       c.sessionID.Load(),
		AuthToken:       c.authToken.Load(),
		ProtocolVersion: uint16(c.version.Load()),
		Endpoint:        endpoint,
		State:           c.LinkState(),
		Refs:            c.refs,
	}
}

// --------------------------------------------------------------------------
// Connect Helper
// --------------------------------------------------------------------------

// tryRepeatConnect cycles through all endpoints, starting with the current one,
// for FTRetryCount rounds. Rounds are paced by the limiter.
func (c *channel) tryRepeatConnect(ctx context.Context) (*link, error) {
	rounds := c.config.FTRetryCount
	if rounds < 1 {
		rounds = 1
	}
	n := len(c.endpoints)
	first := int(c.endpointIdx.Load())

	var lastErr error
	for round := 0; round < rounds; round++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrConnectFailed, common.WaitError(ctx, "reconnect pause"))
		}

		for i := 0; i < n; i++ {
			idx := (first + i) % n
			ep := c.endpoints[idx]

			l, err := c.dial(ctx, ep)
			if err == nil {
				c.endpointIdx.Store(int32(idx))
				return l, nil
			}
			lastErr = err
			Logger.Warningf("Connect to %s failed (round %d/%d): %v", ep, round+1, rounds, err)

			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", common.ErrConnectFailed, common.WaitError(ctx, "connect"))
			}
		}
	}

	return nil, fmt.Errorf("%w: %d endpoint(s) in %d round(s): %w", common.ErrConnectFailed, n, rounds, lastErr)
}

// dial opens one physical connection and performs the handshake on it
func (c *channel) dial(ctx context.Context, ep *transport.ChannelURL) (*link, error) {
	if c.config.ConnectTimeoutMillisecond > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.config.ConnectTimeoutMillisecond)*time.Millisecond)
		defer cancel()
	}

	conn, err := c.connector.Connect(ctx, ep, c.config)
	if err != nil {
		return nil, err
	}

	if err := c.connector.UpgradeConnection(conn, c.config); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", ep, err)
	}

	if err := c.handshake(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &link{conn: conn, endpoint: ep, gen: c.linkGen.Add(1)}, nil
}

// handshake negotiates session id, auth token and protocol version before any reader runs on conn
func (c *channel) handshake(ctx context.Context, conn net.Conn) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
		defer conn.SetDeadline(time.Time{})
	}

	data, err := c.serializer.Serialize(*common.NewHandshakeRequest(c.clientID, c.config.User))
	if err != nil {
		return err
	}
	requestID := c.nextRequestID.Add(1)
	if err := writeFrame(conn, 0, requestID, data); err != nil {
		return fmt.Errorf("failed to send handshake: %w", err)
	}

	_, replyID, body, err := readFrame(conn, nil)
	if err != nil {
		return fmt.Errorf("failed to read handshake reply: %w", err)
	}
	if replyID != requestID {
		return fmt.Errorf("%w: reply for request %d, expected %d", common.ErrHandshake, replyID, requestID)
	}

	var reply common.Message
	if err := c.serializer.Deserialize(body, &reply); err != nil {
		return fmt.Errorf("failed to decode handshake reply: %w", err)
	}
	if err := reply.Error(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrHandshake, err)
	}
	if reply.MsgType != common.MsgTHandshake {
		return fmt.Errorf("%w: unexpected reply of type %s", common.ErrHandshake, reply.MsgType)
	}

	c.sessionID.Store(reply.SessionID)
	c.authToken.Store(reply.AuthToken)
	c.version.Store(uint32(reply.ProtocolVersion))
	return nil
}

// --------------------------------------------------------------------------
// Receive Helper
// --------------------------------------------------------------------------

// startReaderLocked launches the reader of l, c.mu must be held
func (c *channel) startReaderLocked(l *link) {
	l.done = make(chan struct{})
	go c.readLoop(l)
}

// readLoop reads frames until the link fails or is closed and dispatches them
func (c *channel) readLoop(l *link) {
	defer close(l.done)
	buf := make([]byte, readBufferSize)

	for {
		_, requestID, data, err := readFrame(l.conn, buf)
		if err != nil {
			if c.isCurrent(l) {
				c.handleLinkFault(l.conn, transport.FailedOnRecv, err)
			}
			return
		}

		msg := &common.Message{}
		if err := c.serializer.Deserialize(data, msg); err != nil {
			Logger.Errorf("Dropping undecodable frame for request %d from %s: %v", requestID, l.endpoint, err)
			continue
		}
		msg.RequestID = requestID

		if stop := c.dispatch(l, msg); stop {
			return
		}
	}
}

// dispatch routes one inbound message. It reports whether the reader has to stop.
func (c *channel) dispatch(l *link, msg *common.Message) bool {
	switch msg.MsgType {
	case common.MsgTPing:
		return false
	case common.MsgTSessionTerminated:
		c.terminate(l, msg)
		return true
	}

	if msg.RequestID != 0 {
		slot, ok := c.slots.LoadAndDelete(msg.RequestID)
		if !ok {
			Logger.Debugf("Dropping reply for unknown or abandoned request %d", msg.RequestID)
			return false
		}
		repliesTotal.Inc()
		if err := slot.Deliver(msg); err != nil {
			Logger.Debugf("Reply for request %d arrived too late: %v", msg.RequestID, err)
		}
		return false
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	if handler != nil {
		handler(msg)
	} else {
		Logger.Warningf("Dropping unsolicited %s message, no receive handler set", msg.MsgType)
	}
	return false
}

// terminate handles the server dropping the session
func (c *channel) terminate(l *link, msg *common.Message) {
	err := msg.Error()
	if err == nil {
		err = common.ErrSessionTerminated
	}

	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil
	c.state.Store(int32(transport.Terminated))
	c.mu.Unlock()

	Logger.Warningf("Session %d terminated by %s: %v", c.sessionID.Load(), l.endpoint, err)
	_ = l.conn.Close()

	faultsTotal.Inc()
	c.failPending(response.StatusDisconnected, err)
	c.notifyFault(err)
}

func (c *channel) pingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.LinkState().Usable() {
				continue
			}
			if conn, _, err := c.writeMessage(0, common.NewPingMessage()); err != nil && conn != nil {
				Logger.Debugf("Ping failed: %v", err)
				c.handleLinkFault(conn, transport.FailedOnSend, err)
			}
		}
	}
}

// --------------------------------------------------------------------------
// Fault Handling
// --------------------------------------------------------------------------

// handleLinkFault reacts to a failed read or write on failed. Only the first
// report of a broken link recovers and settles the pending requests (relinked),
// later reports see the replaced link and only learn whether it is usable.
func (c *channel) handleLinkFault(failed net.Conn, state transport.LinkState, cause error) (recovered, relinked bool) {
	c.recoverMu.Lock()
	defer c.recoverMu.Unlock()

	c.mu.Lock()
	current := c.link
	ctx := c.runCtx
	c.mu.Unlock()

	if current == nil || current.conn != failed {
		return c.LinkState().Usable(), false
	}
	return c.relinkLocked(ctx, state, cause, c.config.ResendMode.Reconnects()), true
}

// relinkLocked drops the current link, optionally reconnects and settles all
// pending requests according to the resend mode. c.recoverMu must be held.
func (c *channel) relinkLocked(ctx context.Context, state transport.LinkState, cause error, reconnect bool) bool {
	if !c.setStateUnlessStopping(state) {
		return false
	}
	faultsTotal.Inc()

	c.mu.Lock()
	old := c.link
	c.mu.Unlock()

	endpoint := ""
	if old != nil {
		endpoint = old.endpoint.String()
		_ = old.conn.Close()
	}
	Logger.Warningf("Link of channel %s to %s failed (%s): %v", c.clientID, endpoint, state, cause)

	recovered := false
	if reconnect {
		recovered = c.reconnectLocked(ctx)
	} else {
		c.mu.Lock()
		if c.link == old {
			c.link = nil
		}
		c.mu.Unlock()
		c.setStateUnlessStopping(transport.Closed)
	}

	fault := c.linkFault(state, endpoint, recovered, cause)
	c.slots.Range(func(_ uint64, slot *response.Slot) bool {
		c.settle(slot, recovered, fault)
		return true
	})

	if !recovered && !c.isStopping() {
		c.notifyFault(fault)
	}
	return recovered
}

// reconnectLocked replaces the current link by a fresh one. c.recoverMu must be held.
func (c *channel) reconnectLocked(ctx context.Context) bool {
	if !c.setStateUnlessStopping(transport.Reconnecting) {
		return false
	}

	l, err := c.tryRepeatConnect(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		Logger.Errorf("Channel %s could not reconnect: %v", c.clientID, err)
		if c.stoppingLocked() {
			return false
		}
		c.link = nil
		c.state.Store(int32(transport.Closed))
		return false
	}

	if c.stoppingLocked() {
		_ = l.conn.Close()
		return false
	}

	c.link = l
	c.state.Store(int32(transport.Connected))
	if c.started {
		c.startReaderLocked(l)
	}
	reconnectsTotal.Inc()

	Logger.Infof("Channel %s reconnected to %s (session %d)", c.clientID, l.endpoint, c.sessionID.Load())
	return true
}

// settle ends or re-arms a pending request after a link fault
func (c *channel) settle(slot *response.Slot, recovered bool, fault error) {
	mode := c.config.ResendMode

	switch {
	case recovered && mode == common.ReconnectAndResend:
		if slot.Mode() == response.ModeBlocking {
			// the sender retransmits once it sees Resend
			_ = slot.Signal(response.StatusResend)
			return
		}
		l := c.currentLink()
		if l == nil || !slot.MarkSent(l.gen) {
			return
		}
		if err := c.writeOn(l, slot.RequestID(), slot.Request()); err != nil {
			Logger.Warningf("Resend of async request %d failed: %v", slot.RequestID(), err)
		}

	case mode == common.ReconnectAndRaiseException, !recovered && mode.Reconnects():
		c.slots.Delete(slot.RequestID())
		_ = slot.Fail(response.StatusDisconnected, fault)

	default:
		c.slots.Delete(slot.RequestID())
		_ = slot.Fail(response.StatusClosed, nil)
	}
}

// failPending ends every pending request with status and err
func (c *channel) failPending(status response.Status, err error) {
	c.slots.Range(func(id uint64, slot *response.Slot) bool {
		c.slots.Delete(id)
		_ = slot.Fail(status, err)
		return true
	})
}

func (c *channel) notifyFault(err error) {
	c.mu.Lock()
	listeners := append([]transport.FaultListener(nil), c.listeners...)
	c.mu.Unlock()

	// listeners tear down whatever uses this channel, which may call Stop
	for _, listener := range listeners {
		go listener(err)
	}
}

func (c *channel) linkFault(state transport.LinkState, endpoint string, recovered bool, cause error) error {
	if endpoint == "" {
		endpoint = c.url.String()
	}
	return &common.LinkFaultError{
		State:       state.String(),
		Endpoint:    endpoint,
		Reconnected: recovered,
		Err:         cause,
	}
}

// --------------------------------------------------------------------------
// State Helper
// --------------------------------------------------------------------------

func (c *channel) setStateUnlessStopping(state transport.LinkState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stoppingLocked() {
		return false
	}
	c.state.Store(int32(state))
	return true
}

func (c *channel) stoppingLocked() bool {
	switch c.LinkState() {
	case transport.Closing, transport.Terminated:
		return true
	}
	return c.runCtx.Err() != nil
}

func (c *channel) isStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stoppingLocked()
}

func (c *channel) currentLink() *link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

func (c *channel) isCurrent(l *link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link == l
}

func (c *channel) checkSendable(op string) error {
	switch state := c.LinkState(); state {
	case transport.NotConnected, transport.Closing, transport.Closed:
		return common.NewIllegalStateError(op, state)
	case transport.Terminated:
		return fmt.Errorf("%w: %w", common.NewIllegalStateError(op, state), common.ErrSessionTerminated)
	}
	return nil
}

// --------------------------------------------------------------------------
// Write Helper
// --------------------------------------------------------------------------

// writeMessage serializes msg and writes it on the current link. A returned
// conn means the error is a link fault on that conn, otherwise the message
// could not be written at all.
func (c *channel) writeMessage(requestID uint64, msg *common.Message) (net.Conn, string, error) {
	l := c.currentLink()
	if l == nil {
		return nil, "", common.ErrChannelClosed
	}
	if err := c.writeOn(l, requestID, msg); err != nil {
		var serErr *serializeError
		if errors.As(err, &serErr) {
			return nil, "", serErr.err
		}
		return l.conn, l.endpoint.String(), err
	}
	return nil, "", nil
}

type serializeError struct{ err error }

func (e *serializeError) Error() string { return e.err.Error() }

func (c *channel) writeOn(l *link, requestID uint64, msg *common.Message) error {
	data, err := c.serializer.Serialize(*msg)
	if err != nil {
		return &serializeError{fmt.Errorf("failed to serialize %s message: %w", msg.MsgType, err)}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.TimeoutSecond > 0 {
		timeout := time.Duration(c.config.TimeoutSecond) * time.Second
		if err := l.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return writeFrame(l.conn, 0, requestID, data)
}
