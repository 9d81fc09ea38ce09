package connection

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/response"
	"github.com/ValentinKolb/dConn/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger("connection")

// --------------------------------------------------------------------------
// Connection kinds
// --------------------------------------------------------------------------

// Kind selects the variant of a connection
type Kind int

const (
	// KindConventional connections issue requests
	KindConventional Kind = iota
	// KindAdmin connections additionally issue admin commands
	KindAdmin
)

func (k Kind) String() string {
	switch k {
	case KindConventional:
		return "conventional"
	case KindAdmin:
		return "admin"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts a kind name into a Kind
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "conventional":
		return KindConventional, nil
	case "admin":
		return KindAdmin, nil
	default:
		return 0, fmt.Errorf("unknown connection kind %q", s)
	}
}

// channelConfigFor adjusts the channel config to the needs of a kind.
// Admin commands are not idempotent, so they are never resent transparently.
func channelConfigFor(kind Kind, config common.ChannelConfig) common.ChannelConfig {
	if kind == KindAdmin && config.ResendMode == common.ReconnectAndResend {
		config.ResendMode = common.ReconnectAndRaiseException
	}
	return config
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// Connection is a logical session on one channel. It is the unit a Pool hands
// out. Several connections of one pool may share the same channel.
type Connection struct {
	id      int
	kind    Kind
	channel transport.IChannel
	pool    *Pool
	config  common.ChannelConfig

	// serializes Connect and Disconnect
	mu        sync.Mutex
	connected atomic.Bool
}

// newConnection creates the connection variant selected by kind
func newConnection(id int, kind Kind, channel transport.IChannel, pool *Pool, config common.ChannelConfig) (*Connection, error) {
	var c *Connection
	switch kind {
	case KindConventional:
		c = newConventionalConnection(id, channel, pool, config)
	case KindAdmin:
		c = newAdminConnection(id, channel, pool, config)
	default:
		return nil, fmt.Errorf("unknown connection kind %d", int(kind))
	}

	channel.SetReceiveHandler(c.onPush)
	channel.AddFaultListener(c.onChannelFault)
	return c, nil
}

func newConventionalConnection(id int, channel transport.IChannel, pool *Pool, config common.ChannelConfig) *Connection {
	return &Connection{
		id:      id,
		kind:    KindConventional,
		channel: channel,
		pool:    pool,
		config:  config,
	}
}

func newAdminConnection(id int, channel transport.IChannel, pool *Pool, config common.ChannelConfig) *Connection {
	return &Connection{
		id:      id,
		kind:    KindAdmin,
		channel: channel,
		pool:    pool,
		config:  channelConfigFor(KindAdmin, config),
	}
}

// ID returns the index of the connection in its pool
func (c *Connection) ID() int {
	return c.id
}

func (c *Connection) Kind() Kind {
	return c.kind
}

// Connected reports whether Connect succeeded and no disconnect happened since
func (c *Connection) Connected() bool {
	return c.connected.Load()
}

// LinkState returns the state of the underlying channel
func (c *Connection) LinkState() transport.LinkState {
	return c.channel.LinkState()
}

// Info returns the session negotiated by the underlying channel
func (c *Connection) Info() transport.ChannelInfo {
	return c.channel.Info()
}

func (c *Connection) String() string {
	return fmt.Sprintf("connection %d (%s)", c.id, c.kind)
}

// Connect connects and starts the channel. Connecting a connected connection is a no-op.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Load() {
		return nil
	}
	if err := c.channel.Connect(ctx); err != nil {
		return fmt.Errorf("%s: %w", c, err)
	}
	if err := c.channel.Start(); err != nil {
		_ = c.channel.Disconnect()
		return fmt.Errorf("%s: %w", c, err)
	}
	c.connected.Store(true)
	Logger.Debugf("%s connected (session %d)", c, c.channel.Info().SessionID)
	return nil
}

// Disconnect releases the channel. A shared channel is closed by its last connection.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Swap(false) {
		return nil
	}
	if err := c.channel.Disconnect(); err != nil {
		return fmt.Errorf("%s: %w", c, err)
	}
	return nil
}

// forceDisconnect closes the channel no matter how many connections use it
func (c *Connection) forceDisconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected.Store(false)
	if err := c.channel.Stop(true); err != nil {
		return fmt.Errorf("%s: %w", c, err)
	}
	return nil
}

// Execute sends a request and waits for the reply. Error replies are returned
// together with their typed error (see common.ServerError).
func (c *Connection) Execute(ctx context.Context, msg *common.Message) (*common.Message, error) {
	if err := c.checkConnected("execute request"); err != nil {
		return nil, err
	}
	return c.channel.SendRequest(ctx, msg)
}

// ExecuteAsync sends a request and hands the reply to cb. It never blocks on the reply.
func (c *Connection) ExecuteAsync(msg *common.Message, cb response.Callback) (uint64, error) {
	if err := c.checkConnected("execute async request"); err != nil {
		return 0, err
	}
	return c.channel.SendAsync(msg, cb)
}

// Ping writes a keep-alive frame. The server does not answer it.
func (c *Connection) Ping() error {
	if err := c.checkConnected("ping"); err != nil {
		return err
	}
	_, err := c.channel.Send(common.NewPingMessage())
	return err
}

// Admin runs an admin command, only admin connections support it
func (c *Connection) Admin(ctx context.Context, command string) (*common.Message, error) {
	if c.kind != KindAdmin {
		return nil, fmt.Errorf("%w: admin on %s", common.ErrWrongConnectionKind, c)
	}
	if err := c.checkConnected("run admin command"); err != nil {
		return nil, err
	}
	return c.channel.SendRequest(ctx, common.NewAdminRequest(command))
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *Connection) checkConnected(op string) error {
	if !c.connected.Load() {
		return &common.IllegalStateError{Op: op, State: "disconnected"}
	}
	return nil
}

func (c *Connection) onPush(msg *common.Message) {
	Logger.Debugf("%s received unsolicited %s message", c, msg.MsgType)
}

// onChannelFault forwards faults the channel could not recover from to the pool
func (c *Connection) onChannelFault(err error) {
	if !c.connected.Load() {
		return
	}
	if c.pool == nil {
		Logger.Warningf("%s lost its channel: %v", c, err)
		c.connected.Store(false)
		return
	}
	c.pool.onFault(err)
}
