package connection

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
	"go.uber.org/multierr"
	"sync"
	"sync/atomic"
	"time"
)

var PoolLogger = logger.GetLogger("pool")

// --------------------------------------------------------------------------
// Pool state
// --------------------------------------------------------------------------

// PoolState is the lifecycle state of a pool
type PoolState int32

const (
	StateInitialized PoolState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateDisconnected
	// StateStopped is terminal, it is reachable from every state
	StateStopped
)

func (s PoolState) String() string {
	switch s {
	case StateInitialized:
		return "Initialized"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Stats is a snapshot of the pool accounting
type Stats struct {
	State PoolState
	Size  int
	// connections in the queue
	Available int
	// Size - Available
	Reserved int
	// tokens that currently hold a connection
	Bound int
	// callers blocked in Acquire
	Waiting int
}

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

// Pool owns a fixed number of connections and hands them out to tokens.
//
// Every connection is either in the available queue or bound to exactly one
// token. Acquire, Release, Connect and Disconnect share the pool lock, a fault
// teardown holds it exclusively.
type Pool struct {
	name        string
	url         *transport.ChannelURL
	kind        Kind
	config      common.PoolConfig
	connections []*Connection

	lock      sync.RWMutex
	state     atomic.Int32
	available chan *Connection
	reserved  *xsync.MapOf[Token, *Connection]
	// closed once the pool leaves Connected, wakes blocked acquires
	leaving     chan struct{}
	leaveOnce   sync.Once
	connectFail atomic.Bool
	waiting     atomic.Int64

	listenerMu sync.Mutex
	listener   ExceptionListener

	metrics *poolMetrics
}

// newPool creates the pool and its connections. With a shared channel all
// connections use the same channel, otherwise newChannel is called per connection.
func newPool(url *transport.ChannelURL, kind Kind, config common.PoolConfig, newChannel func() (transport.IChannel, error)) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		name:        fmt.Sprintf("%s/%s", url, kind),
		url:         url,
		kind:        kind,
		config:      config,
		connections: make([]*Connection, 0, config.PoolSize),
		available:   make(chan *Connection, config.PoolSize),
		reserved:    xsync.NewMapOf[Token, *Connection](),
		leaving:     make(chan struct{}),
	}
	p.state.Store(int32(StateInitialized))

	var shared transport.IChannel
	for i := 0; i < config.PoolSize; i++ {
		ch := shared
		if ch == nil {
			var err error
			if ch, err = newChannel(); err != nil {
				return nil, fmt.Errorf("failed to create channel for connection %d: %w", i, err)
			}
			if !config.UseDedicatedChannel {
				shared = ch
			}
		}

		conn, err := newConnection(i, kind, ch, p, config.Channel)
		if err != nil {
			return nil, err
		}
		p.connections = append(p.connections, conn)
		p.available <- conn
	}

	p.metrics = newPoolMetrics(p)
	PoolLogger.Infof("Created pool %s with %d connections (dedicated channels: %t)",
		p.name, config.PoolSize, config.UseDedicatedChannel)
	return p, nil
}

// Name identifies the pool in logs (url and kind)
func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) State() PoolState {
	return PoolState(p.state.Load())
}

func (p *Pool) Size() int {
	return len(p.connections)
}

// Connections returns all connections of the pool, reserved or not
func (p *Pool) Connections() []*Connection {
	out := make([]*Connection, len(p.connections))
	copy(out, p.connections)
	return out
}

// SetExceptionListener registers the listener called after a fault teardown.
// A nil listener removes it.
func (p *Pool) SetExceptionListener(listener ExceptionListener) {
	p.listenerMu.Lock()
	defer p.listenerMu.Unlock()
	p.listener = listener
}

// Stats returns a snapshot of the pool accounting
func (p *Pool) Stats() Stats {
	available := len(p.available)
	return Stats{
		State:     p.State(),
		Size:      len(p.connections),
		Available: available,
		Reserved:  len(p.connections) - available,
		Bound:     p.reserved.Size(),
		Waiting:   int(p.waiting.Load()),
	}
}

// Metrics returns the registry of this pool (acquire wait timer, timeouts, faults and gauges)
func (p *Pool) Metrics() gometrics.Registry {
	return p.metrics.registry
}

// Connect connects every connection in order. The first error is returned and the
// pool stays in Connecting, already connected connections are kept until Disconnect.
func (p *Pool) Connect(ctx context.Context) error {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if !p.state.CompareAndSwap(int32(StateInitialized), int32(StateConnecting)) {
		return common.NewIllegalStateError("connect pool", p.State())
	}

	start := time.Now()
	for _, c := range p.connections {
		if err := c.Connect(ctx); err != nil {
			p.connectFail.Store(true)
			PoolLogger.Errorf("Failed to connect pool %s: %v", p.name, err)
			return err
		}
	}

	if !p.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		return common.NewIllegalStateError("finish connect of pool", p.State())
	}
	PoolLogger.Infof("Pool %s connected in %s", p.name, time.Since(start))
	return nil
}

// Disconnect disconnects every connection and reclaims all reservations. It is
// allowed when the pool is Connected and after a failed Connect. Individual
// errors are aggregated, the pool ends in Disconnected either way.
func (p *Pool) Disconnect() error {
	p.lock.RLock()
	if !p.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		failedConnect := p.connectFail.Load() &&
			p.state.CompareAndSwap(int32(StateConnecting), int32(StateDisconnecting))
		if !failedConnect {
			p.lock.RUnlock()
			return common.NewIllegalStateError("disconnect pool", p.State())
		}
	}
	p.closeLeaving()

	var errs error
	for _, c := range p.connections {
		errs = multierr.Append(errs, c.Disconnect())
	}
	p.lock.RUnlock()

	// bindings made before the state change are dropped once no acquire is in flight
	p.lock.Lock()
	p.reclaimLocked()
	p.state.CompareAndSwap(int32(StateDisconnecting), int32(StateDisconnected))
	p.lock.Unlock()

	if errs != nil {
		PoolLogger.Warningf("Pool %s disconnected with errors: %v", p.name, errs)
	} else {
		PoolLogger.Infof("Pool %s disconnected", p.name)
	}
	return errs
}

// Stop moves the pool into the terminal state Stopped, closing all channels
func (p *Pool) Stop() error {
	p.lock.Lock()
	prev := PoolState(p.state.Swap(int32(StateStopped)))
	if prev == StateStopped {
		p.lock.Unlock()
		return nil
	}
	p.closeLeaving()

	var errs error
	if prev == StateConnecting || prev == StateConnected || prev == StateDisconnecting {
		for _, c := range p.connections {
			errs = multierr.Append(errs, c.forceDisconnect())
		}
	}
	p.reclaimLocked()
	p.lock.Unlock()

	PoolLogger.Infof("Pool %s stopped (was %s)", p.name, prev)
	return errs
}

// Acquire reserves a connection for token, waiting at most the configured
// reservation timeout. A token that already holds a connection gets it again.
func (p *Pool) Acquire(ctx context.Context, token Token) (*Connection, error) {
	return p.AcquireTimeout(ctx, token, time.Duration(p.config.ReserveTimeoutSecond)*time.Second)
}

// AcquireTimeout is Acquire with an explicit timeout. It fails with
// ErrReservationTimeout once the timeout elapsed, with ErrInterrupted if ctx is
// cancelled and with ErrIllegalState unless the pool is (and stays) Connected.
func (p *Pool) AcquireTimeout(ctx context.Context, token Token, timeout time.Duration) (*Connection, error) {
	start := time.Now()
	acquiresTotal.Inc()

	p.lock.RLock()
	if state := p.State(); state != StateConnected {
		p.lock.RUnlock()
		return nil, common.NewIllegalStateError("acquire connection", state)
	}
	if conn, ok := p.reserved.Load(token); ok {
		p.lock.RUnlock()
		return conn, nil
	}
	p.lock.RUnlock()

	// fast path without timer
	select {
	case conn := <-p.available:
		return p.bind(token, conn, start)
	default:
	}

	p.waiting.Add(1)
	defer p.waiting.Add(-1)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case conn := <-p.available:
		return p.bind(token, conn, start)
	case <-p.leaving:
		return nil, common.NewIllegalStateError("acquire connection", p.State())
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, p.timeoutError(timeout, ctx.Err())
		}
		return nil, fmt.Errorf("%w: acquire connection: %w", common.ErrInterrupted, ctx.Err())
	case <-timer.C:
		return nil, p.timeoutError(timeout, nil)
	}
}

// Release returns the connection bound to token to the queue. A nil conn
// releases whatever token holds. Releasing a connection the token does not hold
// fails with ErrNotReserved and changes nothing. A fault or Disconnect reclaims
// all reservations, releasing is a no-op then so holders can unwind. A stopped
// pool drops the binding but reports ErrIllegalState.
func (p *Pool) Release(token Token, conn *Connection) error {
	p.lock.RLock()
	defer p.lock.RUnlock()

	state := p.State()
	switch state {
	case StateInitialized, StateConnecting:
		return common.NewIllegalStateError("release connection", state)
	case StateDisconnecting, StateDisconnected:
		p.reserved.Delete(token)
		return nil
	case StateStopped:
		p.reserved.Delete(token)
		return common.NewIllegalStateError("release connection", state)
	}

	var released *Connection
	p.reserved.Compute(token, func(old *Connection, loaded bool) (*Connection, bool) {
		if !loaded || (conn != nil && old != conn) {
			// keep the current binding, deleting an absent key is a no-op
			return old, !loaded
		}
		released = old
		return nil, true
	})
	if released == nil {
		return fmt.Errorf("%w: %s by token %q", common.ErrNotReserved, describe(conn), token)
	}

	p.enqueue(released)
	releasesTotal.Inc()
	return nil
}

// --------------------------------------------------------------------------
// Fault handling
// --------------------------------------------------------------------------

// onFault tears the whole pool down: every connection is disconnected, every
// reservation reclaimed and the pool ends in Disconnected. The exception
// listener is called after the lock was released. Repeated faults (e.g. from
// all connections of a shared channel) are ignored once the pool is down.
func (p *Pool) onFault(cause error) {
	p.lock.Lock()
	state := p.State()
	if state != StateConnected && state != StateConnecting {
		p.lock.Unlock()
		PoolLogger.Debugf("Ignoring fault on pool %s in state %s: %v", p.name, state, cause)
		return
	}
	p.state.Store(int32(StateDisconnecting))
	p.closeLeaving()

	var errs error
	for _, c := range p.connections {
		errs = multierr.Append(errs, c.forceDisconnect())
	}
	p.reclaimLocked()
	p.state.Store(int32(StateDisconnected))
	p.lock.Unlock()

	faultsTotal.Inc()
	p.metrics.faults.Inc(1)
	PoolLogger.Errorf("Pool %s torn down after fault: %v", p.name, cause)
	if errs != nil {
		PoolLogger.Warningf("Errors while tearing down pool %s: %v", p.name, errs)
	}

	p.listenerMu.Lock()
	listener := p.listener
	p.listenerMu.Unlock()
	if listener != nil {
		listener.OnFault(p, cause)
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// bind records the reservation of conn, which was just taken from the queue
func (p *Pool) bind(token Token, conn *Connection, start time.Time) (*Connection, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if state := p.State(); state != StateConnected {
		p.enqueue(conn)
		return nil, common.NewIllegalStateError("acquire connection", state)
	}

	// a concurrent acquire with the same token won
	if actual, loaded := p.reserved.LoadOrStore(token, conn); loaded {
		p.enqueue(conn)
		return actual, nil
	}

	p.metrics.acquireWait.UpdateSince(start)
	acquireDuration.UpdateDuration(start)
	return conn, nil
}

// enqueue puts conn back without blocking. The queue has room for every
// connection, a full queue means conn is already queued.
func (p *Pool) enqueue(conn *Connection) {
	select {
	case p.available <- conn:
	default:
		PoolLogger.Debugf("Queue of pool %s is full, %s is already queued", p.name, conn)
	}
}

// reclaimLocked drops all bindings and refills the queue with every connection.
// The caller holds the exclusive lock.
func (p *Pool) reclaimLocked() {
	p.reserved.Clear()
drain:
	for {
		select {
		case <-p.available:
		default:
			break drain
		}
	}
	for _, c := range p.connections {
		p.available <- c
	}
}

func (p *Pool) closeLeaving() {
	p.leaveOnce.Do(func() {
		close(p.leaving)
	})
}

func (p *Pool) timeoutError(timeout time.Duration, cause error) error {
	timeoutsTotal.Inc()
	p.metrics.timeouts.Inc(1)
	if cause != nil {
		return fmt.Errorf("%w after %s: %w", common.ErrReservationTimeout, timeout, cause)
	}
	return fmt.Errorf("%w after %s", common.ErrReservationTimeout, timeout)
}

func describe(conn *Connection) string {
	if conn == nil {
		return "any connection"
	}
	return conn.String()
}
