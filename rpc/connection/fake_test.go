package connection

import (
	"context"
	"errors"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/response"
	"github.com/ValentinKolb/dConn/rpc/transport"
	"sync"
	"sync/atomic"
	"testing"
)

// --------------------------------------------------------------------------
// Fake channel
// --------------------------------------------------------------------------

// fakeChannel echoes every request and lets tests inject faults
type fakeChannel struct {
	mu         sync.Mutex
	state      transport.LinkState
	refs       int
	connectErr error
	handler    transport.ReceiveHandler
	listeners  []transport.FaultListener
	config     common.ChannelConfig

	connects atomic.Int32
	stops    atomic.Int32
}

func (f *fakeChannel) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connects.Add(1)
	f.refs++
	f.state = transport.Connected
	return nil
}

func (f *fakeChannel) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handler == nil {
		return common.NewIllegalStateError("start channel without receive handler", f.state)
	}
	return nil
}

func (f *fakeChannel) Stop(forceful bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.Connected {
		return nil
	}
	if !forceful && f.refs > 0 {
		return nil
	}
	f.refs = 0
	f.state = transport.Closed
	f.stops.Add(1)
	return nil
}

func (f *fakeChannel) Disconnect() error {
	f.mu.Lock()
	if f.refs > 0 {
		f.refs--
	}
	f.mu.Unlock()
	return f.Stop(false)
}

func (f *fakeChannel) Reconnect(context.Context) bool { return false }

func (f *fakeChannel) LinkState() transport.LinkState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) Send(*common.Message) (uint64, error) {
	if f.LinkState() != transport.Connected {
		return 0, common.ErrChannelClosed
	}
	return 1, nil
}

func (f *fakeChannel) SendRequest(_ context.Context, msg *common.Message) (*common.Message, error) {
	if f.LinkState() != transport.Connected {
		return nil, common.ErrChannelClosed
	}
	return common.NewResponse(msg.Payload), nil
}

func (f *fakeChannel) SendAsync(msg *common.Message, cb response.Callback) (uint64, error) {
	if f.LinkState() != transport.Connected {
		return 0, common.ErrChannelClosed
	}
	go cb(common.NewResponse(msg.Payload), nil)
	return 1, nil
}

func (f *fakeChannel) SetReceiveHandler(handler transport.ReceiveHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeChannel) AddFaultListener(listener transport.FaultListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, listener)
}

func (f *fakeChannel) Info() transport.ChannelInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return transport.ChannelInfo{State: f.state, Refs: f.refs}
}

func (f *fakeChannel) getRefs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs
}

// fault reports err to every listener, like a channel that failed to reconnect
func (f *fakeChannel) fault(err error) {
	f.mu.Lock()
	f.state = transport.Closed
	listeners := append([]transport.FaultListener(nil), f.listeners...)
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l transport.FaultListener) {
			defer wg.Done()
			l(err)
		}(l)
	}
	wg.Wait()
}

// fakeChannelFactory records every channel it creates
type fakeChannelFactory struct {
	mu       sync.Mutex
	channels []*fakeChannel
	// the channel with this index fails to connect (-1: none)
	failAt int
}

func newFakeChannelFactory() *fakeChannelFactory {
	return &fakeChannelFactory{failAt: -1}
}

func (f *fakeChannelFactory) CreateChannel(_ *transport.ChannelURL, config common.ChannelConfig) (transport.IChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := &fakeChannel{config: config}
	if len(f.channels) == f.failAt {
		ch.connectErr = errors.New("connection refused")
	}
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeChannelFactory) all() []*fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeChannel(nil), f.channels...)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func testPoolConfig(size int, dedicated bool) *common.PoolConfig {
	cfg := common.DefaultPoolConfig()
	cfg.PoolSize = size
	cfg.ReserveTimeoutSecond = 2
	cfg.UseDedicatedChannel = dedicated
	return &cfg
}

func newTestPool(t *testing.T, size int, dedicated bool) (*Pool, *fakeChannelFactory) {
	t.Helper()
	channels := newFakeChannelFactory()
	factory := NewFactory(channels, common.DefaultPoolConfig())

	pool, err := factory.CreatePool("tcp://localhost:8222", KindConventional, testPoolConfig(size, dedicated))
	if err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	t.Cleanup(func() { _ = pool.Stop() })
	return pool, channels
}

func newConnectedPool(t *testing.T, size int, dedicated bool) (*Pool, *fakeChannelFactory) {
	t.Helper()
	pool, channels := newTestPool(t, size, dedicated)
	if err := pool.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return pool, channels
}
