package connection

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"sync/atomic"
	"testing"
	"time"
)

func requireBalanced(t *testing.T, pool *Pool) {
	t.Helper()
	stats := pool.Stats()
	require.Equal(t, stats.Size, stats.Available+stats.Reserved)
	require.Equal(t, stats.Reserved, stats.Bound, "reserved connections must be bound to a token")
}

func TestPoolAccounting(t *testing.T) {
	for _, dedicated := range []bool{false, true} {
		for size := 1; size <= 5; size++ {
			t.Run(fmt.Sprintf("size=%d/dedicated=%t", size, dedicated), func(t *testing.T) {
				pool, channels := newConnectedPool(t, size, dedicated)
				ctx := context.Background()

				require.Equal(t, size, pool.Size())
				require.Len(t, pool.Connections(), size)
				if dedicated {
					require.Len(t, channels.all(), size)
				} else {
					require.Len(t, channels.all(), 1)
					require.Equal(t, size, channels.all()[0].getRefs())
				}
				requireBalanced(t, pool)

				held := map[Token]*Connection{}
				for i := 0; i < size; i++ {
					token := NewToken()
					conn, err := pool.Acquire(ctx, token)
					require.NoError(t, err)
					require.True(t, conn.Connected())
					for _, other := range held {
						require.NotSame(t, other, conn, "connection handed out twice")
					}
					held[token] = conn
					requireBalanced(t, pool)
				}
				require.Equal(t, 0, pool.Stats().Available)

				for token, conn := range held {
					require.NoError(t, pool.Release(token, conn))
					requireBalanced(t, pool)
				}
				require.Equal(t, size, pool.Stats().Available)
			})
		}
	}
}

func TestPoolReentrantAcquire(t *testing.T) {
	pool, _ := newConnectedPool(t, 2, false)
	ctx := context.Background()
	token := NewToken()

	first, err := pool.Acquire(ctx, token)
	require.NoError(t, err)
	second, err := pool.Acquire(ctx, token)
	require.NoError(t, err)
	require.Same(t, first, second)

	stats := pool.Stats()
	require.Equal(t, 1, stats.Reserved)
	require.Equal(t, 1, stats.Bound)

	// one release ends the reservation
	require.NoError(t, pool.Release(token, first))
	require.Equal(t, 2, pool.Stats().Available)
}

func TestPoolConcurrentReentrantAcquire(t *testing.T) {
	pool, _ := newConnectedPool(t, 4, true)
	token := Token("shared-token")

	var g errgroup.Group
	conns := make([]*Connection, 16)
	for i := range conns {
		i := i
		g.Go(func() error {
			conn, err := pool.Acquire(context.Background(), token)
			conns[i] = conn
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, conn := range conns {
		require.Same(t, conns[0], conn)
	}
	requireBalanced(t, pool)
	require.Equal(t, 1, pool.Stats().Bound)
}

func TestPoolAcquireBlocksUntilRelease(t *testing.T) {
	pool, _ := newConnectedPool(t, 1, false)
	ctx := context.Background()

	holder := NewToken()
	conn, err := pool.Acquire(ctx, holder)
	require.NoError(t, err)

	acquired := make(chan *Connection, 1)
	var g errgroup.Group
	g.Go(func() error {
		c, err := pool.AcquireTimeout(ctx, NewToken(), 5*time.Second)
		if err != nil {
			return err
		}
		acquired <- c
		return nil
	})

	require.Eventually(t, func() bool { return pool.Stats().Waiting == 1 }, time.Second, time.Millisecond)
	select {
	case <-acquired:
		t.Fatalf("Acquire must block while the pool is exhausted")
	default:
	}

	require.NoError(t, pool.Release(holder, conn))
	require.NoError(t, g.Wait())
	require.Same(t, conn, <-acquired)
}

func TestPoolAcquireTimeout(t *testing.T) {
	pool, _ := newConnectedPool(t, 1, false)
	ctx := context.Background()

	_, err := pool.Acquire(ctx, NewToken())
	require.NoError(t, err)

	timeout := 150 * time.Millisecond
	start := time.Now()
	_, err = pool.AcquireTimeout(ctx, NewToken(), timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, common.ErrReservationTimeout)
	require.GreaterOrEqual(t, elapsed, timeout)
	require.Less(t, elapsed, timeout+500*time.Millisecond)
	require.Equal(t, 0, pool.Stats().Waiting)

	timeouts, ok := pool.Metrics().Get("acquire.timeouts").(gometrics.Counter)
	require.True(t, ok)
	require.EqualValues(t, 1, timeouts.Count())
}

func TestPoolAcquireInterrupted(t *testing.T) {
	pool, _ := newConnectedPool(t, 1, false)

	_, err := pool.Acquire(context.Background(), NewToken())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err = pool.Acquire(ctx, NewToken())
	require.ErrorIs(t, err, common.ErrInterrupted)
	require.ErrorIs(t, err, context.Canceled)

	// a context deadline counts as reservation timeout
	ctx, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, err = pool.Acquire(ctx, NewToken())
	require.ErrorIs(t, err, common.ErrReservationTimeout)

	requireBalanced(t, pool)
}

func TestPoolOverRelease(t *testing.T) {
	pool, _ := newConnectedPool(t, 2, false)
	ctx := context.Background()

	owner := NewToken()
	conn, err := pool.Acquire(ctx, owner)
	require.NoError(t, err)

	// a token that holds nothing
	require.ErrorIs(t, pool.Release(NewToken(), conn), common.ErrNotReserved)

	// the owner releasing a connection it does not hold
	other := pool.Connections()[0]
	if other == conn {
		other = pool.Connections()[1]
	}
	require.ErrorIs(t, pool.Release(owner, other), common.ErrNotReserved)
	require.Equal(t, 1, pool.Stats().Bound)

	require.NoError(t, pool.Release(owner, conn))

	// double release
	require.ErrorIs(t, pool.Release(owner, conn), common.ErrNotReserved)
	require.ErrorIs(t, pool.Release(owner, nil), common.ErrNotReserved)

	stats := pool.Stats()
	require.Equal(t, 2, stats.Available)
	require.Equal(t, 0, stats.Bound)
}

func TestPoolStateMachine(t *testing.T) {
	pool, _ := newTestPool(t, 2, false)
	ctx := context.Background()
	token := NewToken()

	require.Equal(t, StateInitialized, pool.State())
	_, err := pool.Acquire(ctx, token)
	require.ErrorIs(t, err, common.ErrIllegalState)
	require.ErrorIs(t, pool.Release(token, nil), common.ErrIllegalState)
	require.ErrorIs(t, pool.Disconnect(), common.ErrIllegalState)

	require.NoError(t, pool.Connect(ctx))
	require.Equal(t, StateConnected, pool.State())
	require.ErrorIs(t, pool.Connect(ctx), common.ErrIllegalState)

	conn, err := pool.Acquire(ctx, token)
	require.NoError(t, err)

	require.NoError(t, pool.Disconnect())
	require.Equal(t, StateDisconnected, pool.State())
	require.False(t, conn.Connected())
	require.Equal(t, 0, pool.Stats().Bound)
	requireBalanced(t, pool)

	// reservations were reclaimed, releasing afterwards is a no-op
	require.NoError(t, pool.Release(token, conn))

	var illegal *common.IllegalStateError
	err = pool.Connect(ctx)
	require.ErrorAs(t, err, &illegal)
	require.Equal(t, "Disconnected", illegal.State)
	require.ErrorIs(t, pool.Disconnect(), common.ErrIllegalState)

	require.NoError(t, pool.Stop())
	require.Equal(t, StateStopped, pool.State())
	require.NoError(t, pool.Stop())
	_, err = pool.Acquire(ctx, token)
	require.ErrorIs(t, err, common.ErrIllegalState)
	require.ErrorIs(t, pool.Connect(ctx), common.ErrIllegalState)
}

func TestPoolConnectFailure(t *testing.T) {
	channels := newFakeChannelFactory()
	channels.failAt = 1
	factory := NewFactory(channels, common.DefaultPoolConfig())

	pool, err := factory.CreatePool("tcp://localhost:8222", KindConventional, testPoolConfig(3, true))
	require.NoError(t, err)
	defer pool.Stop()

	err = pool.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, StateConnecting, pool.State())

	// no rollback, the first connection stays connected until Disconnect
	require.True(t, pool.Connections()[0].Connected())
	require.False(t, pool.Connections()[1].Connected())

	require.ErrorIs(t, pool.Connect(context.Background()), common.ErrIllegalState)
	_, err = pool.Acquire(context.Background(), NewToken())
	require.ErrorIs(t, err, common.ErrIllegalState)

	require.NoError(t, pool.Disconnect())
	require.Equal(t, StateDisconnected, pool.State())
	require.False(t, pool.Connections()[0].Connected())
	require.EqualValues(t, 1, channels.all()[0].stops.Load())
}

func TestPoolInvalidConfig(t *testing.T) {
	factory := NewFactory(newFakeChannelFactory(), common.DefaultPoolConfig())

	_, err := factory.CreatePool("tcp://localhost", KindConventional, testPoolConfig(0, false))
	require.Error(t, err)

	cfg := testPoolConfig(1, false)
	cfg.ReserveTimeoutSecond = 0
	_, err = factory.CreatePool("tcp://localhost", KindConventional, cfg)
	require.Error(t, err)

	_, err = factory.CreatePool("gopher://localhost", KindConventional, nil)
	require.Error(t, err)
}

func TestPoolFaultTeardown(t *testing.T) {
	pool, channels := newConnectedPool(t, 3, false)
	ctx := context.Background()

	var notified atomic.Int32
	var lastErr atomic.Value
	var stateSeen atomic.Int32
	pool.SetExceptionListener(ExceptionListenerFunc(func(p *Pool, err error) {
		stateSeen.Store(int32(p.State()))
		notified.Add(1)
		lastErr.Store(err)
	}))

	held := make([]*Connection, 0, 3)
	for i := 0; i < 3; i++ {
		conn, err := pool.Acquire(ctx, NewToken())
		require.NoError(t, err)
		held = append(held, conn)
	}

	// a waiter is woken by the teardown
	waiterErr := make(chan error, 1)
	go func() {
		_, err := pool.AcquireTimeout(ctx, NewToken(), 5*time.Second)
		waiterErr <- err
	}()
	require.Eventually(t, func() bool { return pool.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	cause := errors.New("link lost")
	channels.all()[0].fault(cause)

	// every connection of the shared channel reports, the pool reacts once
	require.EqualValues(t, 1, notified.Load())
	require.ErrorIs(t, lastErr.Load().(error), cause)
	require.Equal(t, StateDisconnected, PoolState(stateSeen.Load()))
	require.Equal(t, StateDisconnected, pool.State())

	stats := pool.Stats()
	require.Equal(t, 0, stats.Bound)
	require.Equal(t, 3, stats.Available)
	for _, conn := range held {
		require.False(t, conn.Connected())
	}

	select {
	case err := <-waiterErr:
		require.ErrorIs(t, err, common.ErrIllegalState)
	case <-time.After(2 * time.Second):
		t.Fatalf("Blocked acquire was not woken by the fault")
	}

	faults, ok := pool.Metrics().Get("faults").(gometrics.Counter)
	require.True(t, ok)
	require.EqualValues(t, 1, faults.Count())
}

func TestPoolFaultRacesWithAcquireRelease(t *testing.T) {
	for _, dedicated := range []bool{false, true} {
		t.Run(fmt.Sprintf("dedicated=%t", dedicated), func(t *testing.T) {
			pool, channels := newConnectedPool(t, 4, dedicated)
			ctx := context.Background()

			var g errgroup.Group
			for w := 0; w < 16; w++ {
				token := Token(fmt.Sprintf("worker-%d", w))
				g.Go(func() error {
					for {
						conn, err := pool.AcquireTimeout(ctx, token, 20*time.Millisecond)
						switch {
						case errors.Is(err, common.ErrIllegalState):
							return nil
						case errors.Is(err, common.ErrReservationTimeout):
							continue
						case err != nil:
							return err
						}
						if _, err := conn.Execute(ctx, common.NewRequest("echo", nil)); err != nil &&
							!errors.Is(err, common.ErrIllegalState) && !errors.Is(err, common.ErrChannelClosed) {
							return err
						}
						if err := pool.Release(token, conn); err != nil {
							return err
						}
					}
				})
			}

			time.Sleep(30 * time.Millisecond)
			channels.all()[0].fault(errors.New("link lost"))
			require.NoError(t, g.Wait())

			require.Equal(t, StateDisconnected, pool.State())
			stats := pool.Stats()
			require.Equal(t, 0, stats.Bound)
			require.Equal(t, 4, stats.Available)
			require.Equal(t, 0, stats.Reserved)
		})
	}
}

func TestPoolStop(t *testing.T) {
	pool, channels := newConnectedPool(t, 3, true)

	token := NewToken()
	conn, err := pool.Acquire(context.Background(), token)
	require.NoError(t, err)

	require.NoError(t, pool.Stop())
	require.Equal(t, StateStopped, pool.State())
	require.False(t, conn.Connected())
	require.ErrorIs(t, pool.Release(token, conn), common.ErrIllegalState)
	require.Equal(t, 0, pool.Stats().Bound)
	for _, ch := range channels.all() {
		require.EqualValues(t, 1, ch.stops.Load())
	}

	// faults after stop are ignored
	var notified atomic.Bool
	pool.SetExceptionListener(ExceptionListenerFunc(func(*Pool, error) { notified.Store(true) }))
	channels.all()[0].fault(errors.New("late"))
	require.False(t, notified.Load())
	require.Equal(t, StateStopped, pool.State())
}

// Three callers take the whole pool, a fourth waits and gets the connection
// the first one hands back.
func TestPoolEndToEnd(t *testing.T) {
	pool, _ := newConnectedPool(t, 3, false)
	ctx := context.Background()

	tokens := []Token{"t1", "t2", "t3"}
	conns := make([]*Connection, len(tokens))
	for i, token := range tokens {
		start := time.Now()
		conn, err := pool.Acquire(ctx, token)
		require.NoError(t, err)
		require.Less(t, time.Since(start), 100*time.Millisecond)
		conns[i] = conn
	}

	result := make(chan *Connection, 1)
	var g errgroup.Group
	g.Go(func() error {
		conn, err := pool.Acquire(ctx, "t4")
		if err != nil {
			return err
		}
		result <- conn
		return nil
	})

	select {
	case <-result:
		t.Fatalf("Fourth acquire must block")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, pool.Release("t1", conns[0]))
	require.NoError(t, g.Wait())

	got := <-result
	require.Same(t, conns[0], got)

	reply, err := got.Execute(ctx, common.NewRequest("echo", []byte("hi")))
	require.NoError(t, err)
	require.Equal(t, "hi", string(reply.Payload))
	requireBalanced(t, pool)
}
