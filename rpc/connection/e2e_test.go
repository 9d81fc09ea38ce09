package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/serializer"
	"github.com/ValentinKolb/dConn/rpc/server"
	"github.com/ValentinKolb/dConn/rpc/transport/base"
	"github.com/ValentinKolb/dConn/rpc/transport/tcp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"testing"
	"time"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	s := server.NewRPCServer(
		common.ServerConfig{Endpoint: "127.0.0.1:0", MaxWorkersPerConn: 8},
		tcp.NewTCPServerTransport(8),
		serializer.NewBinarySerializer(),
	)
	addr, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return "tcp://" + addr.String()
}

func newTCPFactory() *Factory {
	defaults := common.DefaultPoolConfig()
	defaults.PoolSize = 3
	defaults.ReserveTimeoutSecond = 2
	defaults.Channel.PingIntervalSecond = 0
	defaults.Channel.FTRetryCount = 1
	defaults.Channel.FTRetryIntervalMillisecond = 10

	channels := base.NewChannelFactory(serializer.NewBinarySerializer(), tcp.NewTCPClientConnector())
	return NewFactory(channels, defaults)
}

func TestPoolOverTCP(t *testing.T) {
	url := startTestServer(t)
	factory := newTCPFactory()
	ctx := context.Background()

	for _, dedicated := range []bool{false, true} {
		cfg := factory.defaults
		cfg.UseDedicatedChannel = dedicated
		pool, err := factory.CreatePool(url, KindConventional, &cfg)
		require.NoError(t, err)
		require.NoError(t, pool.Connect(ctx))

		var g errgroup.Group
		for w := 0; w < 12; w++ {
			w := w
			g.Go(func() error {
				token := NewToken()
				for i := 0; i < 20; i++ {
					conn, err := pool.Acquire(ctx, token)
					if err != nil {
						return err
					}
					payload := fmt.Sprintf("w%d-%d", w, i)
					reply, err := conn.Execute(ctx, common.NewRequest("echo", []byte(payload)))
					if err != nil {
						return err
					}
					if string(reply.Payload) != payload {
						return fmt.Errorf("expected %q, got %q", payload, reply.Payload)
					}
					if err := pool.Release(token, conn); err != nil {
						return err
					}
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		requireBalanced(t, pool)

		require.NoError(t, pool.Disconnect())
		for _, conn := range pool.Connections() {
			require.False(t, conn.Connected())
		}
	}
}

func TestPoolTornDownBySessionTermination(t *testing.T) {
	url := startTestServer(t)
	factory := newTCPFactory()
	ctx := context.Background()

	pool, err := factory.CreatePool(url, KindConventional, nil)
	require.NoError(t, err)
	defer pool.Stop()

	faults := make(chan error, 4)
	pool.SetExceptionListener(ExceptionListenerFunc(func(_ *Pool, err error) {
		faults <- err
	}))
	require.NoError(t, pool.Connect(ctx))

	conn, err := pool.Acquire(ctx, "victim")
	require.NoError(t, err)
	sessionID := conn.Info().SessionID

	admin, err := factory.CreateAdminConnection(url, nil)
	require.NoError(t, err)
	require.NoError(t, admin.Connect(ctx))
	defer admin.Disconnect()

	reply, err := admin.Admin(ctx, "sessions")
	require.NoError(t, err)
	var sessions []server.SessionInfo
	require.NoError(t, json.Unmarshal(reply.Payload, &sessions))
	require.Len(t, sessions, 2)

	_, err = admin.Admin(ctx, fmt.Sprintf("terminate %d maintenance", sessionID))
	require.NoError(t, err)

	select {
	case err := <-faults:
		require.ErrorIs(t, err, common.ErrSessionTerminated)
	case <-time.After(5 * time.Second):
		t.Fatalf("Exception listener not called")
	}

	require.Equal(t, StateDisconnected, pool.State())
	require.Equal(t, 0, pool.Stats().Bound)
	_, err = pool.Acquire(ctx, "victim")
	require.ErrorIs(t, err, common.ErrIllegalState)

	// the admin connection has its own channel and is unaffected
	_, err = admin.Admin(ctx, "ping-all")
	require.NoError(t, err)
}
