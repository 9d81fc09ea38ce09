package unix_test

import (
	"context"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/serializer"
	"github.com/ValentinKolb/dConn/rpc/server"
	"github.com/ValentinKolb/dConn/rpc/transport"
	"github.com/ValentinKolb/dConn/rpc/transport/base"
	"github.com/ValentinKolb/dConn/rpc/transport/unix"
	"path/filepath"
	"testing"
	"time"
)

func TestUnixRoundTrip(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "dconn.sock")

	s := server.NewRPCServer(common.ServerConfig{Endpoint: socket}, unix.NewUnixServerTransport(2), serializer.NewBinarySerializer())
	if _, err := s.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer s.Close()

	u, err := transport.ParseURL("unix://" + socket)
	if err != nil {
		t.Fatalf("Invalid url: %v", err)
	}
	cfg := common.DefaultChannelConfig()
	cfg.PingIntervalSecond = 0
	cfg.SocketConf = common.SocketConf{WriteBufferSize: 64 * 1024, ReadBufferSize: 64 * 1024}

	ch := base.NewChannel(unix.NewUnixClientConnector(), u, cfg, serializer.NewBinarySerializer())
	ch.SetReceiveHandler(func(*common.Message) {})
	defer ch.Stop(true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := ch.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for _, payload := range []string{"a", "bb", string(make([]byte, 32*1024))} {
		reply, err := ch.SendRequest(ctx, common.NewRequest("echo", []byte(payload)))
		if err != nil {
			t.Fatalf("SendRequest failed: %v", err)
		}
		if string(reply.Payload) != payload {
			t.Fatalf("Payload of %d bytes not echoed", len(payload))
		}
	}

	if got := len(s.Sessions()); got != 1 {
		t.Errorf("Expected 1 session, got %d", got)
	}
}
