package serve

import (
	"fmt"
	cmdUtil "github.com/ValentinKolb/dConn/cmd/util"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/server"
	"github.com/ValentinKolb/dConn/rpc/transport"
	"github.com/ValentinKolb/dConn/rpc/transport/tcp"
	"github.com/ValentinKolb/dConn/rpc/transport/unix"
	"github.com/ValentinKolb/dConn/rpc/transport/ws"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"syscall"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the dConn stub server",
		Long: `Start the stub frame server. It answers handshakes, pings, echo requests and admin commands (sessions, terminate, ping-all) and is meant for testing clients and pools.

The configuration can be set via command line flags or environment variables. The format of the environment variables is DCONN_<flag> (e.g. DCONN_PING_INTERVAL=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// add flags
	key := "transport"
	ServeCmd.PersistentFlags().String(key, "tcp", cmdUtil.WrapString("The transport to serve (tcp, unix, ws). Use tcp together with the tls flags to serve ssl:// and ws with the tls flags to serve wss://"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, fmt.Sprintf("0.0.0.0:%d", common.DefaultPort), cmdUtil.WrapString("The address on which the server will listen (e.g. localhost:8222, /tmp/dconn.sock, ...)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Read/write timeout per frame in seconds (0 disables it)"))

	key = "ping-interval"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Interval in seconds in which the server pings all sessions (0 disables it)"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, common.DefaultServerMaxWorkersInConn, cmdUtil.WrapString("Maximum number of requests processed concurrently per connection"))

	key = "write-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the socket write buffer (in KB)"))

	key = "read-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the socket read buffer (in KB)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (tcp only)"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval (in seconds, tcp only)"))

	key = "tls-cert"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Certificate file. If set together with tls-key the server only accepts TLS connections"))

	key = "tls-key"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Private key file of the certificate"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if err := cmdUtil.InitLogging(); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.TimeoutSecond = viper.GetInt("timeout")
	serveCmdConfig.PingIntervalSecond = viper.GetInt("ping-interval")
	serveCmdConfig.MaxWorkersPerConn = viper.GetInt("workers")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.SocketConf = common.SocketConf{
		WriteBufferSize: viper.GetInt("write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
	}
	serveCmdConfig.TCPConf = common.TCPConf{
		TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
		TCPLingerSec:    -1,
	}
	serveCmdConfig.TLSConf = common.TLSConf{
		CertFile: viper.GetString("tls-cert"),
		KeyFile:  viper.GetString("tls-key"),
	}

	if (serveCmdConfig.TLSConf.CertFile == "") != (serveCmdConfig.TLSConf.KeyFile == "") {
		return fmt.Errorf("tls-cert and tls-key must be set together")
	}
	if serveCmdConfig.MaxWorkersPerConn <= 0 {
		return fmt.Errorf("workers must be > 0, got %d", serveCmdConfig.MaxWorkersPerConn)
	}

	return nil
}

// run starts the stub server and blocks until it is closed
func run(_ *cobra.Command, _ []string) error {

	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	// Parse the transport
	var t transport.IRPCServerTransport
	switch viper.GetString("transport") {
	case "tcp":
		t = tcp.NewTCPServerTransport(serveCmdConfig.MaxWorkersPerConn)
	case "unix":
		t = unix.NewUnixServerTransport(serveCmdConfig.MaxWorkersPerConn)
	case "ws":
		t = ws.NewWSServerTransport(serveCmdConfig.MaxWorkersPerConn)
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	cmdUtil.Logger.Infof("starting server with config: %s", serveCmdConfig.String())

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
	)

	// close the server on SIGINT / SIGTERM so Serve returns
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		cmdUtil.Logger.Infof("shutting down server")
		if err := serv.Close(); err != nil {
			cmdUtil.Logger.Errorf("failed to close server: %v", err)
		}
	}()

	return serv.Serve()
}
