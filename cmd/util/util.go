package util

import (
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/connection"
	"github.com/ValentinKolb/dConn/rpc/serializer"
	"github.com/ValentinKolb/dConn/rpc/transport"
	"github.com/ValentinKolb/dConn/rpc/transport/base"
	"github.com/ValentinKolb/dConn/rpc/transport/tcp"
	"github.com/ValentinKolb/dConn/rpc/transport/unix"
	"github.com/ValentinKolb/dConn/rpc/transport/ws"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
	// EnvPrefix is the prefix of all environment variables read by dconn
	EnvPrefix = "dconn"
)

var Logger = logger.GetLogger("cmd")

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

// SetupPoolFlags adds the connection pool and channel flags to a command
func SetupPoolFlags(cmd *cobra.Command) {
	def := common.DefaultPoolConfig()

	key := "url"
	cmd.PersistentFlags().String(key, fmt.Sprintf("tcp://localhost:%d", common.DefaultPort), WrapString("The channel url of the server: proto://[user@]host[:port][/{key=value;...}] with proto one of tcp, ssl, unix, ws, wss"))

	key = "kind"
	cmd.PersistentFlags().String(key, "conventional", WrapString("The kind of the pooled connections (conventional, admin)"))

	key = "pool-size"
	cmd.PersistentFlags().Int(key, def.PoolSize, WrapString("Number of connections in the pool"))

	key = "reserve-timeout"
	cmd.PersistentFlags().Int(key, def.ReserveTimeoutSecond, WrapString("How long to wait for a free connection (in seconds)"))

	key = "dedicated-channel"
	cmd.PersistentFlags().Bool(key, def.UseDedicatedChannel, WrapString("Give every connection its own channel instead of sharing one"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, def.Channel.TimeoutSecond, WrapString("The timeout of a single request (in seconds, 0 disables it)"))

	key = "connect-timeout"
	cmd.PersistentFlags().Int(key, def.Channel.ConnectTimeoutMillisecond, WrapString("The timeout for establishing a link incl. the handshake (in milliseconds)"))

	key = "ft-retry-count"
	cmd.PersistentFlags().Int(key, def.Channel.FTRetryCount, WrapString("How many rounds over all fault tolerant endpoints a reconnect tries"))

	key = "ft-retry-interval"
	cmd.PersistentFlags().Int(key, def.Channel.FTRetryIntervalMillisecond, WrapString("Pause between two reconnect rounds (in milliseconds)"))

	key = "ping-interval"
	cmd.PersistentFlags().Int(key, def.Channel.PingIntervalSecond, WrapString("Keep alive ping interval (in seconds, 0 disables pings)"))

	key = "resend-mode"
	cmd.PersistentFlags().String(key, def.Channel.ResendMode.String(), WrapString("What happens to in-flight requests after a link fault (dont-reconnect-and-ignore, reconnect-and-resend, reconnect-and-raise, reconnect-and-ignore)"))

	key = "user"
	cmd.PersistentFlags().String(key, "", WrapString("The user announced during the handshake"))

	key = "write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, def.Channel.TCPConf.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY (tcp and ssl only)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, tcp and ssl only)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, def.Channel.TCPConf.TCPLingerSec, WrapString("The linger time (in seconds, tcp and ssl only, -1 keeps the os default)"))

	key = "tls-ca"
	cmd.PersistentFlags().String(key, "", WrapString("CA certificate used to verify the server (ssl and wss only)"))

	key = "tls-server-name"
	cmd.PersistentFlags().String(key, "", WrapString("Expected server name in the certificate (ssl and wss only)"))

	key = "tls-insecure"
	cmd.PersistentFlags().Bool(key, false, WrapString("Skip verification of the server certificate (ssl and wss only)"))
}

// --------------------------------------------------------------------------
// Config
// --------------------------------------------------------------------------

// InitConfig initializes configuration from env files, environment variables and an optional config file
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			Logger.Errorf("failed to read config file %s: %v", file, err)
		}
	}
}

// InitLogging sets the level of all dconn loggers from the log-level flag
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"))
}

// GetPoolConfig reads the pool configuration from viper
func GetPoolConfig() (*common.PoolConfig, error) {
	resendMode, err := common.ParseResendMode(viper.GetString("resend-mode"))
	if err != nil {
		return nil, err
	}

	conf := &common.PoolConfig{
		PoolSize:             viper.GetInt("pool-size"),
		ReserveTimeoutSecond: viper.GetInt("reserve-timeout"),
		UseDedicatedChannel:  viper.GetBool("dedicated-channel"),
		Channel: common.ChannelConfig{
			TimeoutSecond:              viper.GetInt("timeout"),
			ConnectTimeoutMillisecond:  viper.GetInt("connect-timeout"),
			FTRetryCount:               viper.GetInt("ft-retry-count"),
			FTRetryIntervalMillisecond: viper.GetInt("ft-retry-interval"),
			PingIntervalSecond:         viper.GetInt("ping-interval"),
			ResendMode:                 resendMode,
			User:                       viper.GetString("user"),
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPNoDelay:      viper.GetBool("tcp-nodelay"),
				TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("tcp-linger"),
			},
			TLSConf: common.TLSConf{
				InsecureSkipVerify: viper.GetBool("tls-insecure"),
				ServerName:         viper.GetString("tls-server-name"),
				CAFile:             viper.GetString("tls-ca"),
			},
		},
	}

	return conf, conf.Validate()
}

// GetURL returns the configured channel url
func GetURL() string {
	return viper.GetString("url")
}

// GetKind returns the configured connection kind
func GetKind() (connection.Kind, error) {
	return connection.ParseKind(viper.GetString("kind"))
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	switch viper.GetString("serializer") {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// GetChannelFactory creates a channel factory that knows every client connector
func GetChannelFactory() (transport.IChannelFactory, error) {
	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	return base.NewChannelFactory(
		s,
		tcp.NewTCPClientConnector(),
		unix.NewUnixClientConnector(),
		ws.NewWSClientConnector(),
	), nil
}

// GetConnectionFactory creates a connection factory using the configured pool settings as defaults
func GetConnectionFactory() (*connection.Factory, *common.PoolConfig, error) {
	config, err := GetPoolConfig()
	if err != nil {
		return nil, nil, err
	}
	channels, err := GetChannelFactory()
	if err != nil {
		return nil, nil, err
	}
	return connection.NewFactory(channels, *config), config, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
