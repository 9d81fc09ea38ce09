package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultPort                   = 8222
	DefaultPoolSize               = 10
	DefaultReserveTimeoutSecond   = 10
	DefaultTimeoutSecond          = 10
	DefaultConnectTimeoutMs       = 1000
	DefaultFTRetryCount           = 3
	DefaultFTRetryIntervalMs      = 10 * 1000
	DefaultPingIntervalSecond     = 30
	DefaultServerMaxWorkersInConn = 16
)

// --------------------------------------------------------------------------
// Resend policy
// --------------------------------------------------------------------------

// ResendMode selects what a channel does with in-flight requests once it
// detects a link fault.
type ResendMode int

const (
	// DontReconnectAndIgnore closes the link and drops pending requests without error
	DontReconnectAndIgnore ResendMode = iota
	// ReconnectAndResend reconnects and retransmits pending requests on the new link
	ReconnectAndResend
	// ReconnectAndRaiseException reconnects and fails pending requests with a LinkFaultError
	ReconnectAndRaiseException
	// ReconnectAndIgnore reconnects and drops pending requests without error
	ReconnectAndIgnore
)

func (m ResendMode) String() string {
	switch m {
	case DontReconnectAndIgnore:
		return "dont-reconnect-and-ignore"
	case ReconnectAndResend:
		return "reconnect-and-resend"
	case ReconnectAndRaiseException:
		return "reconnect-and-raise"
	case ReconnectAndIgnore:
		return "reconnect-and-ignore"
	default:
		return "unknown"
	}
}

// Reconnects reports whether the mode re-establishes the link after a fault
func (m ResendMode) Reconnects() bool {
	return m != DontReconnectAndIgnore
}

// ParseResendMode converts the string form of a ResendMode back
func ParseResendMode(s string) (ResendMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dont-reconnect-and-ignore", "dontreconnectandignore":
		return DontReconnectAndIgnore, nil
	case "reconnect-and-resend", "reconnectandresend", "resend":
		return ReconnectAndResend, nil
	case "reconnect-and-raise", "reconnectandraiseexception", "raise":
		return ReconnectAndRaiseException, nil
	case "reconnect-and-ignore", "reconnectandignore", "ignore":
		return ReconnectAndIgnore, nil
	default:
		return DontReconnectAndIgnore, fmt.Errorf("invalid resend mode: %s (expected one of: dont-reconnect-and-ignore, reconnect-and-resend, reconnect-and-raise, reconnect-and-ignore)", s)
	}
}

// --------------------------------------------------------------------------
// Socket settings (shared by client and server)
// --------------------------------------------------------------------------

type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// TLSConf is used for ssl:// and https:// endpoints
type TLSConf struct {
	InsecureSkipVerify bool
	ServerName         string
	CAFile             string
	// server side only
	CertFile string
	KeyFile  string
}

// --------------------------------------------------------------------------
// Channel configuration struct
// --------------------------------------------------------------------------

// ChannelConfig holds the settings of a single network link to the server
type ChannelConfig struct {
	// Default timeout for a request if the caller's context carries no deadline (0 = none)
	TimeoutSecond int
	// Timeout for establishing one physical connection incl. handshake
	ConnectTimeoutMillisecond int
	// How many rounds over all fault tolerant endpoints a (re)connect tries
	FTRetryCount int
	// Pause between two rounds
	FTRetryIntervalMillisecond int
	// Keep alive ping interval (0 disables pings)
	PingIntervalSecond int
	ResendMode         ResendMode
	// User name announced during the handshake
	User string

	SocketConf SocketConf
	TCPConf    TCPConf
	TLSConf    TLSConf
}

// DefaultChannelConfig returns a ChannelConfig filled with the default values
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		TimeoutSecond:              DefaultTimeoutSecond,
		ConnectTimeoutMillisecond:  DefaultConnectTimeoutMs,
		FTRetryCount:               DefaultFTRetryCount,
		FTRetryIntervalMillisecond: DefaultFTRetryIntervalMs,
		PingIntervalSecond:         DefaultPingIntervalSecond,
		ResendMode:                 ReconnectAndResend,
		TCPConf: TCPConf{
			TCPNoDelay:   true,
			TCPLingerSec: -1,
		},
	}
}

// String returns a formatted string representation of the channel configuration
func (c *ChannelConfig) String() string {
	var sb strings.Builder
	c.writeTo(&sb)
	return sb.String()
}

func (c *ChannelConfig) writeTo(sb *strings.Builder) {
	addSection, addField := formatHelpers(sb)

	addSection("Channel")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Connect Timeout", fmt.Sprintf("%d ms", c.ConnectTimeoutMillisecond))
	addField("Resend Mode", c.ResendMode.String())
	addField("Ping Interval", fmt.Sprintf("%d sec", c.PingIntervalSecond))
	if c.User != "" {
		addField("User", c.User)
	}

	addSection("Fault Tolerance")
	addField("Retry Count", strconv.Itoa(c.FTRetryCount))
	addField("Retry Interval", fmt.Sprintf("%d ms", c.FTRetryIntervalMillisecond))

	addSection("Socket")
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.SocketConf.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.SocketConf.ReadBufferSize))
	addField("TCP NoDelay", strconv.FormatBool(c.TCPConf.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.TCPConf.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.TCPConf.TCPLingerSec))
	addField("TLS Skip Verify", strconv.FormatBool(c.TLSConf.InsecureSkipVerify))
}

// --------------------------------------------------------------------------
// Connection pool configuration struct
// --------------------------------------------------------------------------

// PoolConfig holds everything needed to build a connection pool
type PoolConfig struct {
	// Number of connections, fixed for the lifetime of the pool
	PoolSize int
	// How long Acquire waits for a free connection
	ReserveTimeoutSecond int
	// Whether every connection gets its own channel (default: all share one)
	UseDedicatedChannel bool

	Channel ChannelConfig
}

// DefaultPoolConfig returns a PoolConfig filled with the default values
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		PoolSize:             DefaultPoolSize,
		ReserveTimeoutSecond: DefaultReserveTimeoutSecond,
		Channel:              DefaultChannelConfig(),
	}
}

// Validate checks the required pool settings
func (c *PoolConfig) Validate() error {
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool size must be > 0, got %d", c.PoolSize)
	}
	if c.ReserveTimeoutSecond <= 0 {
		return fmt.Errorf("reservation timeout must be > 0 seconds, got %d", c.ReserveTimeoutSecond)
	}
	return nil
}

// String returns a formatted string representation of the pool configuration
func (c *PoolConfig) String() string {
	var sb strings.Builder
	addSection, addField := formatHelpers(&sb)

	addSection("Connection Pool")
	addField("Pool Size", strconv.Itoa(c.PoolSize))
	addField("Reserve Timeout", fmt.Sprintf("%d sec", c.ReserveTimeoutSecond))
	addField("Dedicated Channel", strconv.FormatBool(c.UseDedicatedChannel))

	c.Channel.writeTo(&sb)
	return sb.String()
}

// --------------------------------------------------------------------------
// Stub server configuration struct
// --------------------------------------------------------------------------

// ServerConfig configures the frame server used by `dconn serve` and the tests
type ServerConfig struct {
	// Address to listen on (host:port, socket path or host:port for ws)
	Endpoint string
	// Read/write timeout per frame (0 = none)
	TimeoutSecond int
	// Interval in which the server pings its sessions (0 disables pings)
	PingIntervalSecond int
	// Maximum concurrently processed requests per connection
	MaxWorkersPerConn int
	LogLevel          string

	SocketConf SocketConf
	TCPConf    TCPConf
	TLSConf    TLSConf
}

// String returns a formatted string representation of the server configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder
	addSection, addField := formatHelpers(&sb)

	addSection("Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Ping Interval", fmt.Sprintf("%d sec", c.PingIntervalSecond))
	addField("Workers Per Conn", strconv.Itoa(c.MaxWorkersPerConn))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	if c.TLSConf.CertFile != "" {
		addSection("TLS")
		addField("Certificate", c.TLSConf.CertFile)
		addField("Key", c.TLSConf.KeyFile)
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// formatHelpers returns the section and field writers shared by all String() methods
func formatHelpers(sb *strings.Builder) (func(string), func(string, string)) {
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}
	return addSection, addField
}
