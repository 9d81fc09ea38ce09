package transport

import (
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	"net"
	"strconv"
	"strings"
	"time"
)

const DefaultHost = "localhost"

// Canonical protocol names of a ChannelURL
const (
	ProtoTCP   = "tcp"
	ProtoSSL   = "ssl"
	ProtoUnix  = "unix"
	ProtoHTTP  = "http"
	ProtoHTTPS = "https"
)

// Property keys understood in the {key=value;...} part of a url (lower case)
const (
	PropUser            = "userid"
	PropFTHosts         = "fthosts"
	PropFTRetryCount    = "ftretrycount"
	PropFTRetryInterval = "ftretryintervalseconds"
	PropConnectTimeout  = "connecttimeout"
	PropPingInterval    = "pinginterval"
	PropResendMode      = "resendmode"
)

var protocolAliases = map[string]string{
	"tcp":   ProtoTCP,
	"ssl":   ProtoSSL,
	"tls":   ProtoSSL,
	"unix":  ProtoUnix,
	"http":  ProtoHTTP,
	"ws":    ProtoHTTP,
	"https": ProtoHTTPS,
	"wss":   ProtoHTTPS,
}

// ChannelURL addresses a server and optionally a list of fault tolerant
// alternatives. Syntax:
//
//	proto://[user@]host[:port][/{key=value;key=value...}]
//	unix://[user@]/path/to/socket[/{key=value...}]
type ChannelURL struct {
	Protocol string
	User     string
	Host     string
	Port     int
	// Socket path, only used for unix
	Path  string
	Props map[string]string
	// Alternate endpoints from the ftHosts property, they inherit protocol, user and props
	FTURLs []*ChannelURL
}

// ParseURL parses a channel url. An empty string yields tcp://localhost:8222.
func ParseURL(raw string) (*ChannelURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &ChannelURL{Protocol: ProtoTCP, Host: DefaultHost, Port: common.DefaultPort, Props: map[string]string{}}, nil
	}

	sep := strings.Index(raw, "://")
	if sep <= 0 {
		return nil, fmt.Errorf("invalid url %q: expected protocol://host:port/{name=value;...}", raw)
	}
	proto, ok := protocolAliases[strings.ToLower(raw[:sep])]
	if !ok {
		return nil, fmt.Errorf("invalid url %q: unsupported protocol %q", raw, raw[:sep])
	}
	u := &ChannelURL{Protocol: proto, Props: map[string]string{}}
	rest := raw[sep+3:]

	// properties
	if idx := strings.Index(rest, "{"); idx >= 0 {
		props := rest[idx:]
		rest = strings.TrimSuffix(rest[:idx], "/")
		if err := parseProps(props, u.Props); err != nil {
			return nil, fmt.Errorf("invalid url %q: %w", raw, err)
		}
	}

	// user
	if at := strings.Index(rest, "@"); at >= 0 {
		u.User = rest[:at]
		rest = rest[at+1:]
	}
	if user, ok := u.Props[PropUser]; ok && u.User == "" {
		u.User = user
	}

	if proto == ProtoUnix {
		if rest == "" {
			return nil, fmt.Errorf("invalid url %q: missing socket path", raw)
		}
		u.Path = rest
		return u, nil
	}

	host, port, err := parseHostPort(strings.TrimSuffix(rest, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	u.Host, u.Port = host, port

	if ftHosts := u.Props[PropFTHosts]; ftHosts != "" {
		for _, ft := range strings.Split(ftHosts, ",") {
			ft = strings.TrimSpace(ft)
			if ft == "" {
				continue
			}
			h, p, err := parseHostPort(ft)
			if err != nil {
				return nil, fmt.Errorf("invalid url %q: fault tolerant host %q: %w", raw, ft, err)
			}
			u.FTURLs = append(u.FTURLs, &ChannelURL{
				Protocol: u.Protocol,
				User:     u.User,
				Host:     h,
				Port:     p,
				Props:    u.Props,
			})
		}
	}

	return u, nil
}

// Address returns the dial address (host:port or the socket path)
func (u *ChannelURL) Address() string {
	if u.Protocol == ProtoUnix {
		return u.Path
	}
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// Endpoints returns the url itself followed by all fault tolerant alternatives
func (u *ChannelURL) Endpoints() []*ChannelURL {
	eps := make([]*ChannelURL, 0, 1+len(u.FTURLs))
	eps = append(eps, u)
	return append(eps, u.FTURLs...)
}

// String returns the url without properties
func (u *ChannelURL) String() string {
	var sb strings.Builder
	sb.WriteString(u.Protocol)
	sb.WriteString("://")
	if u.User != "" {
		sb.WriteString(u.User)
		sb.WriteString("@")
	}
	sb.WriteString(u.Address())
	return sb.String()
}

// Apply overrides the fields of config that are set in the url properties
func (u *ChannelURL) Apply(config common.ChannelConfig) (common.ChannelConfig, error) {
	intProp := func(key string, target *int, scale int) error {
		v, ok := u.Props[key]
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid value for %s: %q", key, v)
		}
		*target = n * scale
		return nil
	}

	if err := intProp(PropFTRetryCount, &config.FTRetryCount, 1); err != nil {
		return config, err
	}
	if err := intProp(PropFTRetryInterval, &config.FTRetryIntervalMillisecond, int(time.Second/time.Millisecond)); err != nil {
		return config, err
	}
	if err := intProp(PropConnectTimeout, &config.ConnectTimeoutMillisecond, 1); err != nil {
		return config, err
	}
	if err := intProp(PropPingInterval, &config.PingIntervalSecond, 1); err != nil {
		return config, err
	}
	if v, ok := u.Props[PropResendMode]; ok {
		mode, err := common.ParseResendMode(v)
		if err != nil {
			return config, err
		}
		config.ResendMode = mode
	}
	if u.User != "" {
		config.User = u.User
	}
	return config, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parseHostPort accepts host, host:port, [v6]:port and a bare port number
func parseHostPort(s string) (string, int, error) {
	if s == "" {
		return DefaultHost, common.DefaultPort, nil
	}

	var host, portStr string
	switch {
	case strings.HasPrefix(s, "["):
		end := strings.Index(s, "]")
		if end < 2 {
			return "", 0, fmt.Errorf("invalid or missing host name in %q", s)
		}
		host = s[1:end]
		if rest := s[end+1:]; rest != "" {
			if !strings.HasPrefix(rest, ":") {
				return "", 0, fmt.Errorf("invalid port in %q", s)
			}
			portStr = rest[1:]
		}
	case strings.Contains(s, ":"):
		var err error
		if host, portStr, err = net.SplitHostPort(s); err != nil {
			return "", 0, err
		}
	case isDigits(s):
		host, portStr = DefaultHost, s
	default:
		host = s
	}

	if host == "" {
		return "", 0, fmt.Errorf("invalid or missing host name in %q", s)
	}
	if portStr == "" {
		return host, common.DefaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid or missing port number in %q", s)
	}
	return host, port, nil
}

// parseProps parses {key=value;key=value} into props, keys are lower cased
func parseProps(s string, props map[string]string) error {
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return fmt.Errorf("malformed properties %q: must begin with { and end with }", s)
	}
	for _, kv := range strings.Split(s[1:len(s)-1], ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		idx := strings.IndexAny(kv, "=:")
		if idx <= 0 {
			return fmt.Errorf("malformed property %q: expected name=value", kv)
		}
		props[strings.ToLower(strings.TrimSpace(kv[:idx]))] = strings.TrimSpace(kv[idx+1:])
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
