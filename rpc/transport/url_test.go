package transport

import (
	"github.com/ValentinKolb/dConn/rpc/common"
	"testing"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw      string
		proto    string
		user     string
		address  string
		wantErr  bool
		ftCount  int
		propKey  string
		propWant string
	}{
		{raw: "", proto: ProtoTCP, address: "localhost:8222"},
		{raw: "tcp://scott@foo.bar.com:8700", proto: ProtoTCP, user: "scott", address: "foo.bar.com:8700"},
		{raw: "tcp://8700", proto: ProtoTCP, address: "localhost:8700"},
		{raw: "tcp://db.local", proto: ProtoTCP, address: "db.local:8222"},
		{raw: "ssl://[::1]:9000", proto: ProtoSSL, address: "[::1]:9000"},
		{raw: "wss://example.org:443", proto: ProtoHTTPS, address: "example.org:443"},
		{raw: "unix:///tmp/dconn.sock", proto: ProtoUnix, address: "/tmp/dconn.sock"},
		{
			raw: "tcp://foo.bar.com:8700/{userID=scott;ftHosts=foo1.bar.com,foo2.bar.com:8701;sendSize=120}",
			proto: ProtoTCP, user: "scott", address: "foo.bar.com:8700",
			ftCount: 2, propKey: "sendsize", propWant: "120",
		},
		{raw: "ftp://host:1", wantErr: true},
		{raw: "host:1", wantErr: true},
		{raw: "tcp://host:notaport", wantErr: true},
		{raw: "tcp://host:1/{broken", wantErr: true},
		{raw: "unix://", wantErr: true},
	}

	for _, tt := range tests {
		u, err := ParseURL(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseURL(%q): expected error, got %+v", tt.raw, u)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseURL(%q): unexpected error: %v", tt.raw, err)
			continue
		}
		if u.Protocol != tt.proto {
			t.Errorf("ParseURL(%q): protocol %q, want %q", tt.raw, u.Protocol, tt.proto)
		}
		if u.User != tt.user {
			t.Errorf("ParseURL(%q): user %q, want %q", tt.raw, u.User, tt.user)
		}
		if u.Address() != tt.address {
			t.Errorf("ParseURL(%q): address %q, want %q", tt.raw, u.Address(), tt.address)
		}
		if len(u.FTURLs) != tt.ftCount {
			t.Errorf("ParseURL(%q): %d ft urls, want %d", tt.raw, len(u.FTURLs), tt.ftCount)
		}
		if tt.propKey != "" && u.Props[tt.propKey] != tt.propWant {
			t.Errorf("ParseURL(%q): prop %s=%q, want %q", tt.raw, tt.propKey, u.Props[tt.propKey], tt.propWant)
		}
	}
}

func TestFTEndpointsInherit(t *testing.T) {
	u, err := ParseURL("ssl://admin@primary:9000/{ftHosts=backup1:9001,backup2}")
	if err != nil {
		t.Fatalf("ParseURL failed: %v", err)
	}

	eps := u.Endpoints()
	if len(eps) != 3 {
		t.Fatalf("Expected 3 endpoints, got %d", len(eps))
	}
	if eps[0] != u {
		t.Errorf("First endpoint must be the primary url")
	}

	want := []string{"primary:9000", "backup1:9001", "backup2:8222"}
	for i, ep := range eps {
		if ep.Address() != want[i] {
			t.Errorf("Endpoint %d: address %q, want %q", i, ep.Address(), want[i])
		}
		if ep.Protocol != ProtoSSL || ep.User != "admin" {
			t.Errorf("Endpoint %d must inherit protocol and user, got %s", i, ep)
		}
	}
}

func TestApplyProps(t *testing.T) {
	u, err := ParseURL("tcp://bob@h:1/{ftRetryCount=5;ftRetryIntervalSeconds=2;connectTimeout=250;pingInterval=0;resendMode=raise}")
	if err != nil {
		t.Fatalf("ParseURL failed: %v", err)
	}

	cfg, err := u.Apply(common.DefaultChannelConfig())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if cfg.FTRetryCount != 5 {
		t.Errorf("FTRetryCount = %d, want 5", cfg.FTRetryCount)
	}
	if cfg.FTRetryIntervalMillisecond != 2000 {
		t.Errorf("FTRetryIntervalMillisecond = %d, want 2000", cfg.FTRetryIntervalMillisecond)
	}
	if cfg.ConnectTimeoutMillisecond != 250 {
		t.Errorf("ConnectTimeoutMillisecond = %d, want 250", cfg.ConnectTimeoutMillisecond)
	}
	if cfg.PingIntervalSecond != 0 {
		t.Errorf("PingIntervalSecond = %d, want 0", cfg.PingIntervalSecond)
	}
	if cfg.ResendMode != common.ReconnectAndRaiseException {
		t.Errorf("ResendMode = %s, want reconnect-and-raise", cfg.ResendMode)
	}
	if cfg.User != "bob" {
		t.Errorf("User = %q, want bob", cfg.User)
	}

	bad, _ := ParseURL("tcp://h:1/{ftRetryCount=many}")
	if _, err := bad.Apply(common.DefaultChannelConfig()); err == nil {
		t.Errorf("Expected error for non numeric ftRetryCount")
	}
}

func TestURLString(t *testing.T) {
	u, err := ParseURL("TCP://scott@Host:1234/{a=b}")
	if err != nil {
		t.Fatalf("ParseURL failed: %v", err)
	}
	if got := u.String(); got != "tcp://scott@Host:1234" {
		t.Errorf("String() = %q", got)
	}
}
