package tcp_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/serializer"
	"github.com/ValentinKolb/dConn/rpc/server"
	"github.com/ValentinKolb/dConn/rpc/transport"
	"github.com/ValentinKolb/dConn/rpc/transport/base"
	"github.com/ValentinKolb/dConn/rpc/transport/tcp"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func roundTrip(t *testing.T, rawURL string, cfg common.ChannelConfig) {
	t.Helper()
	u, err := transport.ParseURL(rawURL)
	if err != nil {
		t.Fatalf("Invalid url: %v", err)
	}

	factory := base.NewChannelFactory(serializer.NewBinarySerializer(), tcp.NewTCPClientConnector())
	ch, err := factory.CreateChannel(u, cfg)
	if err != nil {
		t.Fatalf("CreateChannel failed: %v", err)
	}
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

	reply, err := ch.SendRequest(ctx, common.NewRequest("echo", []byte("over tcp")))
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if string(reply.Payload) != "over tcp" {
		t.Fatalf("Unexpected payload %q", reply.Payload)
	}
}

func startServer(t *testing.T, config common.ServerConfig) net.Addr {
	t.Helper()
	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(2), serializer.NewBinarySerializer())
	addr, err := s.Start()
	if err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return addr
}

func TestTCPRoundTrip(t *testing.T) {
	addr := startServer(t, common.ServerConfig{
		Endpoint: "127.0.0.1:0",
		TCPConf:  common.TCPConf{TCPNoDelay: true, TCPKeepAliveSec: 30},
	})

	cfg := common.DefaultChannelConfig()
	cfg.PingIntervalSecond = 0
	cfg.TCPConf.TCPKeepAliveSec = 30
	roundTrip(t, "tcp://"+addr.String(), cfg)
}

func TestSSLRoundTrip(t *testing.T) {
	certFile, keyFile := writeSelfSignedCert(t)
	addr := startServer(t, common.ServerConfig{
		Endpoint: "127.0.0.1:0",
		TLSConf:  common.TLSConf{CertFile: certFile, KeyFile: keyFile},
	})

	cfg := common.DefaultChannelConfig()
	cfg.PingIntervalSecond = 0
	cfg.TLSConf = common.TLSConf{CAFile: certFile, ServerName: "localhost"}
	roundTrip(t, "ssl://"+addr.String(), cfg)
}

func TestSSLRejectsUnknownCA(t *testing.T) {
	certFile, keyFile := writeSelfSignedCert(t)
	addr := startServer(t, common.ServerConfig{
		Endpoint: "127.0.0.1:0",
		TLSConf:  common.TLSConf{CertFile: certFile, KeyFile: keyFile},
	})

	u, _ := transport.ParseURL("ssl://" + addr.String())
	cfg := common.DefaultChannelConfig()
	cfg.FTRetryCount = 1
	cfg.FTRetryIntervalMillisecond = 10

	ch := base.NewChannel(tcp.NewTCPClientConnector(), u, cfg, serializer.NewBinarySerializer())
	defer ch.Stop(true)
	if err := ch.Connect(context.Background()); err == nil {
		t.Fatalf("Expected connect to fail without trusted CA")
	}
}

// writeSelfSignedCert creates a certificate for localhost and 127.0.0.1
func writeSelfSignedCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate failed: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey failed: %v", err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return certFile, keyFile
}
