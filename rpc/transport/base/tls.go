package base

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	"os"
)

// ClientTLSConfig builds the tls config for ssl and https channels
func ClientTLSConfig(conf common.TLSConf, host string) (*tls.Config, error) {
	serverName := conf.ServerName
	if serverName == "" {
		serverName = host
	}

	tlsConfig := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: conf.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	if conf.CAFile != "" {
		pem, err := os.ReadFile(conf.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", conf.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// ServerTLSConfig builds the tls config of a server. It returns nil if no certificate is configured.
func ServerTLSConfig(conf common.TLSConf) (*tls.Config, error) {
	if conf.CertFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(conf.CertFile, conf.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %v", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
