// Package tlsutil builds the server-side tls.Config for the optional
// TLS/mTLS listener.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// NewConfigFromFiles builds a tls.Config from on-disk PEM files.
//
//   - certFile/keyFile: server certificate and private key (PEM).
//   - clientCAFile: optional CA bundle (PEM) used to verify client certs.
//   - requireClientCert: RequireAndVerifyClientCert vs VerifyClientCertIfGiven.
func NewConfigFromFiles(certFile, keyFile, clientCAFile string, requireClientCert bool) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("server cert and key files must be provided")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		ClientAuth:   tls.NoClientCert,
	}

	if clientCAFile == "" {
		if requireClientCert {
			return nil, fmt.Errorf("client certs required but no client CA file provided")
		}
		return cfg, nil
	}

	pool, err := loadCertPool(clientCAFile)
	if err != nil {
		return nil, err
	}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.VerifyClientCertIfGiven
	if requireClientCert {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

func loadCertPool(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read client CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("parse client CA bundle at %s", caFile)
	}
	return pool, nil
}
