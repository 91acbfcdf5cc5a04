package session

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/cert"
)

// DefaultCertValidity mirrors lnd's self-signed TLS cert lifetime for the
// merchant's listening socket when no CA-issued cert is configured.
const DefaultCertValidity = 14 * 30 * 24 * time.Hour

// LoadOrCreateServerTLS loads the merchant's TLS cert/key pair from
// certPath/keyPath, generating a fresh self-signed certificate covering
// host if none exists yet -- the same flow lnd's server.go runs at startup
// via lightningnetwork/lnd/cert before listening.
func LoadOrCreateServerTLS(certPath, keyPath, host string) (*tls.Config, error) {
	if existing, _, err := cert.LoadCert(certPath, keyPath); err == nil {
		return &tls.Config{
			Certificates: []tls.Certificate{existing},
			MinVersion:   tls.VersionTLS12,
		}, nil
	}

	certBytes, keyBytes, err := cert.GenCertPair(
		"zkchannels merchant autogenerated cert",
		[]string{host},
		nil,
		false,
		false,
		DefaultCertValidity,
	)
	if err != nil {
		return nil, fmt.Errorf("session: generate tls cert: %w", err)
	}

	if err := cert.WriteCertPair(certPath, keyPath, certBytes, keyBytes); err != nil {
		return nil, fmt.Errorf("session: write tls cert: %w", err)
	}

	tlsCert, _, err := cert.LoadCert(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("session: load tls cert: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// LoadClientTLS builds a *tls.Config that pins the merchant's certificate
// file for the customer's dialer, the way a light client pins a known
// self-signed cert instead of trusting a public CA.
func LoadClientTLS(certPath string) (*tls.Config, error) {
	certBytes, err := cert.ReadCertPaths(certPath, "")
	if err != nil {
		return nil, fmt.Errorf("session: read pinned cert: %w", err)
	}
	pool, err := cert.LoadCertPool(certBytes)
	if err != nil {
		return nil, fmt.Errorf("session: build cert pool: %w", err)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
