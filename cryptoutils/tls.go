package cryptoutils

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/ruteri/pim-storage/interfaces"
)

// ClientTLSConfig builds the TLS configuration of an HTTP storage:
//
//   - verify=false disables certificate verification,
//   - verify="<path>" trusts only the CA bundle at path,
//   - verify_fingerprint pins the server leaf certificate and replaces chain
//     verification,
//   - auth_cert adds a client certificate.
func ClientTLSConfig(cfg interfaces.HTTPConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	switch {
	case cfg.VerifyFingerprint != "":
		fingerprint := cfg.VerifyFingerprint
		tlsConfig.InsecureSkipVerify = true
		tlsConfig.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("server presented no certificate")
			}
			return matchFingerprint(rawCerts[0], fingerprint)
		}
	case cfg.Verify.Insecure:
		tlsConfig.InsecureSkipVerify = true
	case cfg.Verify.CAPath != "":
		pemData, err := os.ReadFile(cfg.Verify.CAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.Verify.CAPath)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.AuthCert != "" {
		cert, err := LoadClientCertificate(cfg.AuthCert, cfg.AuthCertPassword)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
