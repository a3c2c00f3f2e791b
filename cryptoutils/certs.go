package cryptoutils

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// RandomCert generates a random self-signed certificate to use
// for https servers where chain of trust does not matter, for
// example when the server is running on localhost.
func RandomCert(hosts ...string) (tls.Certificate, error) {
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "pim-storage"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     hosts,
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	certASN1, err := x509.CreateCertificate(rand.Reader, template, template,
		privateKey.Public(), privateKey)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certASN1})

	privkeyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.X509KeyPair(certPEM, pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privkeyBytes,
	}))
}

// Fingerprint returns the lowercase hex SHA-256 fingerprint of a DER
// certificate.
func Fingerprint(certDER []byte) string {
	sum := sha256.Sum256(certDER)
	return hex.EncodeToString(sum[:])
}

// normalizeFingerprint strips colons and case so "AB:CD" matches "abcd".
func normalizeFingerprint(fp string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(fp), ":", ""))
}

// matchFingerprint compares a leaf certificate against a SHA-256 or SHA-1
// fingerprint, chosen by the fingerprint length.
func matchFingerprint(certDER []byte, fingerprint string) error {
	want := normalizeFingerprint(fingerprint)

	var got string
	switch len(want) {
	case sha256.Size * 2:
		got = Fingerprint(certDER)
	case sha1.Size * 2:
		sum := sha1.Sum(certDER)
		got = hex.EncodeToString(sum[:])
	default:
		return fmt.Errorf("unsupported fingerprint length %d", len(want))
	}

	if got != want {
		return fmt.Errorf("certificate fingerprint %s does not match %s", got, want)
	}
	return nil
}

// LoadClientCertificate reads a client certificate for TLS authentication.
// The file is either PKCS#12 (.p12, .pfx) protected by password, or PEM
// holding both the certificate chain and the private key.
func LoadClientCertificate(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read client certificate: %w", err)
	}

	if bytes.Contains(data, []byte("-----BEGIN")) {
		cert, err := tls.X509KeyPair(data, data)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to parse PEM client certificate: %w", err)
		}
		return cert, nil
	}

	key, leaf, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to decode PKCS#12 client certificate: %w", err)
	}
	if key == nil || leaf == nil {
		return tls.Certificate{}, errors.New("PKCS#12 bundle lacks a key or certificate")
	}

	return tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}
