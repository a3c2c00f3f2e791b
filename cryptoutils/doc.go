// Package cryptoutils builds TLS configurations for the HTTP based storages.
//
// It covers the verification policies a calendar or address book server may
// need: the system roots, a private CA bundle, no verification at all, or a
// pinned leaf certificate fingerprint (SHA-256 or SHA-1, colons optional).
// Client certificates are loaded from PEM or PKCS#12 files.
//
// RandomCert creates a throwaway self-signed certificate for local servers
// and tests.
package cryptoutils
