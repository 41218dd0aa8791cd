package wtlink

import (
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// CertificateDigest is the SHA-256 digest of the DER encoding of the
// server leaf certificate, as used by WebTransport
// `serverCertificateHashes`.
type CertificateDigest [sha256.Size]byte

// DigestOf computes the digest of a DER-encoded certificate.
func DigestOf(der []byte) CertificateDigest {
	return sha256.Sum256(der)
}

// ParseCertificateDigest accepts a hex string, optionally colon
// separated as printed by `openssl x509 -fingerprint -sha256`.
func ParseCertificateDigest(s string) (CertificateDigest, error) {
	var d CertificateDigest
	raw, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(s), ":", ""))
	if err != nil {
		return d, fmt.Errorf("%w: %w", ErrNoCertificateDigest, err)
	}
	if len(raw) != len(d) {
		return d, fmt.Errorf("%w: expected %d bytes, got %d", ErrNoCertificateDigest, len(d), len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

func (d CertificateDigest) IsZero() bool {
	return d == CertificateDigest{}
}

func (d CertificateDigest) String() string {
	return hex.EncodeToString(d[:])
}

func (d CertificateDigest) LogValue() slog.Value {
	return slog.StringValue(d.String())
}

// PinnedVerifier returns a `tls.Config.VerifyPeerCertificate` hook
// accepting the connection only if the leaf certificate matches d.
//
// It replaces chain verification, so it MUST be used together with
// `InsecureSkipVerify`, which is what pinning means for WebTransport.
func PinnedVerifier(d CertificateDigest) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("%w: server presented no certificate", ErrCertificatePin)
		}
		got := DigestOf(rawCerts[0])
		if subtle.ConstantTimeCompare(got[:], d[:]) != 1 {
			return fmt.Errorf("%w: got %s", ErrCertificatePin, got)
		}
		return nil
	}
}
