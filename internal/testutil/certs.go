// Package testutil provides common testing utilities for ospd: a throwaway
// certificate authority with server and client certificates for mutual-TLS
// tests.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const certValidity = time.Hour

// Certs holds the PEM files of a test CA and the certificates it signed.
type Certs struct {
	CAFile         string
	ServerCertFile string
	ServerKeyFile  string
	ClientCertFile string
	ClientKeyFile  string

	// Signed by an unrelated CA; rejected by the daemon.
	RogueCertFile string
	RogueKeyFile  string
}

type keyPair struct {
	cert *x509.Certificate
	der  []byte
	key  *ecdsa.PrivateKey
}

// NewCerts writes a CA, a server certificate valid for 127.0.0.1 and
// localhost, a client certificate and a rogue client certificate into a
// temporary directory.
func NewCerts(t testing.TB) *Certs {
	t.Helper()
	dir := t.TempDir()

	ca := newCA(t, "ospd test CA")
	rogueCA := newCA(t, "rogue CA")

	server := issue(t, ca, "localhost", x509.ExtKeyUsageServerAuth)
	client := issue(t, ca, "ospd test client", x509.ExtKeyUsageClientAuth)
	rogue := issue(t, rogueCA, "rogue client", x509.ExtKeyUsageClientAuth)

	c := &Certs{
		CAFile:         filepath.Join(dir, "ca.pem"),
		ServerCertFile: filepath.Join(dir, "server.pem"),
		ServerKeyFile:  filepath.Join(dir, "server-key.pem"),
		ClientCertFile: filepath.Join(dir, "client.pem"),
		ClientKeyFile:  filepath.Join(dir, "client-key.pem"),
		RogueCertFile:  filepath.Join(dir, "rogue.pem"),
		RogueKeyFile:   filepath.Join(dir, "rogue-key.pem"),
	}

	writeCert(t, c.CAFile, ca.der)
	writeCert(t, c.ServerCertFile, server.der)
	writeKey(t, c.ServerKeyFile, server.key)
	writeCert(t, c.ClientCertFile, client.der)
	writeKey(t, c.ClientKeyFile, client.key)
	writeCert(t, c.RogueCertFile, rogue.der)
	writeKey(t, c.RogueKeyFile, rogue.key)
	return c
}

// ClientTLS returns a client configuration presenting certFile/keyFile and
// trusting the test CA.
func (c *Certs) ClientTLS(t testing.TB, certFile, keyFile string) *tls.Config {
	t.Helper()
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatalf("failed to load client key pair: %v", err)
	}
	caPEM, err := os.ReadFile(c.CAFile)
	if err != nil {
		t.Fatalf("failed to read CA: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caPEM)

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   "localhost",
		MinVersion:   tls.VersionTLS12,
	}
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func serial(t testing.TB) *big.Int {
	t.Helper()
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("failed to generate serial: %v", err)
	}
	return n
}

func newCA(t testing.TB, name string) *keyPair {
	t.Helper()
	key := newKey(t)
	tmpl := &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(certValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create CA certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse CA certificate: %v", err)
	}
	return &keyPair{cert: cert, der: der, key: key}
}

func issue(t testing.TB, ca *keyPair, name string, usage x509.ExtKeyUsage) *keyPair {
	t.Helper()
	key := newKey(t)
	tmpl := &x509.Certificate{
		SerialNumber: serial(t),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
	}
	if usage == x509.ExtKeyUsageServerAuth {
		tmpl.DNSNames = []string{"localhost"}
		tmpl.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	return &keyPair{der: der, key: key}
}

func writeCert(t testing.TB, path string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func writeKey(t testing.TB, path string, key *ecdsa.PrivateKey) {
	t.Helper()
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
