package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// Root CA validity: 10 years.
	rootCAValidity = 10 * 365 * 24 * time.Hour
	// Server and client certificate validity: 90 days.
	leafCertValidity = 90 * 24 * time.Hour
	// Root CA key size: long-lived, so sized generously.
	rootKeySize = 4096
	// Leaf key size: short-lived, so sized for speed.
	leafKeySize = 2048

	caKeyFile     = "ca-key.pem"
	caCertFile    = "ca.pem"
	serverKeyFile = "server-key.pem"
	serverCert    = "server.pem"
)

// CA is Kestrel's certificate authority: one self-signed root, issuing
// a server certificate for the gateways and per-client certificates on
// request. All material lives under dir as PEM files (spec.md §6); CA
// holds the parsed certificate and key in memory once loaded.
type CA struct {
	dir string

	mu       sync.RWMutex
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
}

// New constructs a CA rooted at dir. Callers must call Load before
// issuing or verifying certificates.
func New(dir string) *CA {
	return &CA{dir: dir}
}

// Load reads the root CA from dir, generating and persisting a fresh
// one if none exists yet. Safe to call once at startup.
func (ca *CA) Load() error {
	if err := os.MkdirAll(ca.dir, 0700); err != nil {
		return fmt.Errorf("failed to create cert directory: %w", err)
	}

	certPath := filepath.Join(ca.dir, caCertFile)
	keyPath := filepath.Join(ca.dir, caKeyFile)

	if _, err := os.Stat(certPath); os.IsNotExist(err) {
		return ca.initialize()
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("failed to read CA key: %w", err)
	}

	cert, err := decodeCertPEM(certPEM)
	if err != nil {
		return fmt.Errorf("failed to decode CA certificate: %w", err)
	}
	key, err := decodeKeyPEM(keyPEM)
	if err != nil {
		return fmt.Errorf("failed to decode CA key: %w", err)
	}

	ca.mu.Lock()
	ca.rootCert, ca.rootKey = cert, key
	ca.mu.Unlock()
	return nil
}

// initialize generates a fresh root CA and persists it, then issues
// and persists the server certificate used by the gateways.
func (ca *CA) initialize() error {
	key, err := rsa.GenerateKey(rand.Reader, rootKeySize)
	if err != nil {
		return fmt.Errorf("failed to generate root key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Kestrel"},
			CommonName:   "Kestrel Root CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
		MaxPathLenZero:        false,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("failed to create root certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("failed to parse root certificate: %w", err)
	}

	if err := writeCertPEM(filepath.Join(ca.dir, caCertFile), der); err != nil {
		return err
	}
	if err := writeKeyPEM(filepath.Join(ca.dir, caKeyFile), key); err != nil {
		return err
	}

	ca.mu.Lock()
	ca.rootCert, ca.rootKey = cert, key
	ca.mu.Unlock()

	_, err = ca.issueAndPersist("kestrel-server", []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")},
		filepath.Join(ca.dir, serverCert), filepath.Join(ca.dir, serverKeyFile))
	return err
}

// ServerCertificate loads the persisted server certificate and key as
// a tls.Certificate ready for a listener's TLS config.
func (ca *CA) ServerCertificate() (tls.Certificate, error) {
	return tls.LoadX509KeyPair(filepath.Join(ca.dir, serverCert), filepath.Join(ca.dir, serverKeyFile))
}

// CertPool returns an x509.CertPool containing only the root CA, for
// verifying client certificates during mTLS handshakes.
func (ca *CA) CertPool() *x509.CertPool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	pool := x509.NewCertPool()
	if ca.rootCert != nil {
		pool.AddCert(ca.rootCert)
	}
	return pool
}

// IssueClientCertificate issues and persists a client certificate
// whose Common Name is clientID — the identity the RPC gateway's mTLS
// tenant-identification path (spec.md §6) reads back out of a
// presented certificate.
func (ca *CA) IssueClientCertificate(clientID string) (tls.Certificate, error) {
	certPath := filepath.Join(ca.dir, fmt.Sprintf("client-%s.pem", clientID))
	keyPath := filepath.Join(ca.dir, fmt.Sprintf("client-%s-key.pem", clientID))
	return ca.issueAndPersist(clientID, nil, nil, certPath, keyPath)
}

func (ca *CA) issueAndPersist(commonName string, dnsNames []string, ips []net.IP, certPath, keyPath string) (tls.Certificate, error) {
	ca.mu.RLock()
	rootCert, rootKey := ca.rootCert, ca.rootKey
	ca.mu.RUnlock()
	if rootCert == nil || rootKey == nil {
		return tls.Certificate{}, fmt.Errorf("CA not initialized")
	}

	key, err := rsa.GenerateKey(rand.Reader, leafKeySize)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate key for %s: %w", commonName, err)
	}
	serial, err := randomSerial()
	if err != nil {
		return tls.Certificate{}, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Kestrel"},
			CommonName:   commonName,
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(leafCertValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:    dnsNames,
		IPAddresses: ips,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, rootCert, &key.PublicKey, rootKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to issue certificate for %s: %w", commonName, err)
	}

	if err := writeCertPEM(certPath, der); err != nil {
		return tls.Certificate{}, err
	}
	if err := writeKeyPEM(keyPath, key); err != nil {
		return tls.Certificate{}, err
	}

	return tls.LoadX509KeyPair(certPath, keyPath)
}

// VerifyClientCertificate validates cert against the root CA and
// returns its Common Name, the tenant identity the RPC gateway trusts
// for mTLS-authenticated calls.
func (ca *CA) VerifyClientCertificate(cert *x509.Certificate) (string, error) {
	opts := x509.VerifyOptions{
		Roots:     ca.CertPool(),
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return "", fmt.Errorf("client certificate verification failed: %w", err)
	}
	return cert.Subject.CommonName, nil
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}
