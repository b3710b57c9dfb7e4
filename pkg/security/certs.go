package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

// certRotationThreshold is how far out from expiry CertNeedsRotation
// starts reporting true, giving an operator a window to reissue
// before a certificate actually lapses.
const certRotationThreshold = 30 * 24 * time.Hour

func writeCertPEM(path string, der []byte) error {
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(path, block, 0644); err != nil {
		return fmt.Errorf("failed to write certificate %s: %w", path, err)
	}
	return nil
}

func writeKeyPEM(path string, key *rsa.PrivateKey) error {
	block := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, block, 0600); err != nil {
		return fmt.Errorf("failed to write private key %s: %w", path, err)
	}
	return nil
}

func decodeCertPEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}

func decodeKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode key PEM")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// CertNeedsRotation reports whether cert is within certRotationThreshold
// of expiry (or already expired), signaling the operator should reissue it.
func CertNeedsRotation(cert *x509.Certificate) bool {
	if cert == nil {
		return true
	}
	return time.Until(cert.NotAfter) < certRotationThreshold
}

// Info summarizes a certificate for Health/Metrics style introspection.
func Info(cert *x509.Certificate) map[string]any {
	if cert == nil {
		return map[string]any{"error": "certificate is nil"}
	}
	return map[string]any{
		"subject":    cert.Subject.CommonName,
		"issuer":     cert.Issuer.CommonName,
		"serial":     cert.SerialNumber.String(),
		"not_before": cert.NotBefore.Format(time.RFC3339),
		"not_after":  cert.NotAfter.Format(time.RFC3339),
		"is_ca":      cert.IsCA,
	}
}
