package security

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertNeedsRotation(t *testing.T) {
	assert.True(t, CertNeedsRotation(nil))

	fresh := &x509.Certificate{NotAfter: time.Now().Add(89 * 24 * time.Hour)}
	assert.False(t, CertNeedsRotation(fresh))

	expiringSoon := &x509.Certificate{NotAfter: time.Now().Add(10 * 24 * time.Hour)}
	assert.True(t, CertNeedsRotation(expiringSoon))
}

func TestInfo(t *testing.T) {
	dir := t.TempDir()
	ca := New(dir)
	require.NoError(t, ca.Load())

	cert, err := ca.ServerCertificate()
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)

	info := Info(leaf)
	assert.Equal(t, "kestrel-server", info["subject"])
	assert.Equal(t, "Kestrel Root CA", info["issuer"])
}
