package security

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCA_LoadGeneratesRootOnFirstUse(t *testing.T) {
	dir := t.TempDir()
	ca := New(dir)
	require.NoError(t, ca.Load())

	pool := ca.CertPool()
	assert.NotNil(t, pool)

	cert, err := ca.ServerCertificate()
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)
}

func TestCA_LoadIsIdempotentAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	first := New(dir)
	require.NoError(t, first.Load())
	firstServer, err := first.ServerCertificate()
	require.NoError(t, err)

	second := New(dir)
	require.NoError(t, second.Load())
	secondServer, err := second.ServerCertificate()
	require.NoError(t, err)

	assert.Equal(t, firstServer.Certificate[0], secondServer.Certificate[0])
}

func TestCA_IssueAndVerifyClientCertificate(t *testing.T) {
	dir := t.TempDir()
	ca := New(dir)
	require.NoError(t, ca.Load())

	clientCert, err := ca.IssueClientCertificate("tenant-a")
	require.NoError(t, err)
	require.NotEmpty(t, clientCert.Certificate)

	leaf, err := x509.ParseCertificate(clientCert.Certificate[0])
	require.NoError(t, err)

	cn, err := ca.VerifyClientCertificate(leaf)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", cn)
}

func TestCA_VerifyRejectsUnknownIssuer(t *testing.T) {
	dirA := t.TempDir()
	caA := New(dirA)
	require.NoError(t, caA.Load())

	dirB := t.TempDir()
	caB := New(dirB)
	require.NoError(t, caB.Load())

	foreignClient, err := caB.IssueClientCertificate("tenant-x")
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(foreignClient.Certificate[0])
	require.NoError(t, err)

	_, err = caA.VerifyClientCertificate(leaf)
	assert.Error(t, err)
}
