package agent

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultaai-agent/internal/testutil"
)

func writeSelfSigned(t *testing.T) (certPath, keyPath string, der []byte) {
	t.Helper()
	certPath, keyPath = testutil.WriteCertificate(t, t.TempDir())
	b, err := os.ReadFile(certPath)
	require.NoError(t, err)
	block, _ := pem.Decode(b)
	require.NotNil(t, block)
	return certPath, keyPath, block.Bytes
}

func TestTLSConfig_MutualTLS(t *testing.T) {
	t.Parallel()
	certPath, keyPath, _ := writeSelfSigned(t)

	cfg, err := TLSConfig(certPath, certPath, keyPath, "")
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.NotNil(t, cfg.RootCAs)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.Nil(t, cfg.VerifyPeerCertificate)
}

func TestTLSConfig_PinsServerCertificate(t *testing.T) {
	t.Parallel()
	certPath, keyPath, der := writeSelfSigned(t)
	sum := sha256.Sum256(der)
	fp := strings.ToUpper(hex.EncodeToString(sum[:]))

	cfg, err := TLSConfig(certPath, certPath, keyPath, fp)
	require.NoError(t, err)
	require.NotNil(t, cfg.VerifyPeerCertificate)

	assert.NoError(t, cfg.VerifyPeerCertificate([][]byte{der}, nil))
	assert.Error(t, cfg.VerifyPeerCertificate([][]byte{[]byte("other")}, nil))
	assert.Error(t, cfg.VerifyPeerCertificate(nil, nil))
}

func TestTLSConfig_Errors(t *testing.T) {
	t.Parallel()
	certPath, keyPath, _ := writeSelfSigned(t)
	notPEM := filepath.Join(t.TempDir(), "ca.crt")
	require.NoError(t, os.WriteFile(notPEM, []byte("junk"), 0o600))

	_, err := TLSConfig(certPath, certPath, filepath.Join(t.TempDir(), "missing.key"), "")
	assert.ErrorContains(t, err, "client cert/key")
	_, err = TLSConfig(filepath.Join(t.TempDir(), "missing.crt"), certPath, keyPath, "")
	assert.ErrorContains(t, err, "CA cert")
	_, err = TLSConfig(notPEM, certPath, keyPath, "")
	assert.ErrorContains(t, err, "no certificates")
}

func TestCertFingerprint(t *testing.T) {
	t.Parallel()
	certPath, _, der := writeSelfSigned(t)
	pemBytes, err := os.ReadFile(certPath)
	require.NoError(t, err)

	fp, err := CertFingerprint(pemBytes)
	require.NoError(t, err)
	sum := sha256.Sum256(der)
	assert.Equal(t, hex.EncodeToString(sum[:]), fp)
	assert.Equal(t, fp, normalizeFingerprint(strings.ToUpper(fp)))

	_, err = CertFingerprint([]byte("junk"))
	assert.Error(t, err)
}
