package validation

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/gatewaysetup/pkg/config"
)

var certNow = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

// writeCertificate writes a self-signed certificate valid until notAfter
// and returns the certificate and key paths.
func writeCertificate(t *testing.T, notAfter time.Time) (string, string) {
	t.Helper()
	dir := t.TempDir()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "gateway.local"},
		NotBefore:    notAfter.AddDate(-1, 0, 0),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "fullchain.pem")
	keyPath := filepath.Join(dir, "privkey.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestCertificatesCheck(t *testing.T) {
	valid, validKey := writeCertificate(t, certNow.AddDate(1, 0, 0))
	expiring, expiringKey := writeCertificate(t, certNow.AddDate(0, 0, 10))
	expired, expiredKey := writeCertificate(t, certNow.AddDate(0, 0, -1))
	_, otherKey := writeCertificate(t, certNow.AddDate(1, 0, 0))
	missing := filepath.Join(t.TempDir(), "absent.pem")

	tests := []struct {
		name    string
		certs   config.CertificatesConfig
		fields  []string
		message string
	}{
		{name: "not configured", certs: config.CertificatesConfig{}},
		{name: "valid", certs: config.CertificatesConfig{CertFile: valid, KeyFile: validKey}},
		{
			name:    "both missing",
			certs:   config.CertificatesConfig{CertFile: missing, KeyFile: missing},
			fields:  []string{"certificates.cert_file", "certificates.key_file"},
			message: "absent.pem not found",
		},
		{
			name:    "key not set",
			certs:   config.CertificatesConfig{CertFile: valid},
			fields:  []string{"certificates.key_file"},
			message: "certificates.key_file is not set",
		},
		{
			name:    "mismatched key",
			certs:   config.CertificatesConfig{CertFile: valid, KeyFile: otherKey},
			fields:  []string{"certificates"},
			message: "unusable certificate",
		},
		{
			name:    "expiring",
			certs:   config.CertificatesConfig{CertFile: expiring, KeyFile: expiringKey},
			fields:  []string{"certificates.cert_file"},
			message: "expires on 2026-10-11",
		},
		{
			name:    "expired",
			certs:   config.CertificatesConfig{CertFile: expired, KeyFile: expiredKey},
			fields:  []string{"certificates.cert_file"},
			message: "expired on 2026-09-30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := CertificatesCheck(tt.certs, func() time.Time { return certNow }).Run(context.Background())
			assert.Empty(t, failures(findings), "certificate problems never fail pre-flight")

			if tt.fields == nil {
				require.Len(t, findings, 1)
				assert.Equal(t, SeverityPass, findings[0].Severity)
				return
			}
			assert.Equal(t, tt.fields, fields(findings))
			for _, f := range findings {
				assert.Equal(t, SeverityWarn, f.Severity)
				assert.NotEmpty(t, f.Remediation)
			}
			assert.Contains(t, findings[0].Message, tt.message)
		})
	}
}

func TestPortsCheck_ReportsEveryBusyPort(t *testing.T) {
	first, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer first.Close()
	second, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer second.Close()

	probe, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	free := probe.Addr().(*net.TCPAddr).Port
	require.NoError(t, probe.Close())

	busy1 := first.Addr().(*net.TCPAddr).Port
	busy2 := second.Addr().(*net.TCPAddr).Port

	findings := PortsCheck([]int{busy1, free, busy2, busy1}, nil).Run(context.Background())
	failed := failures(findings)
	require.Len(t, failed, 2)
	assert.Equal(t, []string{
		"required_ports." + strconv.Itoa(busy1),
		"required_ports." + strconv.Itoa(busy2),
	}, fields(failed))
	assert.Equal(t, "port "+strconv.Itoa(busy1)+" already in use", failed[0].Message)
}

func TestPortsCheck(t *testing.T) {
	t.Run("none declared", func(t *testing.T) {
		findings := PortsCheck(nil, nil).Run(context.Background())
		require.Len(t, findings, 1)
		assert.Equal(t, SeverityPass, findings[0].Severity)
	})

	t.Run("all free", func(t *testing.T) {
		var addrs []string
		listen := func(network, address string) (net.Listener, error) {
			addrs = append(addrs, address)
			return net.Listen(network, "127.0.0.1:0")
		}
		findings := PortsCheck([]int{8011, 8012}, listen).Run(context.Background())
		assert.Empty(t, failures(findings))
		assert.Equal(t, []string{":8011", ":8012"}, addrs)
	})

	t.Run("other bind errors are warnings", func(t *testing.T) {
		listen := func(string, string) (net.Listener, error) {
			return nil, errors.New("permission denied")
		}
		findings := PortsCheck([]int{443}, listen).Run(context.Background())
		require.Len(t, findings, 1)
		assert.Equal(t, SeverityWarn, findings[0].Severity)
		assert.Contains(t, findings[0].Message, "could not check port 443")
	})
}
