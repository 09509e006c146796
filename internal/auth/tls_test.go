package auth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/axonops/axonops-auth-service/internal/config"
)

// generateTestCert creates a self-signed cert and key in the given directory.
func generateTestCert(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")

	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	// Key first so a watcher reloading on the cert write finds a matching
	// pair.
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}), 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0600); err != nil {
		t.Fatalf("failed to write cert file: %v", err)
	}

	return certFile, keyFile
}

func TestNewTLSManager(t *testing.T) {
	certFile, keyFile := generateTestCert(t, t.TempDir())

	tm, err := NewTLSManager(config.TLSConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tm.cert == nil {
		t.Error("expected certificate to be loaded")
	}

	cert, err := tm.GetCertificate(nil)
	if err != nil {
		t.Fatalf("GetCertificate failed: %v", err)
	}
	if cert == nil || len(cert.Certificate) == 0 {
		t.Error("expected a loaded certificate chain")
	}
}

func TestNewTLSManager_MissingFiles(t *testing.T) {
	_, err := NewTLSManager(config.TLSConfig{
		Enabled:  true,
		CertFile: "/nonexistent/cert.pem",
		KeyFile:  "/nonexistent/key.pem",
	})
	if err == nil {
		t.Error("expected error for missing keypair")
	}
}

func TestTLSManager_MinVersion(t *testing.T) {
	certFile, keyFile := generateTestCert(t, t.TempDir())

	tests := []struct {
		configured string
		want       uint16
	}{
		{"TLS1.0", tls.VersionTLS10},
		{"1.1", tls.VersionTLS11},
		{"TLS1.2", tls.VersionTLS12},
		{"1.3", tls.VersionTLS13},
		{"", tls.VersionTLS12},
		{"bogus", tls.VersionTLS12},
	}

	for _, tt := range tests {
		tm, err := NewTLSManager(config.TLSConfig{
			Enabled:    true,
			CertFile:   certFile,
			KeyFile:    keyFile,
			MinVersion: tt.configured,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := tm.TLSConfig().MinVersion; got != tt.want {
			t.Errorf("min version %q: expected %d, got %d", tt.configured, tt.want, got)
		}
	}
}

func TestTLSManager_ClientCAs(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := generateTestCert(t, dir)

	tm, err := NewTLSManager(config.TLSConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
		CAFile:   certFile, // self-signed cert doubles as the CA
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := tm.TLSConfig()
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("expected client cert verification, got %v", cfg.ClientAuth)
	}
	if cfg.ClientCAs == nil {
		t.Error("expected client CA pool")
	}
}

func TestTLSManager_Reload(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := generateTestCert(t, dir)

	tm, err := NewTLSManager(config.TLSConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before, _ := tm.GetCertificate(nil)

	generateTestCert(t, dir) // overwrites the same paths
	if err := tm.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	after, _ := tm.GetCertificate(nil)
	if bytes.Equal(before.Certificate[0], after.Certificate[0]) {
		t.Error("expected a different certificate after reload")
	}
}

func TestTLSManager_WatchReloadsOnRotation(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := generateTestCert(t, dir)

	tm, err := NewTLSManager(config.TLSConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
		Watch:    true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tm.Watch(ctx, discardLogger()); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	before, _ := tm.GetCertificate(nil)
	generateTestCert(t, dir)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		after, _ := tm.GetCertificate(nil)
		if !bytes.Equal(before.Certificate[0], after.Certificate[0]) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("certificate was not reloaded after rotation")
}

func TestCreateClientTLSConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := generateTestCert(t, dir)

	cfg, err := CreateClientTLSConfig(certFile, keyFile, certFile, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("expected client certificate loaded, got %d", len(cfg.Certificates))
	}
	if cfg.RootCAs == nil {
		t.Error("expected root CA pool")
	}
	if cfg.InsecureSkipVerify {
		t.Error("expected verification enabled")
	}

	cfg, err = CreateClientTLSConfig("", "", "", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.InsecureSkipVerify {
		t.Error("expected insecure mode")
	}
}
