package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/axonops/axonops-auth-service/internal/config"
)

// TLSManager manages the server keypair with optional reloading on file
// change, so certificate rotation does not require a restart.
type TLSManager struct {
	config    config.TLSConfig
	mu        sync.RWMutex
	cert      *tls.Certificate
	clientCAs *x509.CertPool
}

// NewTLSManager creates a TLS manager and loads the configured keypair.
func NewTLSManager(cfg config.TLSConfig) (*TLSManager, error) {
	tm := &TLSManager{config: cfg}
	if err := tm.loadCertificates(); err != nil {
		return nil, err
	}
	return tm, nil
}

// loadCertificates loads or reloads certificates from disk.
func (tm *TLSManager) loadCertificates() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	cert, err := tls.LoadX509KeyPair(tm.config.CertFile, tm.config.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load server certificate: %w", err)
	}
	tm.cert = &cert

	if tm.config.CAFile != "" {
		caCert, err := os.ReadFile(tm.config.CAFile)
		if err != nil {
			return fmt.Errorf("failed to load CA certificate: %w", err)
		}
		tm.clientCAs = x509.NewCertPool()
		if !tm.clientCAs.AppendCertsFromPEM(caCert) {
			return fmt.Errorf("failed to parse CA certificate")
		}
	}

	return nil
}

// Reload reloads certificates from disk. On failure the previous keypair
// stays in service.
func (tm *TLSManager) Reload() error {
	return tm.loadCertificates()
}

// GetCertificate returns the current certificate for a TLS handshake.
func (tm *TLSManager) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.cert, nil
}

// TLSConfig returns the server TLS configuration. Providing a CA file turns
// on client certificate verification.
func (tm *TLSManager) TLSConfig() *tls.Config {
	// #nosec G402 -- MinVersion is configurable, defaults to TLS 1.2
	tlsConfig := &tls.Config{
		GetCertificate: tm.GetCertificate,
		MinVersion:     tm.getMinVersion(),
	}

	tm.mu.RLock()
	if tm.clientCAs != nil {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConfig.ClientCAs = tm.clientCAs
	}
	tm.mu.RUnlock()

	return tlsConfig
}

// getMinVersion returns the minimum TLS version.
func (tm *TLSManager) getMinVersion() uint16 {
	switch tm.config.MinVersion {
	case "TLS1.0", "1.0":
		return tls.VersionTLS10
	case "TLS1.1", "1.1":
		return tls.VersionTLS11
	case "TLS1.2", "1.2":
		return tls.VersionTLS12
	case "TLS1.3", "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

// Watch reloads the keypair whenever the cert or key file changes. It
// watches the containing directories because rotation tooling typically
// replaces files by rename. Returns after starting the watch goroutine,
// which runs until ctx is cancelled.
func (tm *TLSManager) Watch(ctx context.Context, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	dirs := map[string]bool{
		filepath.Dir(tm.config.CertFile): true,
		filepath.Dir(tm.config.KeyFile):  true,
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go tm.watchLoop(ctx, watcher, logger)
	return nil
}

func (tm *TLSManager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, logger *slog.Logger) {
	defer watcher.Close()

	certName := filepath.Clean(tm.config.CertFile)
	keyName := filepath.Clean(tm.config.KeyFile)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name != certName && name != keyName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Cert and key may land separately; a failed reload keeps the
			// old pair and the next event retries.
			if err := tm.Reload(); err != nil {
				logger.Warn("failed to reload tls keypair",
					slog.String("trigger", event.Name),
					slog.String("error", err.Error()))
				continue
			}
			logger.Info("tls keypair reloaded", slog.String("trigger", event.Name))

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("tls watcher error", slog.String("error", err.Error()))
		}
	}
}

// CreateClientTLSConfig creates a TLS config for client connections, used by
// the admin CLI when talking to a TLS-enabled server.
func CreateClientTLSConfig(certFile, keyFile, caFile string, insecureSkipVerify bool) (*tls.Config, error) {
	// #nosec G402 -- InsecureSkipVerify is intentionally configurable for development
	tlsConfig := &tls.Config{
		InsecureSkipVerify: insecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if caFile != "" {
		// #nosec G304 -- caFile is from trusted configuration
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
