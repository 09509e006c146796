// Package secrets sources external credentials at startup. The service
// reads the Cassandra account from HashiCorp Vault when enabled, so static
// passwords never need to appear in config files.
package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/axonops/axonops-auth-service/internal/config"
)

// Credentials is a username and password pair read from the secret store.
type Credentials struct {
	Username string
	Password string
}

// FetchCassandraCredentials reads the Cassandra credentials from Vault KV v2.
// A disabled config returns (nil, nil) and the caller keeps whatever static
// credentials it has.
func FetchCassandraCredentials(ctx context.Context, cfg config.VaultConfig) (*Credentials, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	vaultConfig := api.DefaultConfig()
	if cfg.Address != "" {
		vaultConfig.Address = cfg.Address
	}
	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mount, path, err := splitKVPath(cfg.SecretPath)
	if err != nil {
		return nil, err
	}

	secret, err := client.KVv2(mount).Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s: %w", cfg.SecretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret %s is empty", cfg.SecretPath)
	}

	username, _ := secret.Data["username"].(string)
	password, _ := secret.Data["password"].(string)
	if username == "" || password == "" {
		return nil, fmt.Errorf("secret %s missing username or password", cfg.SecretPath)
	}

	return &Credentials{Username: username, Password: password}, nil
}

// splitKVPath splits "secret/data/authservices/cassandra" into the KV v2
// mount "secret" and the logical path "authservices/cassandra". The "data/"
// segment the raw HTTP API uses is accepted and dropped, so both path styles
// work in config.
func splitKVPath(p string) (mount, path string, err error) {
	trimmed := strings.Trim(p, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid secret path %q", p)
	}
	mount = parts[0]
	path = strings.TrimPrefix(parts[1], "data/")
	if path == "" {
		return "", "", fmt.Errorf("invalid secret path %q", p)
	}
	return mount, path, nil
}
