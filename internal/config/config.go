// Package config provides configuration management for the auth services API.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file consulted when no path is given.
const DefaultConfigFile = "/etc/authservicesapi.conf"

// Config represents the auth services API configuration.
type Config struct {
	Cassandra  CassandraConfig  `json:"cassandra" yaml:"cassandra"`
	DefaultOrg DefaultOrgConfig `json:"defaultorg" yaml:"defaultorg"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Schema     SchemaConfig     `json:"schema" yaml:"schema"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Admin      AdminConfig      `json:"admin" yaml:"admin"`
	RateLimit  RateLimitConfig  `json:"ratelimit" yaml:"ratelimit"`
	Vault      VaultConfig      `json:"vault" yaml:"vault"`
}

// CassandraConfig represents Cassandra connection configuration.
type CassandraConfig struct {
	Cluster                 string   `json:"cluster" yaml:"cluster"`
	Nodes                   []string `json:"nodes" yaml:"nodes"`
	Port                    Port     `json:"port" yaml:"port"`
	AuthKeyspace            string   `json:"auth_keyspace" yaml:"auth_keyspace"`
	Username                string   `json:"username" yaml:"username"`
	Password                string   `json:"password" yaml:"password"`
	Consistency             string   `json:"consistency" yaml:"consistency"`
	CoordinationConsistency string   `json:"coordination_consistency" yaml:"coordination_consistency"`
	Timeout                 Duration `json:"timeout" yaml:"timeout"`
	ConnectTimeout          Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ReplicationClass        string   `json:"replication_class" yaml:"replication_class"`
	ReplicationFactor       int      `json:"replication_factor" yaml:"replication_factor"`
}

// DefaultOrgConfig describes the organization seeded at bootstrap.
type DefaultOrgConfig struct {
	Name              string `json:"name" yaml:"name"`
	DefaultAdminUser  string `json:"defaultadminuser" yaml:"defaultadminuser"`
	DefaultAdminPass  string `json:"defaultadminpass" yaml:"defaultadminpass"`
	DefaultAdminEmail string `json:"defaultadminemail" yaml:"defaultadminemail"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host            string    `json:"host" yaml:"host"`
	Port            int       `json:"port" yaml:"port"`
	ReadTimeout     Duration  `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    Duration  `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout Duration  `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	DocsEnabled     bool      `json:"docs_enabled" yaml:"docs_enabled"`
	TLS             TLSConfig `json:"tls" yaml:"tls"`
}

// TLSConfig represents TLS configuration for the HTTP listener.
type TLSConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	CertFile   string `json:"cert_file" yaml:"cert_file"`
	KeyFile    string `json:"key_file" yaml:"key_file"`
	CAFile     string `json:"ca_file" yaml:"ca_file"`
	MinVersion string `json:"min_version" yaml:"min_version"`
	Watch      bool   `json:"watch" yaml:"watch"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Type string `json:"type" yaml:"type"` // cassandra, memory
}

// SchemaConfig tunes the schema catalog and migration coordinator.
type SchemaConfig struct {
	Dir          string   `json:"dir" yaml:"dir"`
	Settle       Duration `json:"settle" yaml:"settle"`
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval"`
	StaleAfter   Duration `json:"stale_after" yaml:"stale_after"`
	CreateWait   Duration `json:"create_wait" yaml:"create_wait"`
}

// AuthConfig tunes session handling.
type AuthConfig struct {
	SessionKeyTTL Duration `json:"session_key_ttl" yaml:"session_key_ttl"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string      `json:"level" yaml:"level"`
	Format string      `json:"format" yaml:"format"` // json, text
	Audit  AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig represents audit logging configuration.
type AuditConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	File          string `json:"file" yaml:"file"`
	MaxSizeMB     int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups    int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays    int    `json:"max_age_days" yaml:"max_age_days"`
	SyslogNetwork string `json:"syslog_network" yaml:"syslog_network"`
	SyslogAddress string `json:"syslog_address" yaml:"syslog_address"`
}

// AdminConfig guards the operator endpoints.
type AdminConfig struct {
	JWT JWTConfig `json:"jwt" yaml:"jwt"`
}

// JWTConfig represents JWT verification configuration for /admin endpoints.
type JWTConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Algorithm     string `json:"algorithm" yaml:"algorithm"` // HS256, RS256, ES256
	Secret        string `json:"secret" yaml:"secret"`
	PublicKeyFile string `json:"public_key_file" yaml:"public_key_file"`
	Issuer        string `json:"issuer" yaml:"issuer"`
	Audience      string `json:"audience" yaml:"audience"`
}

// RateLimitConfig damps login brute forcing.
type RateLimitConfig struct {
	Enabled           bool `json:"enabled" yaml:"enabled"`
	RequestsPerSecond int  `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int  `json:"burst" yaml:"burst"`
}

// VaultConfig sources Cassandra credentials from HashiCorp Vault.
type VaultConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Address    string `json:"address" yaml:"address"`
	Token      string `json:"token" yaml:"token"`
	SecretPath string `json:"secret_path" yaml:"secret_path"`
}

// Port accepts both string and numeric values, because deployed config files
// predate the numeric form ("port": "9042" and "port": 9042 are equivalent).
type Port string

// UnmarshalJSON implements json.Unmarshaler.
func (p *Port) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = Port(s)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("port must be a string or integer: %s", data)
	}
	*p = Port(strconv.Itoa(n))
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Port) UnmarshalYAML(value *yaml.Node) error {
	*p = Port(value.Value)
	return nil
}

// Int returns the numeric port value.
func (p Port) Int() (int, error) {
	n, err := strconv.Atoi(string(p))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", string(p), err)
	}
	return n, nil
}

// Duration is a time.Duration that (un)marshals as a string ("2s", "500ms").
// Bare numbers are interpreted as seconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or number: %s", data)
	}
	*d = Duration(time.Duration(n * float64(time.Second)))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Cassandra: CassandraConfig{
			Cluster:                 "AuthServices",
			Nodes:                   []string{"127.0.0.1"},
			Port:                    "9042",
			AuthKeyspace:            "authdb",
			Consistency:             "LOCAL_QUORUM",
			CoordinationConsistency: "QUORUM",
			Timeout:                 Duration(10 * time.Second),
			ConnectTimeout:          Duration(10 * time.Second),
			ReplicationClass:        "SimpleStrategy",
			ReplicationFactor:       1,
		},
		DefaultOrg: DefaultOrgConfig{
			Name:              "example.net",
			DefaultAdminUser:  "admin",
			DefaultAdminPass:  "admin",
			DefaultAdminEmail: "admin@example.net",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
			DocsEnabled:     true,
			TLS: TLSConfig{
				MinVersion: "TLS1.2",
			},
		},
		Storage: StorageConfig{
			Type: "cassandra",
		},
		Schema: SchemaConfig{
			Dir:          "schema",
			Settle:       Duration(2 * time.Second),
			PollInterval: Duration(500 * time.Millisecond),
			StaleAfter:   Duration(time.Minute),
			CreateWait:   Duration(time.Second),
		},
		Auth: AuthConfig{
			SessionKeyTTL: Duration(24 * time.Hour),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Audit: AuditConfig{
				File:       "/var/log/authservicesapi/audit.log",
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 30,
			},
		},
		Admin: AdminConfig{
			JWT: JWTConfig{
				Algorithm: "HS256",
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Vault: VaultConfig{
			SecretPath: "secret/data/authservices/cassandra",
		},
	}
}

// Load loads configuration from a file merged over built-in defaults, then
// applies environment overrides and validates. An empty path falls back to
// DefaultConfigFile when that file exists; a missing default file is not an
// error, the defaults stand alone.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultConfigFile
	}

	merged := defaultsAsMap()

	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		overrides, err := decodeFile(path, data)
		if err != nil {
			return nil, err
		}
		merged = mergeConfig(merged, overrides)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// decodeFile decodes raw config bytes into a generic map. The file format is
// JSON unless the path carries a YAML extension. Environment references in the
// file are expanded first.
func decodeFile(path string, data []byte) (map[string]any, error) {
	expanded := []byte(os.ExpandEnv(string(data)))

	out := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(expanded, &out); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(expanded, &out); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	return out, nil
}

// mergeConfig merges override values into the default map. Only keys present
// in the defaults are considered; nested maps recurse, scalars and lists
// overwrite. Merging the same overrides twice yields the same result.
func mergeConfig(defaults, overrides map[string]any) map[string]any {
	for key, def := range defaults {
		over, ok := overrides[key]
		if !ok {
			continue
		}
		if defMap, ok := def.(map[string]any); ok {
			if overMap, ok := over.(map[string]any); ok {
				defaults[key] = mergeConfig(defMap, overMap)
			}
			continue
		}
		defaults[key] = over
	}
	return defaults
}

// defaultsAsMap renders DefaultConfig as a generic map so mergeConfig can walk
// the recognized keys. DefaultConfig is the single source of truth.
func defaultsAsMap() map[string]any {
	data, err := json.Marshal(DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("config: marshal defaults: %v", err))
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("config: unmarshal defaults: %v", err))
	}
	return out
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged config: %w", err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode merged config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AUTHSERVICES_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("AUTHSERVICES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("AUTHSERVICES_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AUTHSERVICES_STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("AUTHSERVICES_SCHEMA_DIR"); v != "" {
		c.Schema.Dir = v
	}

	// Cassandra overrides
	if v := os.Getenv("AUTHSERVICES_CASSANDRA_NODES"); v != "" {
		c.Cassandra.Nodes = splitNodes(v)
	}
	if v := os.Getenv("AUTHSERVICES_CASSANDRA_PORT"); v != "" {
		c.Cassandra.Port = Port(v)
	}
	if v := os.Getenv("AUTHSERVICES_CASSANDRA_KEYSPACE"); v != "" {
		c.Cassandra.AuthKeyspace = v
	}
	if v := os.Getenv("AUTHSERVICES_CASSANDRA_USERNAME"); v != "" {
		c.Cassandra.Username = v
	}
	if v := os.Getenv("AUTHSERVICES_CASSANDRA_PASSWORD"); v != "" {
		c.Cassandra.Password = v
	}

	// Default-org admin password should come from the environment in
	// production rather than sit in the config file.
	if v := os.Getenv("AUTHSERVICES_DEFAULTORG_ADMIN_PASSWORD"); v != "" {
		c.DefaultOrg.DefaultAdminPass = v
	}

	// Admin JWT overrides
	if v := os.Getenv("AUTHSERVICES_ADMIN_JWT_SECRET"); v != "" {
		c.Admin.JWT.Secret = v
	}

	// Vault overrides
	if v := os.Getenv("AUTHSERVICES_VAULT_ADDRESS"); v != "" {
		c.Vault.Address = v
	}
	if v := os.Getenv("AUTHSERVICES_VAULT_TOKEN"); v != "" {
		c.Vault.Token = v
	}
	if v := os.Getenv("VAULT_TOKEN"); v != "" && c.Vault.Token == "" {
		c.Vault.Token = v
	}
}

func splitNodes(v string) []string {
	parts := strings.Split(v, ",")
	nodes := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nodes = append(nodes, p)
		}
	}
	return nodes
}

var validConsistencies = map[string]bool{
	"ANY":          true,
	"ONE":          true,
	"TWO":          true,
	"THREE":        true,
	"QUORUM":       true,
	"ALL":          true,
	"LOCAL_QUORUM": true,
	"EACH_QUORUM":  true,
	"LOCAL_ONE":    true,
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Storage.Type {
	case "cassandra", "memory":
	default:
		return fmt.Errorf("invalid storage type: %s", c.Storage.Type)
	}

	if c.Storage.Type == "cassandra" {
		if len(c.Cassandra.Nodes) == 0 {
			return fmt.Errorf("cassandra nodes must not be empty")
		}
		if _, err := c.Cassandra.Port.Int(); err != nil {
			return err
		}
		if c.Cassandra.AuthKeyspace == "" {
			return fmt.Errorf("cassandra auth_keyspace must not be empty")
		}
		for _, level := range []string{c.Cassandra.Consistency, c.Cassandra.CoordinationConsistency} {
			if !validConsistencies[strings.ToUpper(strings.TrimSpace(level))] {
				return fmt.Errorf("invalid cassandra consistency: %q", level)
			}
		}
		if c.Cassandra.ReplicationFactor < 1 {
			return fmt.Errorf("invalid replication factor: %d", c.Cassandra.ReplicationFactor)
		}
	}

	if c.DefaultOrg.Name == "" {
		return fmt.Errorf("defaultorg name must not be empty")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("tls requires cert_file and key_file")
		}
	}

	if c.Admin.JWT.Enabled {
		switch alg := c.Admin.JWT.Algorithm; {
		case strings.HasPrefix(alg, "HS"):
			if c.Admin.JWT.Secret == "" {
				return fmt.Errorf("admin jwt with %s requires a secret", alg)
			}
		case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "ES"):
			if c.Admin.JWT.PublicKeyFile == "" {
				return fmt.Errorf("admin jwt with %s requires public_key_file", alg)
			}
		default:
			return fmt.Errorf("unsupported admin jwt algorithm: %s", c.Admin.JWT.Algorithm)
		}
	}

	if c.Vault.Enabled && c.Vault.Address == "" {
		return fmt.Errorf("vault address is required when vault is enabled")
	}

	if c.Schema.Settle.Std() <= 0 || c.Schema.PollInterval.Std() <= 0 || c.Schema.StaleAfter.Std() <= 0 {
		return fmt.Errorf("schema settle, poll_interval and stale_after must be positive")
	}

	return nil
}

// Address returns the server address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
