// Package cluster owns the process-wide Cassandra connection pool, the
// per-keyspace sessions, and the prepared statement cache. One Cluster is
// created at startup and passed to every component that talks to the store.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gocql "github.com/apache/cassandra-gocql-driver/v2"

	"github.com/axonops/axonops-auth-service/internal/storage"
)

// Config holds Cassandra connection configuration for the gateway.
type Config struct {
	ClusterName    string        `json:"cluster" yaml:"cluster"`
	Hosts          []string      `json:"hosts" yaml:"hosts"`
	Port           int           `json:"port" yaml:"port"`
	Username       string        `json:"username" yaml:"username"`
	Password       string        `json:"password" yaml:"password"`
	Consistency    string        `json:"consistency" yaml:"consistency"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// Cluster is the store gateway. Sessions are created lazily per keyspace and
// cached for the process lifetime; the keyspace-less session (key "") serves
// CREATE KEYSPACE and system table reads. All map writes happen under mu.
type Cluster struct {
	cfg         Config
	consistency gocql.Consistency
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*gocql.Session
	stmts    map[string]map[string]*Statement
}

// Statement is a cached statement handle bound to a keyspace session.
// Re-requesting the same statement text returns the same handle; callers are
// expected to reuse statement text strings verbatim.
type Statement struct {
	text    string
	session *gocql.Session
}

// Text returns the statement text the handle was prepared with.
func (st *Statement) Text() string {
	return st.text
}

// Query binds values to the statement.
func (st *Statement) Query(values ...interface{}) *gocql.Query {
	return st.session.Query(st.text, values...)
}

// New creates a gateway. No connection is attempted until the first Session
// call.
func New(cfg Config, logger *slog.Logger) (*Cluster, error) {
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = []string{"127.0.0.1"}
	}
	if cfg.Port == 0 {
		cfg.Port = 9042
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	consistency := gocql.LocalQuorum
	if cfg.Consistency != "" {
		c, err := ParseConsistency(cfg.Consistency)
		if err != nil {
			return nil, err
		}
		consistency = c
	}

	return &Cluster{
		cfg:         cfg,
		consistency: consistency,
		logger:      logger.With("component", "cluster"),
		sessions:    make(map[string]*gocql.Session),
		stmts:       make(map[string]map[string]*Statement),
	}, nil
}

// Session returns the session bound to the given keyspace, creating it on
// first use. An empty keyspace returns the keyspace-less session.
func (c *Cluster) Session(keyspace string) (*gocql.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionLocked(keyspace)
}

func (c *Cluster) sessionLocked(keyspace string) (*gocql.Session, error) {
	if session, ok := c.sessions[keyspace]; ok {
		return session, nil
	}

	cluster := gocql.NewCluster(c.cfg.Hosts...)
	cluster.Port = c.cfg.Port
	cluster.Keyspace = keyspace
	cluster.Timeout = c.cfg.Timeout
	cluster.ConnectTimeout = c.cfg.ConnectTimeout
	cluster.Consistency = c.consistency
	if c.cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: c.cfg.Username, Password: c.cfg.Password}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to Cassandra at %v: %v",
			storage.ErrStoreUnavailable, c.cfg.Hosts, err)
	}

	c.logger.Info("cassandra session established",
		slog.String("keyspace", displayKeyspace(keyspace)),
		slog.String("cluster", c.cfg.ClusterName))

	c.sessions[keyspace] = session
	c.stmts[keyspace] = make(map[string]*Statement)
	return session, nil
}

// Prepare returns the cached statement handle for the given text and
// keyspace, registering it on first use. The cache is unbounded and keyed by
// exact statement text.
func (c *Cluster) Prepare(stmt, keyspace string) (*Statement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.stmts[keyspace][stmt]; ok {
		return cached, nil
	}

	session, err := c.sessionLocked(keyspace)
	if err != nil {
		return nil, err
	}

	st := &Statement{text: stmt, session: session}
	c.stmts[keyspace][stmt] = st
	return st, nil
}

// Health verifies the cluster is reachable.
func (c *Cluster) Health(ctx context.Context) error {
	session, err := c.Session("")
	if err != nil {
		return err
	}
	var now time.Time
	if err := session.Query(`SELECT now() FROM system.local`).WithContext(ctx).Scan(&now); err != nil {
		return fmt.Errorf("%w: health query failed: %v", storage.ErrStoreUnavailable, err)
	}
	return nil
}

// Close tears down every session.
func (c *Cluster) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ks, session := range c.sessions {
		session.Close()
		delete(c.sessions, ks)
		delete(c.stmts, ks)
	}
}

func displayKeyspace(ks string) string {
	if ks == "" {
		return "*"
	}
	return ks
}

// ParseConsistency maps a consistency name to the driver constant.
func ParseConsistency(v string) (gocql.Consistency, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "ANY":
		return gocql.Any, nil
	case "ONE":
		return gocql.One, nil
	case "TWO":
		return gocql.Two, nil
	case "THREE":
		return gocql.Three, nil
	case "QUORUM":
		return gocql.Quorum, nil
	case "ALL":
		return gocql.All, nil
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum, nil
	case "EACH_QUORUM":
		return gocql.EachQuorum, nil
	case "LOCAL_ONE":
		return gocql.LocalOne, nil
	default:
		return 0, fmt.Errorf("unknown cassandra consistency: %q", v)
	}
}

// Qident quotes a CQL identifier.
func Qident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
