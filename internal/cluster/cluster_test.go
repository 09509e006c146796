package cluster

import (
	"testing"

	gocql "github.com/apache/cassandra-gocql-driver/v2"
)

func TestParseConsistency(t *testing.T) {
	tests := []struct {
		in      string
		want    gocql.Consistency
		wantErr bool
	}{
		{"QUORUM", gocql.Quorum, false},
		{"quorum", gocql.Quorum, false},
		{" local_quorum ", gocql.LocalQuorum, false},
		{"LOCAL_ONE", gocql.LocalOne, false},
		{"ALL", gocql.All, false},
		{"EACH_QUORUM", gocql.EachQuorum, false},
		{"ONE", gocql.One, false},
		{"ANY", gocql.Any, false},
		{"MOST", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseConsistency(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseConsistency(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseConsistency(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_InvalidConsistency(t *testing.T) {
	if _, err := New(Config{Consistency: "SOMETIMES"}, nil); err == nil {
		t.Error("expected error for invalid consistency")
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if len(c.cfg.Hosts) != 1 || c.cfg.Hosts[0] != "127.0.0.1" {
		t.Errorf("expected default host, got %v", c.cfg.Hosts)
	}
	if c.cfg.Port != 9042 {
		t.Errorf("expected default port 9042, got %d", c.cfg.Port)
	}
	if c.consistency != gocql.LocalQuorum {
		t.Errorf("expected default consistency LOCAL_QUORUM, got %v", c.consistency)
	}
}

func TestStatementCache_SameHandleForSameText(t *testing.T) {
	c, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Register the keyspace session slot directly; connecting is covered by
	// integration tests.
	c.sessions["authdb"] = nil
	c.stmts["authdb"] = make(map[string]*Statement)

	const stmt = `SELECT value FROM orgsettings WHERE org = ? AND setting = ?`

	first, err := c.Prepare(stmt, "authdb")
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}
	second, err := c.Prepare(stmt, "authdb")
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}

	if first != second {
		t.Error("expected the same statement handle for identical text")
	}
	if first.Text() != stmt {
		t.Errorf("expected statement text to round-trip, got %q", first.Text())
	}

	other, err := c.Prepare(stmt+" ", "authdb")
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}
	if other == first {
		t.Error("expected a distinct handle for distinct text")
	}
}

func TestQident(t *testing.T) {
	if got := Qident("authdb"); got != `"authdb"` {
		t.Errorf("Qident(authdb) = %s", got)
	}
	if got := Qident(`odd"name`); got != `"odd""name"` {
		t.Errorf("Qident escaping = %s", got)
	}
}
