package schema

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var createTableRE = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?([A-Za-z0-9_."]+)`)

// MemStore is an in-memory Store. It gives tests a linearizable stand-in
// for the coordination tables and backs the memory storage mode.
type MemStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]Request
	history  map[string][]HistoryEntry
	tables   map[string]bool

	// FailPattern makes ExecCQL fail for any script containing it.
	FailPattern string
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory coordination store.
func NewMemStore() *MemStore {
	return &MemStore{
		requests: make(map[uuid.UUID]Request),
		history:  make(map[string][]HistoryEntry),
		tables:   make(map[string]bool),
	}
}

func (s *MemStore) Requests(ctx context.Context) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemStore) InsertRequest(ctx context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ReqID] = req
	return nil
}

func (s *MemStore) UpdateRequest(ctx context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ReqID] = req
	return nil
}

func (s *MemStore) DeleteRequest(ctx context.Context, reqid uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, reqid)
	return nil
}

func (s *MemStore) History(ctx context.Context, scriptname string) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history[scriptname]
	out := make([]HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemStore) InsertHistory(ctx context.Context, entry HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[entry.ScriptName] = append(s.history[entry.ScriptName], entry)
	return nil
}

func (s *MemStore) MarkHistory(ctx context.Context, scriptname string, t time.Time, run, failed bool, errmsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history[scriptname]
	for i := range entries {
		if entries[i].Time.Equal(t) {
			entries[i].Run = run
			entries[i].Failed = failed
			entries[i].Error = errmsg
			return nil
		}
	}
	return fmt.Errorf("no history entry for %q at %v", scriptname, t)
}

func (s *MemStore) TableExists(ctx context.Context, table string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tables[table], nil
}

// ExecCQL records any tables the script creates so later existence checks
// see them, mirroring what the real cluster would report.
func (s *MemStore) ExecCQL(ctx context.Context, cql string) error {
	if s.FailPattern != "" && strings.Contains(cql, s.FailPattern) {
		return fmt.Errorf("execution failed on %q", s.FailPattern)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range createTableRE.FindAllStringSubmatch(cql, -1) {
		name := strings.ReplaceAll(m[1], `"`, "")
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		s.tables[name] = true
	}
	return nil
}

// CreateTable marks a table as existing without running any script.
func (s *MemStore) CreateTable(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = true
}
