package schema

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// testSchemaDir lays out a small but realistic catalog: two baseline tables
// and two migration scripts.
func testSchemaDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "authdb", "baseline", "orgs.cql"),
		"CREATE TABLE orgs (\n  org text,\n  parentorg text,\n  PRIMARY KEY (org)\n);\n")
	writeFile(t, filepath.Join(dir, "authdb", "baseline", "users.cql"),
		"CREATE TABLE users (\n  org text,\n  username text,\n  PRIMARY KEY (org, username)\n);\n")
	writeFile(t, filepath.Join(dir, "authdb", "schema_migrations", "001_sessionkeys_sessionid_index.cql"),
		"CREATE INDEX IF NOT EXISTS ON sessionkeys (sessionid);\n")
	writeFile(t, filepath.Join(dir, "authdb", "schema_migrations", "002_passwordreset_ttl.cql"),
		"ALTER TABLE passwordreset WITH default_time_to_live = 604800;\n")
	return dir
}

// execCounter records how often each script file was executed.
type execCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newExecCounter() *execCounter {
	return &execCounter{counts: make(map[string]int)}
}

func (c *execCounter) hook(script string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[script]++
}

func (c *execCounter) count(script string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[script]
}

func (c *execCounter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.counts {
		n += v
	}
	return n
}

func testCoordinator(store Store, dir string) *Coordinator {
	return New(store, NewCatalog(dir, discardLogger()), "authdb", Options{
		Settle:       10 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		StaleAfter:   30 * time.Second,
		Logger:       discardLogger(),
	})
}

func TestColdStartSingleNode(t *testing.T) {
	dir := testSchemaDir(t)
	store := NewMemStore()
	execs := newExecCounter()
	c := testCoordinator(store, dir)
	c.OnExec = execs.hook

	if err := c.RequestMigration(context.Background()); err != nil {
		t.Fatalf("RequestMigration: %v", err)
	}

	for _, table := range []string{"orgs", "users"} {
		exists, err := store.TableExists(context.Background(), table)
		if err != nil || !exists {
			t.Errorf("table %q not created (exists=%v err=%v)", table, exists, err)
		}
	}
	for _, script := range []string{"001_sessionkeys_sessionid_index.cql", "002_passwordreset_ttl.cql"} {
		history, err := store.History(context.Background(), script)
		if err != nil {
			t.Fatalf("History(%s): %v", script, err)
		}
		latest, ok := latestEntry(history)
		if !ok || !latest.Run || latest.Failed {
			t.Errorf("script %q not marked applied: %+v", script, latest)
		}
		if latest.Content == "" {
			t.Errorf("script %q history missing content", script)
		}
	}
	if execs.total() != 4 {
		t.Errorf("executed %d files, want 4", execs.total())
	}
	rows, _ := store.Requests(context.Background())
	if len(rows) != 0 {
		t.Errorf("request table not drained: %v", rows)
	}
}

func TestRepeatedRunIsIdempotent(t *testing.T) {
	dir := testSchemaDir(t)
	store := NewMemStore()
	execs := newExecCounter()

	c1 := testCoordinator(store, dir)
	c1.OnExec = execs.hook
	if err := c1.RequestMigration(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	c2 := testCoordinator(store, dir)
	c2.OnExec = execs.hook
	if err := c2.RequestMigration(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if execs.total() != 4 {
		t.Errorf("executed %d files across two runs, want 4", execs.total())
	}
}

func TestAppliedAndElectionHooks(t *testing.T) {
	dir := testSchemaDir(t)
	store := NewMemStore()
	c := testCoordinator(store, dir)

	var elections []bool
	var applied []string
	c.OnElection = func(won bool) { elections = append(elections, won) }
	c.OnApplied = func(script string, elapsed time.Duration) { applied = append(applied, script) }

	if err := c.RequestMigration(context.Background()); err != nil {
		t.Fatalf("RequestMigration: %v", err)
	}
	if len(elections) != 1 || !elections[0] {
		t.Errorf("elections = %v, want a single won round", elections)
	}
	want := []string{"orgs.cql", "users.cql", "001_sessionkeys_sessionid_index.cql", "002_passwordreset_ttl.cql"}
	if len(applied) != len(want) {
		t.Fatalf("applied = %v, want %v", applied, want)
	}
	for i := range want {
		if applied[i] != want[i] {
			t.Errorf("applied[%d] = %q, want %q", i, applied[i], want[i])
		}
	}

	// A failing script must not be reported as applied.
	failing := NewMemStore()
	failing.FailPattern = "passwordreset"
	c2 := testCoordinator(failing, dir)
	applied = nil
	c2.OnApplied = func(script string, elapsed time.Duration) { applied = append(applied, script) }
	if err := c2.RequestMigration(context.Background()); err == nil {
		t.Fatal("RequestMigration succeeded, want failure")
	}
	for _, script := range applied {
		if script == "002_passwordreset_ttl.cql" {
			t.Error("failed script reported as applied")
		}
	}
}

func TestConcurrentNodesExecuteExactlyOnce(t *testing.T) {
	dir := testSchemaDir(t)
	store := NewMemStore()
	execs := newExecCounter()

	const nodes = 3
	var wg sync.WaitGroup
	errs := make([]error, nodes)
	for i := 0; i < nodes; i++ {
		c := testCoordinator(store, dir)
		c.OnExec = execs.hook
		wg.Add(1)
		go func(i int, c *Coordinator) {
			defer wg.Done()
			errs[i] = c.RequestMigration(context.Background())
		}(i, c)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("node %d: %v", i, err)
		}
	}
	for _, script := range []string{
		"orgs.cql", "users.cql",
		"001_sessionkeys_sessionid_index.cql", "002_passwordreset_ttl.cql",
	} {
		if got := execs.count(script); got != 1 {
			t.Errorf("script %q executed %d times, want 1", script, got)
		}
	}
	rows, _ := store.Requests(context.Background())
	if len(rows) != 0 {
		t.Errorf("request table not drained: %v", rows)
	}
}

func TestCrashedMigratorIsReapedAndWorkResumes(t *testing.T) {
	dir := testSchemaDir(t)
	store := NewMemStore()

	// A previous migrator created orgs, then died mid-flight.
	store.CreateTable("orgs")
	stale := time.Now().Add(-2 * time.Minute)
	if err := store.InsertRequest(context.Background(), Request{
		ReqID:      uuid.New(),
		ReqTime:    stale,
		InProgress: true,
		LastUpdate: stale,
	}); err != nil {
		t.Fatalf("seeding stale request: %v", err)
	}

	execs := newExecCounter()
	c := New(store, NewCatalog(dir, discardLogger()), "authdb", Options{
		Settle:       10 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		StaleAfter:   time.Minute,
		Logger:       discardLogger(),
	})
	c.OnExec = execs.hook

	if err := c.RequestMigration(context.Background()); err != nil {
		t.Fatalf("RequestMigration: %v", err)
	}
	if got := execs.count("orgs.cql"); got != 0 {
		t.Errorf("orgs baseline re-executed %d times, want 0", got)
	}
	if got := execs.count("users.cql"); got != 1 {
		t.Errorf("users baseline executed %d times, want 1", got)
	}
	rows, _ := store.Requests(context.Background())
	if len(rows) != 0 {
		t.Errorf("stale request not cleaned up: %v", rows)
	}
}

func TestFailedScriptMarksRequestAndHistory(t *testing.T) {
	dir := testSchemaDir(t)
	store := NewMemStore()
	store.FailPattern = "passwordreset"

	c := testCoordinator(store, dir)
	err := c.RequestMigration(context.Background())
	if err == nil {
		t.Fatal("RequestMigration succeeded, want failure")
	}
	var merr *MigrationError
	if !errors.As(err, &merr) {
		t.Fatalf("error %T is not a MigrationError: %v", err, err)
	}
	if merr.Script != "002_passwordreset_ttl.cql" {
		t.Errorf("failed script = %q, want 002_passwordreset_ttl.cql", merr.Script)
	}

	rows, _ := store.Requests(context.Background())
	if len(rows) != 1 || !rows[0].Failed || rows[0].InProgress {
		t.Errorf("request row not marked failed: %+v", rows)
	}
	history, _ := store.History(context.Background(), "002_passwordreset_ttl.cql")
	latest, ok := latestEntry(history)
	if !ok || latest.Run || !latest.Failed || latest.Error == "" {
		t.Errorf("history not marked failed: %+v", latest)
	}
}

func TestNextCallerReapsFailureAndRetries(t *testing.T) {
	dir := testSchemaDir(t)
	store := NewMemStore()
	store.FailPattern = "passwordreset"
	execs := newExecCounter()

	c1 := testCoordinator(store, dir)
	c1.OnExec = execs.hook
	if err := c1.RequestMigration(context.Background()); err == nil {
		t.Fatal("first run succeeded, want failure")
	}

	store.FailPattern = ""
	c2 := testCoordinator(store, dir)
	c2.OnExec = execs.hook
	if err := c2.RequestMigration(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if got := execs.count("001_sessionkeys_sessionid_index.cql"); got != 1 {
		t.Errorf("001 executed %d times, want 1", got)
	}
	if got := execs.count("002_passwordreset_ttl.cql"); got != 2 {
		t.Errorf("002 executed %d times, want 2 (one failure, one success)", got)
	}
	rows, _ := store.Requests(context.Background())
	if len(rows) != 0 {
		t.Errorf("request table not drained: %v", rows)
	}
}

func TestWaiterTakesOverWhenMigratorFails(t *testing.T) {
	dir := testSchemaDir(t)
	store := NewMemStore()

	// A live migrator holds the table, then reports failure while the
	// waiter is polling.
	doomed := Request{ReqID: uuid.New(), ReqTime: time.Now(), InProgress: true, LastUpdate: time.Now()}
	if err := store.InsertRequest(context.Background(), doomed); err != nil {
		t.Fatalf("seeding request: %v", err)
	}
	go func() {
		time.Sleep(25 * time.Millisecond)
		doomed.InProgress = false
		doomed.Failed = true
		_ = store.UpdateRequest(context.Background(), doomed)
	}()

	execs := newExecCounter()
	c := testCoordinator(store, dir)
	c.OnExec = execs.hook
	if err := c.RequestMigration(context.Background()); err != nil {
		t.Fatalf("RequestMigration: %v", err)
	}
	if execs.total() != 4 {
		t.Errorf("executed %d files, want 4", execs.total())
	}
}

func TestWaiterHonorsContextCancellation(t *testing.T) {
	dir := testSchemaDir(t)
	store := NewMemStore()

	// Another node is migrating and stays healthy for the whole test.
	busy := Request{ReqID: uuid.New(), ReqTime: time.Now(), InProgress: true, LastUpdate: time.Now()}
	if err := store.InsertRequest(context.Background(), busy); err != nil {
		t.Fatalf("seeding request: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c := testCoordinator(store, dir)
	err := c.RequestMigration(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
}

// flakyStore simulates a creation that times out on the client but lands on
// the server, the way a concurrent creator shows up.
type flakyStore struct {
	*MemStore
}

func (s *flakyStore) ExecCQL(ctx context.Context, cql string) error {
	if err := s.MemStore.ExecCQL(ctx, cql); err != nil {
		return err
	}
	if createTableRE.MatchString(cql) {
		return errors.New("write timeout")
	}
	return nil
}

func TestBaselineToleratesConcurrentCreator(t *testing.T) {
	dir := testSchemaDir(t)
	store := &flakyStore{MemStore: NewMemStore()}

	c := testCoordinator(store, dir)
	if err := c.RequestMigration(context.Background()); err != nil {
		t.Fatalf("RequestMigration: %v", err)
	}
	rows, _ := store.Requests(context.Background())
	if len(rows) != 0 {
		t.Errorf("request table not drained: %v", rows)
	}
}

func TestElectWinnerOrdering(t *testing.T) {
	early := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Second)
	a := Request{ReqID: uuid.MustParse("00000000-0000-4000-8000-000000000001"), ReqTime: late}
	b := Request{ReqID: uuid.MustParse("00000000-0000-4000-8000-000000000002"), ReqTime: early}
	c := Request{ReqID: uuid.MustParse("00000000-0000-4000-8000-000000000003"), ReqTime: early}

	winner, ok := electWinner([]Request{a, b, c})
	if !ok {
		t.Fatal("no winner from non-empty set")
	}
	if winner.ReqID != b.ReqID {
		t.Errorf("winner = %s, want %s (earliest reqtime, lowest uuid)", winner.ReqID, b.ReqID)
	}

	if _, ok := electWinner(nil); ok {
		t.Error("winner reported for empty set")
	}
}

func TestIsStale(t *testing.T) {
	now := time.Now()
	cutoff := now.Add(-time.Minute)
	cases := []struct {
		name string
		req  Request
		want bool
	}{
		{"failed is always stale", Request{Failed: true, ReqTime: now, LastUpdate: now}, true},
		{"fresh pending", Request{ReqTime: now, LastUpdate: now}, false},
		{"abandoned pending", Request{ReqTime: now.Add(-2 * time.Minute), LastUpdate: now.Add(-2 * time.Minute)}, true},
		{"fresh inprogress", Request{InProgress: true, ReqTime: now.Add(-2 * time.Minute), LastUpdate: now}, false},
		{"stalled inprogress", Request{InProgress: true, ReqTime: now, LastUpdate: now.Add(-2 * time.Minute)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isStale(tc.req, cutoff); got != tc.want {
				t.Errorf("isStale = %v, want %v", got, tc.want)
			}
		})
	}
}
