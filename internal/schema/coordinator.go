package schema

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultSettle is how long a candidate waits after inserting its
	// request row before re-reading the table to pick the winner. It must
	// exceed the replication lag of the coordination keyspace.
	DefaultSettle = 2 * time.Second

	// DefaultPollInterval is the waiter's polling cadence.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultStaleAfter is the age beyond which an untouched request row
	// is presumed abandoned and may be reaped.
	DefaultStaleAfter = time.Minute
)

// Options tune the coordinator's timing. Zero values fall back to the
// package defaults.
type Options struct {
	Settle       time.Duration
	PollInterval time.Duration
	StaleAfter   time.Duration
	Logger       *slog.Logger
}

// Coordinator elects one migrator per keyspace among concurrently starting
// nodes and runs the catalog's scripts on the winner while everyone else
// waits for the request table to drain.
type Coordinator struct {
	store    Store
	catalog  *Catalog
	keyspace string
	settle   time.Duration
	poll     time.Duration
	stale    time.Duration
	logger   *slog.Logger

	// OnExec, when set, is invoked with the script file name just before
	// each CQL execution. Tests use it to count how often a file runs.
	OnExec func(script string)

	// OnApplied, when set, is invoked after each successfully executed
	// script with the elapsed execution time.
	OnApplied func(script string, elapsed time.Duration)

	// OnElection, when set, is invoked after every election round with
	// whether this node won.
	OnElection func(won bool)

	now func() time.Time
}

// New returns a coordinator for one keyspace.
func New(store Store, catalog *Catalog, keyspace string, opts Options) *Coordinator {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    store,
		catalog:  catalog,
		keyspace: keyspace,
		settle:   opts.Settle,
		poll:     opts.PollInterval,
		stale:    opts.StaleAfter,
		logger:   logger.With("component", "schema-coordinator", "keyspace", keyspace),
		now:      time.Now,
	}
}

// RequestMigration brings the keyspace schema up to date. It returns once
// the schema is current, whether this node performed the work or another
// node did. A waiter that observes the migrator fail or stall nominates
// itself and re-enters the election.
func (c *Coordinator) RequestMigration(ctx context.Context) error {
	for {
		won, req, err := c.elect(ctx)
		if err != nil {
			return err
		}
		if c.OnElection != nil {
			c.OnElection(won)
		}
		if won {
			return c.runMigration(ctx, req)
		}
		retry, err := c.waitForCompletion(ctx)
		if err != nil {
			return err
		}
		if !retry {
			return nil
		}
		c.logger.Info("re-entering migration election")
	}
}

// elect reaps stale request rows, then either defers to a live migrator or
// nominates this node. The winner is the row with the smallest (reqtime,
// reqid) pair after the settle window.
func (c *Coordinator) elect(ctx context.Context) (bool, Request, error) {
	live, err := c.reapStale(ctx)
	if err != nil {
		return false, Request{}, err
	}
	if len(live) > 0 {
		c.logger.Info("another node is migrating the schema, waiting", "requests", len(live))
		return false, Request{}, nil
	}

	now := c.now().Truncate(time.Millisecond)
	req := Request{ReqID: uuid.New(), ReqTime: now, LastUpdate: now}
	if err := c.store.InsertRequest(ctx, req); err != nil {
		return false, Request{}, fmt.Errorf("inserting migration request: %w", err)
	}

	// Let concurrent candidates land their rows before deciding.
	time.Sleep(c.settle)

	rows, err := c.store.Requests(ctx)
	if err != nil {
		return false, Request{}, fmt.Errorf("reading migration requests: %w", err)
	}
	winner, ok := electWinner(rows)
	if ok && winner.ReqID == req.ReqID {
		c.logger.Info("won migration election", "reqid", req.ReqID)
		return true, req, nil
	}

	c.logger.Info("lost migration election, waiting", "reqid", req.ReqID, "winner", winner.ReqID)
	if err := c.store.DeleteRequest(ctx, req.ReqID); err != nil {
		return false, Request{}, fmt.Errorf("withdrawing migration request: %w", err)
	}
	return false, req, nil
}

// reapStale deletes abandoned request rows and returns the live remainder.
// Deletions are best effort; a node that cannot reap still proceeds.
func (c *Coordinator) reapStale(ctx context.Context) ([]Request, error) {
	rows, err := c.store.Requests(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading migration requests: %w", err)
	}
	cutoff := c.now().Add(-c.stale)
	var live []Request
	for _, r := range rows {
		if !isStale(r, cutoff) {
			live = append(live, r)
			continue
		}
		c.logger.Warn("reaping stale migration request",
			"reqid", r.ReqID, "reqtime", r.ReqTime, "inprogress", r.InProgress, "failed", r.Failed)
		if err := c.store.DeleteRequest(ctx, r.ReqID); err != nil {
			c.logger.Warn("failed to reap stale migration request", "reqid", r.ReqID, "error", err)
		}
	}
	return live, nil
}

func isStale(r Request, cutoff time.Time) bool {
	if r.Failed {
		return true
	}
	if r.InProgress {
		return r.LastUpdate.Before(cutoff)
	}
	return r.ReqTime.Before(cutoff)
}

// electWinner orders requests by reqtime with the raw UUID bytes breaking
// ties, and returns the first.
func electWinner(rows []Request) (Request, bool) {
	if len(rows) == 0 {
		return Request{}, false
	}
	sorted := make([]Request, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].ReqTime.Equal(sorted[j].ReqTime) {
			return sorted[i].ReqTime.Before(sorted[j].ReqTime)
		}
		return bytes.Compare(sorted[i].ReqID[:], sorted[j].ReqID[:]) < 0
	})
	return sorted[0], true
}

// runMigration executes the catalog on the winning node. Any failure marks
// the request row failed so waiters can spot it and take over.
func (c *Coordinator) runMigration(ctx context.Context, req Request) (err error) {
	defer func() {
		if err == nil {
			return
		}
		req.InProgress = false
		req.Failed = true
		req.LastUpdate = c.now()
		if uerr := c.store.UpdateRequest(ctx, req); uerr != nil {
			c.logger.Error("failed to mark migration request failed", "reqid", req.ReqID, "error", uerr)
		}
	}()

	req.InProgress = true
	req.LastUpdate = c.now()
	if err = c.store.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("claiming migration request: %w", err)
	}

	baselines, err := c.catalog.Baselines(c.keyspace)
	if err != nil {
		return fmt.Errorf("listing baseline scripts: %w", err)
	}
	for _, path := range baselines {
		if err = c.applyBaseline(ctx, path); err != nil {
			return err
		}
		if err = c.touch(ctx, &req); err != nil {
			return err
		}
	}

	scripts, err := c.catalog.Migrations(c.keyspace)
	if err != nil {
		return fmt.Errorf("listing migration scripts: %w", err)
	}
	for _, path := range scripts {
		if err = c.applyScript(ctx, path); err != nil {
			return err
		}
		if err = c.touch(ctx, &req); err != nil {
			return err
		}
	}

	if err = c.store.DeleteRequest(ctx, req.ReqID); err != nil {
		return fmt.Errorf("completing migration request: %w", err)
	}
	c.logger.Info("schema migration complete", "baselines", len(baselines), "migrations", len(scripts))
	return nil
}

// touch refreshes lastupdate so waiters know the migrator is alive.
func (c *Coordinator) touch(ctx context.Context, req *Request) error {
	req.LastUpdate = c.now()
	if err := c.store.UpdateRequest(ctx, *req); err != nil {
		return fmt.Errorf("refreshing migration request: %w", err)
	}
	return nil
}

// applyBaseline creates one table unless it already exists. A creation
// error is forgiven when the table turns out to exist afterwards, which
// happens when a competing node slipped past the election.
func (c *Coordinator) applyBaseline(ctx context.Context, path string) error {
	name := filepath.Base(path)
	table := TableName(path)
	exists, err := c.store.TableExists(ctx, table)
	if err != nil {
		return &MigrationError{Script: name, Err: err}
	}
	if exists {
		c.logger.Debug("baseline table exists, skipping", "table", table)
		return nil
	}
	cql, err := os.ReadFile(path)
	if err != nil {
		return &MigrationError{Script: name, Err: err}
	}
	if c.OnExec != nil {
		c.OnExec(name)
	}
	start := time.Now()
	if execErr := c.store.ExecCQL(ctx, string(cql)); execErr != nil {
		if exists, err := c.store.TableExists(ctx, table); err == nil && exists {
			c.logger.Warn("baseline table appeared concurrently, continuing", "table", table)
			return nil
		}
		return &MigrationError{Script: name, Err: execErr}
	}
	if c.OnApplied != nil {
		c.OnApplied(name, time.Since(start))
	}
	c.logger.Info("baseline applied", "table", table)
	return nil
}

// applyScript runs one migration file unless its latest history row says it
// already ran. The attempt is recorded before execution and its outcome
// written afterwards, so a crash leaves a provisional row that a later
// migrator retries.
func (c *Coordinator) applyScript(ctx context.Context, path string) error {
	name := filepath.Base(path)
	history, err := c.store.History(ctx, name)
	if err != nil {
		return &MigrationError{Script: name, Err: err}
	}
	if latest, ok := latestEntry(history); ok && latest.Run && !latest.Failed {
		c.logger.Debug("migration already applied, skipping", "script", name)
		return nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return &MigrationError{Script: name, Err: err}
	}
	entry := HistoryEntry{
		ScriptName: name,
		Time:       c.now().Truncate(time.Millisecond),
		Content:    string(content),
	}
	if err := c.store.InsertHistory(ctx, entry); err != nil {
		return &MigrationError{Script: name, Err: err}
	}
	if c.OnExec != nil {
		c.OnExec(name)
	}
	start := time.Now()
	if execErr := c.store.ExecCQL(ctx, string(content)); execErr != nil {
		if merr := c.store.MarkHistory(ctx, name, entry.Time, false, true, execErr.Error()); merr != nil {
			c.logger.Error("failed to record migration failure", "script", name, "error", merr)
		}
		return &MigrationError{Script: name, Err: execErr}
	}
	if err := c.store.MarkHistory(ctx, name, entry.Time, true, false, ""); err != nil {
		return &MigrationError{Script: name, Err: err}
	}
	if c.OnApplied != nil {
		c.OnApplied(name, time.Since(start))
	}
	c.logger.Info("migration applied", "script", name)
	return nil
}

func latestEntry(history []HistoryEntry) (HistoryEntry, bool) {
	if len(history) == 0 {
		return HistoryEntry{}, false
	}
	latest := history[0]
	for _, e := range history[1:] {
		if e.Time.After(latest.Time) {
			latest = e
		}
	}
	return latest, true
}

// waitForCompletion polls the request table until it drains. It reports
// retry=true when the migrator failed or went quiet, in which case the
// caller re-enters the election. Waiters never reap rows themselves; that
// is the reaper's job at election start.
func (c *Coordinator) waitForCompletion(ctx context.Context) (retry bool, err error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		rows, err := c.store.Requests(ctx)
		if err != nil {
			return false, fmt.Errorf("reading migration requests: %w", err)
		}
		if len(rows) == 0 {
			c.logger.Info("schema migration finished on another node")
			return false, nil
		}
		cutoff := c.now().Add(-c.stale)
		for _, r := range rows {
			if isStale(r, cutoff) {
				c.logger.Warn("migrator failed or stalled",
					"reqid", r.ReqID, "inprogress", r.InProgress, "failed", r.Failed)
				return true, nil
			}
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
